package etcd

import "strings"

const defaultAppName = "node-lease-manager"

// basePath is the root under which this service keeps its keys,
// /config/<app>.
func basePath(appName string) string {
	appName = strings.TrimSpace(appName)
	if appName == "" {
		appName = defaultAppName
	}
	return "/config/" + appName
}

func nodesPrefix(appName string) string {
	return basePath(appName) + "/nodes/"
}

func nodeKey(appName, name string) string {
	return nodesPrefix(appName) + strings.TrimSpace(name)
}

func nameFromKey(appName, key string) string {
	return strings.TrimPrefix(key, nodesPrefix(appName))
}
