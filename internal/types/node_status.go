package types

import "strings"

type NodeStatus string

const (
	NodeStatusAvailable NodeStatus = "available"
	NodeStatusReserved  NodeStatus = "reserved"
)

func (s NodeStatus) IsValid() bool {
	return s == NodeStatusAvailable || s == NodeStatusReserved
}

type StoreBackend string

const (
	StoreBackendMemory   StoreBackend = "memory"
	StoreBackendEtcd     StoreBackend = "etcd"
	StoreBackendRedis    StoreBackend = "redis"
	StoreBackendDynamoDB StoreBackend = "dynamodb"
)

func NormalizeStoreBackend(backend string) StoreBackend {
	return StoreBackend(strings.ToLower(strings.TrimSpace(backend)))
}

func IsSupportedStoreBackend(backend string) bool {
	switch NormalizeStoreBackend(backend) {
	case StoreBackendMemory, StoreBackendEtcd, StoreBackendRedis, StoreBackendDynamoDB:
		return true
	}
	return false
}

// EventType names a node transition announced to subscribers.
type EventType string

const (
	EventRegistered EventType = "REGISTERED"
	EventRemoved    EventType = "REMOVED"
	EventAcquired   EventType = "ACQUIRED"
	EventReleased   EventType = "RELEASED"
	EventSwept      EventType = "SWEPT"
)
