package config

import (
	"testing"
	"time"

	nltypes "github.com/Meesho/BharatMLStack/node-lease-manager/internal/types"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	env, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 8080, env.AppPort)
	assert.Equal(t, nltypes.StoreBackendMemory, env.StoreBackend)
	assert.Equal(t, 300*time.Second, env.SweepInterval)
	assert.Equal(t, 5*time.Second, env.StoreTimeout)
	assert.Equal(t, 24*time.Hour, env.IdempotencyTTL)
	assert.Equal(t, EventPublisherNone, env.EventPublisher)
	assert.Equal(t, []string{"*"}, env.CORSAllowedOrigins)
	assert.Empty(t, env.SeedNodes)
}

func TestLoadOverrides(t *testing.T) {
	v := viper.New()
	v.Set("APP_PORT", "9090")
	v.Set("NODE_STORE_BACKEND", " DynamoDB ")
	v.Set("SWEEP_INTERVAL_SECONDS", "60")
	v.Set("ETCD_ENDPOINTS", "http://a:2379, http://b:2379")
	v.Set("SEED_NODES", "gpu-1,gpu-2,,")
	v.Set("EVENT_PUBLISHER", "Redis")
	v.Set("APP_LOG_LEVEL", "debug")

	env, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 9090, env.AppPort)
	assert.Equal(t, nltypes.StoreBackendDynamoDB, env.StoreBackend)
	assert.Equal(t, time.Minute, env.SweepInterval)
	assert.Equal(t, []string{"http://a:2379", "http://b:2379"}, env.EtcdEndpoints)
	assert.Equal(t, []string{"gpu-1", "gpu-2"}, env.SeedNodes)
	assert.Equal(t, EventPublisherRedis, env.EventPublisher)
	assert.Equal(t, "DEBUG", env.AppLogLevel)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"APP_PORT":                 "-1",
		"NODE_STORE_BACKEND":       "cassandra",
		"STORE_TIMEOUT_MS":         "0",
		"SWEEP_INTERVAL_SECONDS":   "-5",
		"IDEMPOTENCY_TTL_SECONDS":  "0",
		"EVENT_PUBLISHER":          "kafka",
		"APP_METRIC_SAMPLING_RATE": "2",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			v := viper.New()
			v.Set(key, value)
			_, err := Load(v)
			assert.Error(t, err)
		})
	}
}
