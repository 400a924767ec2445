package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	nltypes "github.com/Meesho/BharatMLStack/node-lease-manager/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	EventPublisherNone   = "none"
	EventPublisherMemory = "memory"
	EventPublisherRedis  = "redis"
)

type Env struct {
	AppPort               int
	AppName               string
	AppLogLevel           string
	AppEnv                string
	AppMetricSamplingRate float64
	TelegrafAddress       string

	StoreBackend   nltypes.StoreBackend
	StoreTimeout   time.Duration
	TableName      string
	AWSRegion      string
	DynamoEndpoint string

	EtcdEndpoints []string
	EtcdUsername  string
	EtcdPassword  string
	EtcdTimeout   time.Duration

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	SweepInterval      time.Duration
	IdempotencyTTL     time.Duration
	EventPublisher     string
	EventChannel       string
	CORSAllowedOrigins []string
	SeedNodes          []string
}

var (
	initialized bool
	once        sync.Once
	instance    Env
	initError   error
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", 8080)
	v.SetDefault("APP_NAME", "node-lease-manager")
	v.SetDefault("APP_LOG_LEVEL", "INFO")
	v.SetDefault("APP_METRIC_SAMPLING_RATE", 1.0)
	v.SetDefault("TELEGRAF_ADDRESS", "localhost:8125")
	v.SetDefault("NODE_STORE_BACKEND", string(nltypes.StoreBackendMemory))
	v.SetDefault("NODE_STORE_TABLE_NAME", "nodes")
	v.SetDefault("STORE_TIMEOUT_MS", 5000)
	v.SetDefault("ETCD_ENDPOINTS", "127.0.0.1:2379")
	v.SetDefault("ETCD_TIMEOUT_SECONDS", 5)
	v.SetDefault("REDIS_ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "nlm")
	v.SetDefault("SWEEP_INTERVAL_SECONDS", 300)
	v.SetDefault("IDEMPOTENCY_TTL_SECONDS", 24*60*60)
	v.SetDefault("EVENT_PUBLISHER", EventPublisherNone)
	v.SetDefault("EVENT_CHANNEL", "node-lease-events")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
}

// Load reads the environment through v and validates it. Tests pass their
// own viper instance; InitEnv uses the global one.
func Load(v *viper.Viper) (Env, error) {
	setDefaults(v)

	port := v.GetInt("APP_PORT")
	if port <= 0 {
		return Env{}, fmt.Errorf("invalid APP_PORT: %q", v.GetString("APP_PORT"))
	}

	backend := v.GetString("NODE_STORE_BACKEND")
	if !nltypes.IsSupportedStoreBackend(backend) {
		return Env{}, fmt.Errorf("invalid NODE_STORE_BACKEND: %q", backend)
	}

	storeTimeoutMs := v.GetInt("STORE_TIMEOUT_MS")
	if storeTimeoutMs <= 0 {
		return Env{}, fmt.Errorf("invalid STORE_TIMEOUT_MS: %q", v.GetString("STORE_TIMEOUT_MS"))
	}

	etcdTimeout := v.GetInt("ETCD_TIMEOUT_SECONDS")
	if etcdTimeout <= 0 {
		return Env{}, fmt.Errorf("invalid ETCD_TIMEOUT_SECONDS: %q", v.GetString("ETCD_TIMEOUT_SECONDS"))
	}

	sweepSeconds := v.GetInt("SWEEP_INTERVAL_SECONDS")
	if sweepSeconds < 0 {
		return Env{}, fmt.Errorf("invalid SWEEP_INTERVAL_SECONDS: %q", v.GetString("SWEEP_INTERVAL_SECONDS"))
	}

	idempotencyTTL := v.GetInt64("IDEMPOTENCY_TTL_SECONDS")
	if idempotencyTTL <= 0 {
		return Env{}, fmt.Errorf("invalid IDEMPOTENCY_TTL_SECONDS: %q", v.GetString("IDEMPOTENCY_TTL_SECONDS"))
	}

	publisher := strings.ToLower(strings.TrimSpace(v.GetString("EVENT_PUBLISHER")))
	switch publisher {
	case EventPublisherNone, EventPublisherMemory, EventPublisherRedis:
	default:
		return Env{}, fmt.Errorf("invalid EVENT_PUBLISHER: %q", publisher)
	}

	samplingRate := v.GetFloat64("APP_METRIC_SAMPLING_RATE")
	if samplingRate < 0 || samplingRate > 1 {
		return Env{}, fmt.Errorf("invalid APP_METRIC_SAMPLING_RATE: %q", v.GetString("APP_METRIC_SAMPLING_RATE"))
	}

	return Env{
		AppPort:               port,
		AppName:               strings.TrimSpace(v.GetString("APP_NAME")),
		AppLogLevel:           strings.ToUpper(strings.TrimSpace(v.GetString("APP_LOG_LEVEL"))),
		AppEnv:                strings.TrimSpace(v.GetString("APP_ENV")),
		AppMetricSamplingRate: samplingRate,
		TelegrafAddress:       strings.TrimSpace(v.GetString("TELEGRAF_ADDRESS")),

		StoreBackend:   nltypes.NormalizeStoreBackend(backend),
		StoreTimeout:   time.Duration(storeTimeoutMs) * time.Millisecond,
		TableName:      strings.TrimSpace(v.GetString("NODE_STORE_TABLE_NAME")),
		AWSRegion:      strings.TrimSpace(v.GetString("AWS_REGION")),
		DynamoEndpoint: strings.TrimSpace(v.GetString("DYNAMODB_ENDPOINT")),

		EtcdEndpoints: splitList(v.GetString("ETCD_ENDPOINTS")),
		EtcdUsername:  strings.TrimSpace(v.GetString("ETCD_USERNAME")),
		EtcdPassword:  v.GetString("ETCD_PASSWORD"),
		EtcdTimeout:   time.Duration(etcdTimeout) * time.Second,

		RedisAddr:      strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:  v.GetString("REDIS_PASSWORD"),
		RedisDB:        v.GetInt("REDIS_DB"),
		RedisKeyPrefix: strings.TrimSpace(v.GetString("REDIS_KEY_PREFIX")),

		SweepInterval:      time.Duration(sweepSeconds) * time.Second,
		IdempotencyTTL:     time.Duration(idempotencyTTL) * time.Second,
		EventPublisher:     publisher,
		EventChannel:       strings.TrimSpace(v.GetString("EVENT_CHANNEL")),
		CORSAllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		SeedNodes:          splitList(v.GetString("SEED_NODES")),
	}, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func InitEnv() {
	if initialized {
		log.Debug().Msg("Env already initialized!")
		return
	}
	once.Do(func() {
		viper.AutomaticEnv()
		instance, initError = Load(viper.GetViper())
		if initError != nil {
			log.Panic().Err(initError).Msg("failed to load env")
		}
		initialized = true
		log.Info().Msg("Env initialized!")
	})
}

func Instance() Env {
	InitEnv()
	if initError != nil {
		panic(initError)
	}
	return instance
}
