package app

import (
	"context"
	"fmt"

	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/adapters/dynamo"
	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/adapters/etcd"
	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/adapters/memory"
	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/adapters/redisq"
	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/adapters/redisstore"
	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/api"
	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/application"
	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/ports"
	nltypes "github.com/Meesho/BharatMLStack/node-lease-manager/internal/types"
	"github.com/Meesho/BharatMLStack/node-lease-manager/pkg/config"
	"github.com/juju/clock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Components is everything a running server needs, built from one Env.
type Components struct {
	Nodes   *application.NodeService
	Handler *api.Handler
	Sweeper *application.Sweeper

	closers []func() error
}

// Close releases backend connections in reverse order of creation.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			log.Warn().Err(err).Msg("failed to close backend connection")
		}
	}
	c.closers = nil
}

type backend struct {
	store       ports.NodeStore
	idempotency ports.IdempotencyKeyStore
	lock        ports.SweepLock
}

// Build selects the node store named by env.StoreBackend and wires the
// service, HTTP handler and sweeper around it.
func Build(ctx context.Context, env config.Env, clk clock.Clock) (*Components, error) {
	if clk == nil {
		clk = clock.WallClock
	}
	components := &Components{}

	var redisClient redis.UniversalClient
	redisClientFor := func() redis.UniversalClient {
		if redisClient == nil {
			redisClient = redis.NewUniversalClient(&redis.UniversalOptions{
				Addrs:    []string{env.RedisAddr},
				Password: env.RedisPassword,
				DB:       env.RedisDB,
			})
			components.closers = append(components.closers, redisClient.Close)
		}
		return redisClient
	}

	b, err := buildBackend(ctx, env, clk, components, redisClientFor)
	if err != nil {
		components.Close()
		return nil, err
	}

	var publisher ports.EventPublisher
	switch env.EventPublisher {
	case config.EventPublisherMemory:
		publisher = redisq.NewInMemoryPublisher()
	case config.EventPublisherRedis:
		publisher = redisq.NewRedisPublisher(redisClientFor(), env.EventChannel)
	default:
		publisher = redisq.NopPublisher{}
	}

	components.Nodes = application.NewNodeService(b.store, publisher, clk, env.StoreBackend)
	components.Handler = api.NewHandler(components.Nodes, b.idempotency, env.StoreTimeout)
	components.Sweeper = application.NewSweeper(components.Nodes, clk, env.SweepInterval, b.lock)

	log.Info().
		Str("backend", string(env.StoreBackend)).
		Str("publisher", env.EventPublisher).
		Dur("sweep_interval", env.SweepInterval).
		Msg("node lease manager wired")
	return components, nil
}

func buildBackend(ctx context.Context, env config.Env, clk clock.Clock, components *Components, redisClientFor func() redis.UniversalClient) (backend, error) {
	switch env.StoreBackend {
	case nltypes.StoreBackendMemory:
		return backend{
			store:       memory.NewNodeStore(clk),
			idempotency: memory.NewIdempotencyKeyStore(clk, env.IdempotencyTTL),
		}, nil

	case nltypes.StoreBackendEtcd:
		log.Info().Strs("endpoints", env.EtcdEndpoints).Dur("etcd_timeout", env.EtcdTimeout).Msg("initializing etcd-backed stores")
		client, err := etcd.NewClient(etcd.ClientConfig{
			Endpoints: env.EtcdEndpoints,
			Username:  env.EtcdUsername,
			Password:  env.EtcdPassword,
			Timeout:   env.EtcdTimeout,
		})
		if err != nil {
			return backend{}, fmt.Errorf("etcd client: %w", err)
		}
		components.closers = append(components.closers, client.Close)
		return backend{
			store:       etcd.NewEtcdNodeStore(client.Raw(), clk, env.AppName),
			idempotency: etcd.NewEtcdIdempotencyKeyStore(client.Raw(), env.AppName, env.IdempotencyTTL),
		}, nil

	case nltypes.StoreBackendRedis:
		log.Info().Str("addr", env.RedisAddr).Int("db", env.RedisDB).Msg("initializing redis-backed stores")
		client := redisClientFor()
		return backend{
			store:       redisstore.NewRedisNodeStore(client, clk, env.RedisKeyPrefix),
			idempotency: redisstore.NewRedisIdempotencyKeyStore(client, env.RedisKeyPrefix, env.IdempotencyTTL),
			lock:        redisstore.NewSweepLock(client, env.RedisKeyPrefix, env.SweepInterval),
		}, nil

	case nltypes.StoreBackendDynamoDB:
		log.Info().Str("table", env.TableName).Str("region", env.AWSRegion).Msg("initializing dynamodb-backed store")
		client, err := dynamo.NewClient(ctx, dynamo.ClientConfig{
			Region:   env.AWSRegion,
			Endpoint: env.DynamoEndpoint,
		})
		if err != nil {
			return backend{}, fmt.Errorf("dynamodb client: %w", err)
		}
		return backend{
			store:       dynamo.NewDynamoNodeStore(client, clk, env.TableName),
			idempotency: memory.NewIdempotencyKeyStore(clk, env.IdempotencyTTL),
		}, nil

	default:
		return backend{}, fmt.Errorf("unsupported store backend %q", env.StoreBackend)
	}
}
