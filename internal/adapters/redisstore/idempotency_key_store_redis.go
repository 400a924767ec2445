package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/data/models"
	nlerrors "github.com/Meesho/BharatMLStack/node-lease-manager/internal/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const defaultIdempotencyTTL = 24 * time.Hour

// RedisIdempotencyKeyStore relies on key expiry to drop old responses.
type RedisIdempotencyKeyStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisIdempotencyKeyStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisIdempotencyKeyStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return &RedisIdempotencyKeyStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisIdempotencyKeyStore) Get(ctx context.Context, scope, key string) (*models.IdempotencyRecord, error) {
	raw, err := s.client.Get(ctx, s.key(scope, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, nlerrors.Unavailable(err)
	}
	var record models.IdempotencyRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	log.Info().Str("scope", scope).Str("idempotency_key", key).Msg("idempotency hit in redis")
	return &record, nil
}

func (s *RedisIdempotencyKeyStore) Put(ctx context.Context, scope, key string, record models.IdempotencyRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(scope, key), raw, s.ttl).Err(); err != nil {
		return nlerrors.Unavailable(err)
	}
	return nil
}

func (s *RedisIdempotencyKeyStore) key(scope, key string) string {
	return s.prefix + ":idempotency:" + strings.ToLower(strings.TrimSpace(scope)) + ":" + strings.TrimSpace(key)
}
