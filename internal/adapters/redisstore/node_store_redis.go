package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/data/models"
	nlerrors "github.com/Meesho/BharatMLStack/node-lease-manager/internal/errors"
	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/lease"
	"github.com/juju/clock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	defaultKeyPrefix      = "nlm"
	defaultMaxCASAttempts = 8
)

type transition func(current models.Node, now time.Time) (models.Node, bool, error)

// RedisNodeStore stores each node as a JSON string at <prefix>:node:<name>
// and tracks membership in the set <prefix>:nodes. Writes run under
// WATCH/MULTI so a concurrent change aborts the transaction.
type RedisNodeStore struct {
	client      redis.UniversalClient
	clock       clock.Clock
	prefix      string
	maxAttempts int
}

func NewRedisNodeStore(client redis.UniversalClient, clk clock.Clock, prefix string) *RedisNodeStore {
	if clk == nil {
		clk = clock.WallClock
	}
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisNodeStore{
		client:      client,
		clock:       clk,
		prefix:      prefix,
		maxAttempts: defaultMaxCASAttempts,
	}
}

func (s *RedisNodeStore) Register(ctx context.Context, name string, attributes map[string]any) (models.Node, error) {
	key := s.nodeKey(name)
	var created models.Node
	err := s.watch(ctx, name, key, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return nlerrors.Unavailable(err)
		}
		if exists > 0 {
			return nlerrors.ErrAlreadyExists
		}
		node := lease.New(name, attributes, s.clock.Now())
		raw, err := json.Marshal(node)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			pipe.SAdd(ctx, s.indexKey(), name)
			return nil
		})
		if err != nil {
			return err
		}
		created = node
		return nil
	})
	if err != nil {
		return models.Node{}, err
	}
	return created, nil
}

func (s *RedisNodeStore) Remove(ctx context.Context, name string) error {
	key := s.nodeKey(name)
	return s.watch(ctx, name, key, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return nlerrors.Unavailable(err)
		}
		if exists == 0 {
			return nlerrors.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, s.indexKey(), name)
			return nil
		})
		return err
	})
}

func (s *RedisNodeStore) Get(ctx context.Context, name string) (models.Node, error) {
	node, _, err := s.mutate(ctx, name, reconcile)
	return node, err
}

func (s *RedisNodeStore) List(ctx context.Context) ([]models.Node, error) {
	names, err := s.names(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]models.Node, 0, len(names))
	for _, name := range names {
		node, _, err := s.mutate(ctx, name, reconcile)
		if errors.Is(err, nlerrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, node)
	}
	return result, nil
}

func (s *RedisNodeStore) Acquire(ctx context.Context, name, holder string, expiresAt time.Time) (models.Node, error) {
	node, _, err := s.mutate(ctx, name, func(current models.Node, now time.Time) (models.Node, bool, error) {
		updated, err := lease.Grant(current, holder, expiresAt, now)
		return updated, err == nil, err
	})
	return node, err
}

func (s *RedisNodeStore) Release(ctx context.Context, name string) (models.Node, error) {
	node, _, err := s.mutate(ctx, name, func(current models.Node, now time.Time) (models.Node, bool, error) {
		return lease.Free(current, now), true, nil
	})
	return node, err
}

func (s *RedisNodeStore) Sweep(ctx context.Context) (int, error) {
	names, err := s.names(ctx)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, name := range names {
		_, changed, err := s.mutate(ctx, name, reconcile)
		if errors.Is(err, nlerrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return released, err
		}
		if changed {
			released++
		}
	}
	return released, nil
}

// Ping reports whether the Redis server answers.
func (s *RedisNodeStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisNodeStore) mutate(ctx context.Context, name string, fn transition) (models.Node, bool, error) {
	key := s.nodeKey(name)
	var (
		result  models.Node
		changed bool
	)
	err := s.watch(ctx, name, key, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nlerrors.ErrNotFound
		}
		if err != nil {
			return nlerrors.Unavailable(err)
		}
		var current models.Node
		if err := json.Unmarshal(raw, &current); err != nil {
			return fmt.Errorf("invalid node record at %s: %w", key, err)
		}
		updated, dirty, err := fn(current, s.clock.Now())
		if err != nil {
			return err
		}
		if dirty {
			encoded, err := json.Marshal(updated)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				return nil
			})
			if err != nil {
				return err
			}
		}
		result, changed = updated, dirty
		return nil
	})
	if err != nil {
		return models.Node{}, false, err
	}
	return result, changed, nil
}

// watch runs fn under WATCH key and retries when another client touched the
// key before EXEC.
func (s *RedisNodeStore) watch(ctx context.Context, name, key string, fn func(tx *redis.Tx) error) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err := s.client.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			log.Debug().Str("name", name).Int("attempt", attempt).Msg("redis transaction aborted by concurrent write, retrying")
			continue
		}
		if err != nil && !isDomainError(err) {
			return nlerrors.Unavailable(err)
		}
		return err
	}
	return nlerrors.Unavailable(fmt.Errorf("%w after %d attempts on %s", nlerrors.ErrCASConflict, s.maxAttempts, name))
}

func (s *RedisNodeStore) names(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, nlerrors.Unavailable(err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *RedisNodeStore) nodeKey(name string) string {
	return s.prefix + ":node:" + name
}

func (s *RedisNodeStore) indexKey() string {
	return s.prefix + ":nodes"
}

func isDomainError(err error) bool {
	return nlerrors.Kind(err) != "Internal"
}

func reconcile(current models.Node, now time.Time) (models.Node, bool, error) {
	updated, changed := lease.Reconcile(current, now)
	return updated, changed, nil
}
