package etcd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/data/models"
	nlerrors "github.com/Meesho/BharatMLStack/node-lease-manager/internal/errors"
	"github.com/rs/zerolog/log"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const defaultIdempotencyTTL = 24 * time.Hour

// EtcdIdempotencyKeyStore keeps replayable responses under a TTL lease so
// etcd drops them on its own.
type EtcdIdempotencyKeyStore struct {
	client     *clientv3.Client
	appName    string
	ttlSeconds int64
}

func NewEtcdIdempotencyKeyStore(client *clientv3.Client, appName string, ttl time.Duration) *EtcdIdempotencyKeyStore {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	ttlSeconds := int64(ttl / time.Second)
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}
	return &EtcdIdempotencyKeyStore{
		client:     client,
		appName:    appName,
		ttlSeconds: ttlSeconds,
	}
}

func (s *EtcdIdempotencyKeyStore) Get(ctx context.Context, scope, key string) (*models.IdempotencyRecord, error) {
	etcdKey := idempotencyKey(s.appName, scope, key)
	resp, err := s.client.Get(ctx, etcdKey)
	if err != nil {
		return nil, nlerrors.Unavailable(err)
	}
	if len(resp.Kvs) == 0 {
		log.Debug().Str("scope", scope).Str("idempotency_key", key).Str("etcd_key", etcdKey).Msg("idempotency miss in etcd")
		return nil, nil
	}

	var record models.IdempotencyRecord
	if err := json.Unmarshal(resp.Kvs[0].Value, &record); err != nil {
		return nil, err
	}
	log.Info().Str("scope", scope).Str("idempotency_key", key).Str("etcd_key", etcdKey).Msg("idempotency hit in etcd")
	return &record, nil
}

func (s *EtcdIdempotencyKeyStore) Put(ctx context.Context, scope, key string, record models.IdempotencyRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	grant, err := s.client.Grant(ctx, s.ttlSeconds)
	if err != nil {
		return nlerrors.Unavailable(fmt.Errorf("failed to create idempotency ttl lease: %w", err))
	}
	etcdKey := idempotencyKey(s.appName, scope, key)
	if _, err = s.client.Put(ctx, etcdKey, string(raw), clientv3.WithLease(grant.ID)); err != nil {
		return nlerrors.Unavailable(err)
	}
	log.Info().
		Str("scope", scope).
		Str("idempotency_key", key).
		Str("etcd_key", etcdKey).
		Int64("ttl_seconds", s.ttlSeconds).
		Msg("stored idempotency record in etcd with ttl lease")
	return nil
}

func idempotencyKey(appName, scope, key string) string {
	return basePath(appName) + "/idempotency/" + scopeFingerprint(scope) + "/" + strings.TrimSpace(key)
}

func scopeFingerprint(scope string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(scope))))
	return hex.EncodeToString(sum[:])
}
