package etcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/data/models"
	nlerrors "github.com/Meesho/BharatMLStack/node-lease-manager/internal/errors"
	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/lease"
	"github.com/juju/clock"
	"github.com/rs/zerolog/log"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const defaultMaxCASAttempts = 8

type transition func(current models.Node, now time.Time) (models.Node, bool, error)

// EtcdNodeStore keeps one JSON document per node under /config/<app>/nodes/.
// Every change is a ModRevision+Value guarded transaction.
type EtcdNodeStore struct {
	kv          clientv3.KV
	clock       clock.Clock
	appName     string
	maxAttempts int
}

func NewEtcdNodeStore(kv clientv3.KV, clk clock.Clock, appName string) *EtcdNodeStore {
	if clk == nil {
		clk = clock.WallClock
	}
	return &EtcdNodeStore{
		kv:          kv,
		clock:       clk,
		appName:     appName,
		maxAttempts: defaultMaxCASAttempts,
	}
}

func (s *EtcdNodeStore) Register(ctx context.Context, name string, attributes map[string]any) (models.Node, error) {
	node := lease.New(name, attributes, s.clock.Now())
	raw, err := json.Marshal(node)
	if err != nil {
		return models.Node{}, err
	}
	key := nodeKey(s.appName, name)
	res, err := createIfAbsent(ctx, s.kv, key, string(raw))
	if err != nil {
		return models.Node{}, nlerrors.Unavailable(err)
	}
	if !res.Applied {
		return models.Node{}, nlerrors.ErrAlreadyExists
	}
	log.Debug().Str("name", name).Str("key", key).Msg("node registered in etcd")
	return node, nil
}

func (s *EtcdNodeStore) Remove(ctx context.Context, name string) error {
	res, err := deleteIfPresent(ctx, s.kv, nodeKey(s.appName, name))
	if err != nil {
		return nlerrors.Unavailable(err)
	}
	if !res.Applied {
		return nlerrors.ErrNotFound
	}
	return nil
}

func (s *EtcdNodeStore) Get(ctx context.Context, name string) (models.Node, error) {
	node, _, err := s.mutate(ctx, name, nil, reconcile)
	return node, err
}

func (s *EtcdNodeStore) List(ctx context.Context) ([]models.Node, error) {
	kvs, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]models.Node, 0, len(kvs))
	for _, kv := range kvs {
		node, _, err := s.mutate(ctx, nameFromKey(s.appName, string(kv.Key)), kv, reconcile)
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

func (s *EtcdNodeStore) Acquire(ctx context.Context, name, holder string, expiresAt time.Time) (models.Node, error) {
	node, _, err := s.mutate(ctx, name, nil, func(current models.Node, now time.Time) (models.Node, bool, error) {
		updated, err := lease.Grant(current, holder, expiresAt, now)
		return updated, err == nil, err
	})
	return node, err
}

func (s *EtcdNodeStore) Release(ctx context.Context, name string) (models.Node, error) {
	node, _, err := s.mutate(ctx, name, nil, func(current models.Node, now time.Time) (models.Node, bool, error) {
		return lease.Free(current, now), true, nil
	})
	return node, err
}

func (s *EtcdNodeStore) Sweep(ctx context.Context) (int, error) {
	kvs, err := s.scan(ctx)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, kv := range kvs {
		_, changed, err := s.mutate(ctx, nameFromKey(s.appName, string(kv.Key)), kv, reconcile)
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

// mutate runs fn against the latest stored record and commits the result with
// compareAndSwap, re-reading on conflict. seed, when non-nil, is used as the
// first read.
func (s *EtcdNodeStore) mutate(ctx context.Context, name string, seed *mvccpb.KeyValue, fn transition) (models.Node, bool, error) {
	key := nodeKey(s.appName, name)
	kv := seed
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if kv == nil {
			resp, err := s.kv.Get(ctx, key)
			if err != nil {
				return models.Node{}, false, nlerrors.Unavailable(err)
			}
			if len(resp.Kvs) == 0 {
				return models.Node{}, false, nlerrors.ErrNotFound
			}
			kv = resp.Kvs[0]
		}

		current, err := decodeNode(kv)
		if err != nil {
			return models.Node{}, false, err
		}
		updated, changed, err := fn(current, s.clock.Now())
		if err != nil {
			return models.Node{}, false, err
		}
		if !changed {
			return updated, false, nil
		}

		raw, err := json.Marshal(updated)
		if err != nil {
			return models.Node{}, false, err
		}
		cas, err := compareAndSwap(ctx, s.kv, key, kv.ModRevision, string(kv.Value), string(raw))
		if err != nil {
			return models.Node{}, false, nlerrors.Unavailable(err)
		}
		if cas.Applied {
			log.Debug().
				Str("name", name).
				Str("status_before", string(current.Status)).
				Str("status_after", string(updated.Status)).
				Int64("version_after", updated.Version).
				Msg("node CAS applied in etcd")
			return updated, true, nil
		}
		log.Debug().Str("name", name).Int("attempt", attempt).Msg("node CAS not applied (conflict/stale value), retrying")
		kv = nil
	}
	return models.Node{}, false, nlerrors.Unavailable(fmt.Errorf("%w after %d attempts on %s", nlerrors.ErrCASConflict, s.maxAttempts, name))
}

func (s *EtcdNodeStore) scan(ctx context.Context) ([]*mvccpb.KeyValue, error) {
	resp, err := s.kv.Get(ctx, nodesPrefix(s.appName),
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend),
	)
	if err != nil {
		return nil, nlerrors.Unavailable(err)
	}
	return resp.Kvs, nil
}

func decodeNode(kv *mvccpb.KeyValue) (models.Node, error) {
	var node models.Node
	if err := json.Unmarshal(kv.Value, &node); err != nil {
		return models.Node{}, fmt.Errorf("invalid node record at %s: %w", string(kv.Key), err)
	}
	return node, nil
}

func reconcile(current models.Node, now time.Time) (models.Node, bool, error) {
	updated, changed := lease.Reconcile(current, now)
	return updated, changed, nil
}
