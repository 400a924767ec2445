package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/data/models"
	"github.com/juju/clock"
)

type idempotencyEntry struct {
	record    models.IdempotencyRecord
	expiresAt time.Time
}

type IdempotencyKeyStore struct {
	clock clock.Clock
	ttl   time.Duration

	mu      sync.RWMutex
	records map[string]idempotencyEntry
}

func NewIdempotencyKeyStore(clk clock.Clock, ttl time.Duration) *IdempotencyKeyStore {
	if clk == nil {
		clk = clock.WallClock
	}
	return &IdempotencyKeyStore{
		clock:   clk,
		ttl:     ttl,
		records: make(map[string]idempotencyEntry),
	}
}

func (s *IdempotencyKeyStore) Get(_ context.Context, scope, key string) (*models.IdempotencyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.records[scope+"::"+key]
	if !ok {
		return nil, nil
	}
	if s.ttl > 0 && !entry.expiresAt.After(s.clock.Now()) {
		return nil, nil
	}
	copied := entry.record
	copied.ResponseBody = append([]byte(nil), entry.record.ResponseBody...)
	return &copied, nil
}

func (s *IdempotencyKeyStore) Put(_ context.Context, scope, key string, record models.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for k, entry := range s.records {
		if s.ttl > 0 && !entry.expiresAt.After(now) {
			delete(s.records, k)
		}
	}
	record.ResponseBody = append([]byte(nil), record.ResponseBody...)
	s.records[scope+"::"+key] = idempotencyEntry{record: record, expiresAt: now.Add(s.ttl)}
	return nil
}
