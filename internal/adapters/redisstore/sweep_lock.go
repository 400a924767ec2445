package redisstore

import (
	"context"
	"time"

	redsync "github.com/go-redsync/redsync/v4"
	redsyncgoredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// SweepLock lets one replica at a time run the periodic sweep. Losing the
// race is not an error: the other replica is already sweeping.
type SweepLock struct {
	rs     *redsync.Redsync
	name   string
	expiry time.Duration
}

func NewSweepLock(client redis.UniversalClient, prefix string, expiry time.Duration) *SweepLock {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if expiry <= 0 {
		expiry = time.Minute
	}
	pool := redsyncgoredis.NewPool(client)
	return &SweepLock{
		rs:     redsync.New(pool),
		name:   prefix + ":sweep-lock",
		expiry: expiry,
	}
}

// TryLock returns a release func and true when this replica owns the sweep.
func (l *SweepLock) TryLock(ctx context.Context) (func(), bool) {
	mutex := l.rs.NewMutex(l.name,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(1),
	)
	if err := mutex.LockContext(ctx); err != nil {
		log.Debug().Err(err).Str("lock", l.name).Msg("sweep lock held elsewhere")
		return func() {}, false
	}
	return func() {
		if ok, err := mutex.UnlockContext(context.Background()); !ok || err != nil {
			log.Error().Err(err).Str("lock", l.name).Msg("Failed to release redis sweep lock")
		}
	}, true
}
