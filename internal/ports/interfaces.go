package ports

import (
	"context"
	"time"

	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/data/models"
)

// NodeStore is the single authority over node records. Implementations
// return copies and apply lease.Reconcile on every read path.
type NodeStore interface {
	Register(ctx context.Context, name string, attributes map[string]any) (models.Node, error)
	Remove(ctx context.Context, name string) error
	Get(ctx context.Context, name string) (models.Node, error)
	List(ctx context.Context) ([]models.Node, error)
	Acquire(ctx context.Context, name, holder string, expiresAt time.Time) (models.Node, error)
	Release(ctx context.Context, name string) (models.Node, error)
	Sweep(ctx context.Context) (int, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event models.Event) (models.PublishResult, error)
}

type IdempotencyKeyStore interface {
	Get(ctx context.Context, scope, key string) (*models.IdempotencyRecord, error)
	Put(ctx context.Context, scope, key string, record models.IdempotencyRecord) error
}

// SweepLock elects the replica that runs a periodic sweep.
type SweepLock interface {
	TryLock(ctx context.Context) (release func(), acquired bool)
}

// Pinger is implemented by stores that can report backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
