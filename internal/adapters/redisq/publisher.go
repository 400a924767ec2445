package redisq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/data/models"
	nlerrors "github.com/Meesho/BharatMLStack/node-lease-manager/internal/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DefaultChannel = "node-lease-events"

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(_ context.Context, event models.Event) (models.PublishResult, error) {
	return models.PublishResult{MessageID: event.ID}, nil
}

// InMemoryPublisher keeps published events in order, mainly for tests and
// single-process deployments that want an audit trail.
type InMemoryPublisher struct {
	sequence uint64

	mu     sync.Mutex
	events []models.Event
}

func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{}
}

func (p *InMemoryPublisher) Publish(_ context.Context, event models.Event) (models.PublishResult, error) {
	if _, err := json.Marshal(event); err != nil {
		return models.PublishResult{}, err
	}
	id := atomic.AddUint64(&p.sequence, 1)
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return models.PublishResult{MessageID: fmt.Sprintf("msg-%d", id)}, nil
}

// Events returns a copy of everything published so far.
func (p *InMemoryPublisher) Events() []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Event(nil), p.events...)
}

// RedisPublisher fans events out over Redis pub/sub as JSON.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event models.Event) (models.PublishResult, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return models.PublishResult{}, err
	}
	receivers, err := p.client.Publish(ctx, p.channel, raw).Result()
	if err != nil {
		return models.PublishResult{}, nlerrors.Unavailable(err)
	}
	log.Debug().
		Str("channel", p.channel).
		Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Int64("receivers", receivers).
		Msg("published node event")
	return models.PublishResult{MessageID: event.ID}, nil
}
