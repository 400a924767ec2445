package redisq

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/data/models"
	nltypes "github.com/Meesho/BharatMLStack/node-lease-manager/internal/types"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryPublisherKeepsOrder(t *testing.T) {
	p := NewInMemoryPublisher()
	ctx := context.Background()

	first, err := p.Publish(ctx, models.Event{Type: nltypes.EventRegistered, Node: "gpu-1"})
	require.NoError(t, err)
	second, err := p.Publish(ctx, models.Event{Type: nltypes.EventAcquired, Node: "gpu-1", Holder: "alice"})
	require.NoError(t, err)

	assert.Equal(t, "msg-1", first.MessageID)
	assert.Equal(t, "msg-2", second.MessageID)
	events := p.Events()
	require.Len(t, events, 2)
	assert.Equal(t, nltypes.EventAcquired, events[1].Type)
}

func TestRedisPublisherPublishesJSON(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, "events")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	p := NewRedisPublisher(client, "events")
	occurredAt := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	res, err := p.Publish(ctx, models.Event{Type: nltypes.EventReleased, Node: "gpu-1", OccurredAt: occurredAt})
	require.NoError(t, err)
	assert.NotEmpty(t, res.MessageID)

	select {
	case msg := <-sub.Channel():
		var got models.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, res.MessageID, got.ID)
		assert.Equal(t, nltypes.EventReleased, got.Type)
		assert.True(t, occurredAt.Equal(got.OccurredAt))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}
