package dynamo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/adapters/storetest"
	nlerrors "github.com/Meesho/BharatMLStack/node-lease-manager/internal/errors"
	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/ports"
	nltypes "github.com/Meesho/BharatMLStack/node-lease-manager/internal/types"
	"github.com/aws/smithy-go"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDynamoNodeStoreContract(t *testing.T) {
	storetest.Run(t, func(_ *testing.T, clk *testclock.Clock) ports.NodeStore {
		return NewDynamoNodeStore(newFakeTable(), clk, "nodes")
	})
}

func TestDynamoNodeStoreListFollowsPages(t *testing.T) {
	table := newFakeTable()
	store := NewDynamoNodeStore(table, testclock.NewClock(storetest.Epoch), "nodes")
	ctx := context.Background()
	for i := 5; i >= 1; i-- {
		_, err := store.Register(ctx, fmt.Sprintf("node-%d", i), nil)
		require.NoError(t, err)
	}

	nodes, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 5)
	for i, node := range nodes {
		assert.Equal(t, fmt.Sprintf("node-%d", i+1), node.Name)
	}
}

func TestDynamoNodeStoreReadWithoutChangeDoesNotWrite(t *testing.T) {
	table := newFakeTable()
	store := NewDynamoNodeStore(table, testclock.NewClock(storetest.Epoch), "nodes")
	ctx := context.Background()
	_, err := store.Register(ctx, "gpu-1", nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := store.Get(ctx, "gpu-1")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, table.puts)
}

func TestDynamoNodeStoreRoundTripsTimestamps(t *testing.T) {
	clk := testclock.NewClock(storetest.Epoch.Add(123 * time.Nanosecond))
	store := NewDynamoNodeStore(newFakeTable(), clk, "nodes")
	ctx := context.Background()
	_, err := store.Register(ctx, "gpu-1", map[string]any{"description": "A100", "labels": map[string]any{"zone": "a"}})
	require.NoError(t, err)

	deadline := clk.Now().Add(90*time.Minute + 7*time.Nanosecond)
	_, err = store.Acquire(ctx, "gpu-1", "alice", deadline)
	require.NoError(t, err)

	got, err := store.Get(ctx, "gpu-1")
	require.NoError(t, err)
	assert.Equal(t, nltypes.NodeStatusReserved, got.Status)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, deadline.Equal(*got.ExpiresAt))
	assert.Equal(t, map[string]any{"zone": "a"}, got.Attributes["labels"])
}

func TestDynamoNodeStoreUnavailable(t *testing.T) {
	table := newFakeTable()
	store := NewDynamoNodeStore(table, testclock.NewClock(storetest.Epoch), "nodes")
	table.failWith = &smithy.GenericAPIError{Code: "ProvisionedThroughputExceededException", Message: "slow down"}

	_, err := store.Get(context.Background(), "gpu-1")
	assert.True(t, errors.Is(err, nlerrors.ErrStoreUnavailable), "got %v", err)
	_, err = store.Sweep(context.Background())
	assert.True(t, errors.Is(err, nlerrors.ErrStoreUnavailable), "got %v", err)
	assert.Error(t, store.Ping(context.Background()))
}
