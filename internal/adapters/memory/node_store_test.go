package memory

import (
	"context"
	"testing"
	"time"

	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/adapters/storetest"
	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/data/models"
	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/ports"
	nltypes "github.com/Meesho/BharatMLStack/node-lease-manager/internal/types"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeStoreContract(t *testing.T) {
	storetest.Run(t, func(_ *testing.T, clk *testclock.Clock) ports.NodeStore {
		return NewNodeStore(clk)
	})
}

func TestNodeStoreSeedIsReconciledOnRead(t *testing.T) {
	clk := testclock.NewClock(storetest.Epoch)
	expiresAt := storetest.Epoch.Add(-time.Minute)
	store := NewNodeStore(clk, models.Node{
		Name:      "gpu-1",
		Status:    nltypes.NodeStatusReserved,
		Holder:    "alice",
		ExpiresAt: &expiresAt,
		UpdatedAt: storetest.Epoch.Add(-time.Hour),
		Version:   3,
	})

	got, err := store.Get(context.Background(), "gpu-1")
	require.NoError(t, err)
	assert.Equal(t, nltypes.NodeStatusAvailable, got.Status)
	assert.Equal(t, int64(4), got.Version)
}

func TestIdempotencyKeyStoreExpiresRecords(t *testing.T) {
	clk := testclock.NewClock(storetest.Epoch)
	store := NewIdempotencyKeyStore(clk, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "nodes", "k1", models.IdempotencyRecord{RequestHash: "h", StatusCode: 201, ResponseBody: []byte(`{}`)}))

	got, err := store.Get(ctx, "nodes", "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 201, got.StatusCode)

	other, err := store.Get(ctx, "reserve", "k1")
	require.NoError(t, err)
	assert.Nil(t, other)

	clk.Advance(time.Minute)
	expired, err := store.Get(ctx, "nodes", "k1")
	require.NoError(t, err)
	assert.Nil(t, expired)
}
