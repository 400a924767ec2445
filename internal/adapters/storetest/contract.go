// Package storetest holds the behaviour every ports.NodeStore must share.
// Adapter packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	nlerrors "github.com/Meesho/BharatMLStack/node-lease-manager/internal/errors"
	"github.com/Meesho/BharatMLStack/node-lease-manager/internal/ports"
	nltypes "github.com/Meesho/BharatMLStack/node-lease-manager/internal/types"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Epoch is the testclock start used by every contract case.
var Epoch = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

// Factory returns an empty store reading time from clk.
type Factory func(t *testing.T, clk *testclock.Clock) ports.NodeStore

func Run(t *testing.T, factory Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, store ports.NodeStore, clk *testclock.Clock)
	}{
		{"RegisterGetRoundTrip", registerGetRoundTrip},
		{"NumericAttributesAreFloat", numericAttributesAreFloat},
		{"RegisterDuplicateFails", registerDuplicateFails},
		{"RemoveTwiceFails", removeTwiceFails},
		{"RemoveReservedNode", removeReservedNode},
		{"MissingNodeIsNotFound", missingNodeIsNotFound},
		{"ReservationScenario", reservationScenario},
		{"PastDeadlineLeavesRecordUnchanged", pastDeadlineLeavesRecordUnchanged},
		{"ReleaseIgnoresHolder", releaseIgnoresHolder},
		{"ReleaseAvailableNode", releaseAvailableNode},
		{"SweepReleasesOnlyExpired", sweepReleasesOnlyExpired},
		{"ListReconciles", listReconciles},
		{"ExpiryVisibleAfterSweep", expiryVisibleAfterSweep},
		{"ReacquireAfterExpiry", reacquireAfterExpiry},
		{"ReturnedRecordsAreCopies", returnedRecordsAreCopies},
		{"ConcurrentAcquireSingleWinner", concurrentAcquireSingleWinner},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clk := testclock.NewClock(Epoch)
			tc.fn(t, factory(t, clk), clk)
		})
	}
}

func registerGetRoundTrip(t *testing.T, store ports.NodeStore, _ *testclock.Clock) {
	ctx := context.Background()
	attrs := map[string]any{"description": "A100 box", "rack": "r1"}

	created, err := store.Register(ctx, "gpu-1", attrs)
	require.NoError(t, err)
	assert.Equal(t, nltypes.NodeStatusAvailable, created.Status)

	got, err := store.Get(ctx, "gpu-1")
	require.NoError(t, err)
	assert.Equal(t, "gpu-1", got.Name)
	assert.Equal(t, nltypes.NodeStatusAvailable, got.Status)
	assert.Equal(t, attrs, got.Attributes)
	assert.Empty(t, got.Holder)
	assert.Nil(t, got.ExpiresAt)
	assert.True(t, Epoch.Equal(got.UpdatedAt), "updated_at %s", got.UpdatedAt)
}

// numericAttributesAreFloat pins the one numeric representation every backend
// returns, whether or not the record went through a serialised write.
func numericAttributesAreFloat(t *testing.T, store ports.NodeStore, _ *testclock.Clock) {
	ctx := context.Background()
	attrs := map[string]any{"gpus": float64(8), "ratio": 0.5, "tags": []any{float64(1), "x"}}

	_, err := store.Register(ctx, "gpu-1", attrs)
	require.NoError(t, err)
	got, err := store.Get(ctx, "gpu-1")
	require.NoError(t, err)
	assert.Equal(t, attrs, got.Attributes)

	_, err = store.Acquire(ctx, "gpu-1", "alice", Epoch.Add(time.Hour))
	require.NoError(t, err)
	got, err = store.Get(ctx, "gpu-1")
	require.NoError(t, err)
	assert.Equal(t, attrs, got.Attributes)
}

func registerDuplicateFails(t *testing.T, store ports.NodeStore, _ *testclock.Clock) {
	ctx := context.Background()
	_, err := store.Register(ctx, "gpu-1", map[string]any{"description": "first"})
	require.NoError(t, err)

	_, err = store.Register(ctx, "gpu-1", map[string]any{"description": "second"})
	assert.True(t, errors.Is(err, nlerrors.ErrAlreadyExists), "got %v", err)

	got, err := store.Get(ctx, "gpu-1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Attributes["description"])
}

func removeTwiceFails(t *testing.T, store ports.NodeStore, _ *testclock.Clock) {
	ctx := context.Background()
	_, err := store.Register(ctx, "gpu-1", nil)
	require.NoError(t, err)

	require.NoError(t, store.Remove(ctx, "gpu-1"))
	err = store.Remove(ctx, "gpu-1")
	assert.True(t, errors.Is(err, nlerrors.ErrNotFound), "got %v", err)

	_, err = store.Get(ctx, "gpu-1")
	assert.True(t, errors.Is(err, nlerrors.ErrNotFound), "got %v", err)
}

func removeReservedNode(t *testing.T, store ports.NodeStore, clk *testclock.Clock) {
	ctx := context.Background()
	_, err := store.Register(ctx, "gpu-1", nil)
	require.NoError(t, err)
	_, err = store.Acquire(ctx, "gpu-1", "alice", clk.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, store.Remove(ctx, "gpu-1"))

	nodes, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func missingNodeIsNotFound(t *testing.T, store ports.NodeStore, clk *testclock.Clock) {
	ctx := context.Background()

	_, err := store.Get(ctx, "ghost")
	assert.True(t, errors.Is(err, nlerrors.ErrNotFound), "get: %v", err)
	_, err = store.Acquire(ctx, "ghost", "alice", clk.Now().Add(time.Hour))
	assert.True(t, errors.Is(err, nlerrors.ErrNotFound), "acquire: %v", err)
	_, err = store.Release(ctx, "ghost")
	assert.True(t, errors.Is(err, nlerrors.ErrNotFound), "release: %v", err)
	err = store.Remove(ctx, "ghost")
	assert.True(t, errors.Is(err, nlerrors.ErrNotFound), "remove: %v", err)
}

func reservationScenario(t *testing.T, store ports.NodeStore, clk *testclock.Clock) {
	ctx := context.Background()
	_, err := store.Register(ctx, "gpu-1", nil)
	require.NoError(t, err)

	clk.Advance(time.Minute)
	reserved, err := store.Acquire(ctx, "gpu-1", "alice", clk.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, nltypes.NodeStatusReserved, reserved.Status)
	assert.Equal(t, "alice", reserved.Holder)
	require.NotNil(t, reserved.ExpiresAt)
	assert.True(t, clk.Now().Add(2*time.Hour).Equal(*reserved.ExpiresAt))
	assert.True(t, clk.Now().Equal(reserved.UpdatedAt))

	_, err = store.Acquire(ctx, "gpu-1", "bob", clk.Now().Add(time.Hour))
	assert.True(t, errors.Is(err, nlerrors.ErrAlreadyReserved), "got %v", err)

	got, err := store.Get(ctx, "gpu-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Holder)

	clk.Advance(2*time.Hour + time.Second)
	got, err = store.Get(ctx, "gpu-1")
	require.NoError(t, err)
	assert.Equal(t, nltypes.NodeStatusAvailable, got.Status)
	assert.Empty(t, got.Holder)
	assert.Nil(t, got.ExpiresAt)
	assert.True(t, clk.Now().Equal(got.UpdatedAt))

	released, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, released)
}

func pastDeadlineLeavesRecordUnchanged(t *testing.T, store ports.NodeStore, clk *testclock.Clock) {
	ctx := context.Background()
	created, err := store.Register(ctx, "gpu-1", nil)
	require.NoError(t, err)

	clk.Advance(time.Minute)
	for _, deadline := range []time.Time{clk.Now().Add(-time.Hour), clk.Now()} {
		_, err = store.Acquire(ctx, "gpu-1", "alice", deadline)
		assert.True(t, errors.Is(err, nlerrors.ErrInvalidDeadline), "got %v", err)
	}

	got, err := store.Get(ctx, "gpu-1")
	require.NoError(t, err)
	assert.Equal(t, nltypes.NodeStatusAvailable, got.Status)
	assert.Equal(t, created.Version, got.Version)
	assert.True(t, created.UpdatedAt.Equal(got.UpdatedAt))
}

// Release does not verify the caller: any identity may free any lease.
// This mirrors the permissive policy of the system being modelled.
func releaseIgnoresHolder(t *testing.T, store ports.NodeStore, clk *testclock.Clock) {
	ctx := context.Background()
	_, err := store.Register(ctx, "gpu-1", nil)
	require.NoError(t, err)
	_, err = store.Acquire(ctx, "gpu-1", "alice", clk.Now().Add(time.Hour))
	require.NoError(t, err)

	clk.Advance(time.Minute)
	got, err := store.Release(ctx, "gpu-1")
	require.NoError(t, err)
	assert.Equal(t, nltypes.NodeStatusAvailable, got.Status)
	assert.Empty(t, got.Holder)
	assert.Nil(t, got.ExpiresAt)
	assert.True(t, clk.Now().Equal(got.UpdatedAt))

	_, err = store.Acquire(ctx, "gpu-1", "bob", clk.Now().Add(time.Hour))
	assert.NoError(t, err)
}

func releaseAvailableNode(t *testing.T, store ports.NodeStore, clk *testclock.Clock) {
	ctx := context.Background()
	_, err := store.Register(ctx, "gpu-1", nil)
	require.NoError(t, err)

	clk.Advance(time.Minute)
	got, err := store.Release(ctx, "gpu-1")
	require.NoError(t, err)
	assert.Equal(t, nltypes.NodeStatusAvailable, got.Status)
	assert.True(t, clk.Now().Equal(got.UpdatedAt))
}

func sweepReleasesOnlyExpired(t *testing.T, store ports.NodeStore, clk *testclock.Clock) {
	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		_, err := store.Register(ctx, fmt.Sprintf("node-%d", i), nil)
		require.NoError(t, err)
	}
	_, err := store.Acquire(ctx, "node-1", "alice", clk.Now().Add(time.Minute))
	require.NoError(t, err)
	_, err = store.Acquire(ctx, "node-2", "bob", clk.Now().Add(2*time.Minute))
	require.NoError(t, err)
	_, err = store.Acquire(ctx, "node-3", "carol", clk.Now().Add(time.Hour))
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	released, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, released)

	again, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again)

	still, err := store.Get(ctx, "node-3")
	require.NoError(t, err)
	assert.Equal(t, "carol", still.Holder)
}

func listReconciles(t *testing.T, store ports.NodeStore, clk *testclock.Clock) {
	ctx := context.Background()
	for _, name := range []string{"a", "b"} {
		_, err := store.Register(ctx, name, nil)
		require.NoError(t, err)
	}
	_, err := store.Acquire(ctx, "a", "alice", clk.Now().Add(time.Minute))
	require.NoError(t, err)
	_, err = store.Acquire(ctx, "b", "bob", clk.Now().Add(time.Hour))
	require.NoError(t, err)

	clk.Advance(time.Minute)
	nodes, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	byName := map[string]nltypes.NodeStatus{}
	for _, node := range nodes {
		byName[node.Name] = node.Status
	}
	assert.Equal(t, nltypes.NodeStatusAvailable, byName["a"])
	assert.Equal(t, nltypes.NodeStatusReserved, byName["b"])

	released, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, released, "list already reconciled the expired lease")
}

func expiryVisibleAfterSweep(t *testing.T, store ports.NodeStore, clk *testclock.Clock) {
	ctx := context.Background()
	_, err := store.Register(ctx, "gpu-1", nil)
	require.NoError(t, err)
	_, err = store.Acquire(ctx, "gpu-1", "alice", clk.Now().Add(time.Minute))
	require.NoError(t, err)

	clk.Advance(time.Minute)
	released, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	for i := 0; i < 3; i++ {
		got, err := store.Get(ctx, "gpu-1")
		require.NoError(t, err)
		assert.Equal(t, nltypes.NodeStatusAvailable, got.Status)
		clk.Advance(time.Hour)
	}
}

func reacquireAfterExpiry(t *testing.T, store ports.NodeStore, clk *testclock.Clock) {
	ctx := context.Background()
	_, err := store.Register(ctx, "gpu-1", nil)
	require.NoError(t, err)
	_, err = store.Acquire(ctx, "gpu-1", "alice", clk.Now().Add(time.Minute))
	require.NoError(t, err)

	clk.Advance(time.Minute)
	got, err := store.Acquire(ctx, "gpu-1", "bob", clk.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Holder)
}

func returnedRecordsAreCopies(t *testing.T, store ports.NodeStore, _ *testclock.Clock) {
	ctx := context.Background()
	created, err := store.Register(ctx, "gpu-1", map[string]any{"description": "original"})
	require.NoError(t, err)
	created.Attributes["description"] = "mutated"

	got, err := store.Get(ctx, "gpu-1")
	require.NoError(t, err)
	got.Attributes["description"] = "mutated again"

	again, err := store.Get(ctx, "gpu-1")
	require.NoError(t, err)
	assert.Equal(t, "original", again.Attributes["description"])
}

func concurrentAcquireSingleWinner(t *testing.T, store ports.NodeStore, clk *testclock.Clock) {
	ctx := context.Background()
	_, err := store.Register(ctx, "gpu-1", nil)
	require.NoError(t, err)

	const contenders = 16
	deadline := clk.Now().Add(time.Hour)
	start := make(chan struct{})
	errs := make([]error, contenders)
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = store.Acquire(ctx, "gpu-1", fmt.Sprintf("holder-%d", i), deadline)
		}(i)
	}
	close(start)
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.True(t, errors.Is(err, nlerrors.ErrAlreadyReserved), "got %v", err)
	}
	assert.Equal(t, 1, winners)

	got, err := store.Get(ctx, "gpu-1")
	require.NoError(t, err)
	assert.Equal(t, nltypes.NodeStatusReserved, got.Status)
}
