package simulation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/flowq/internal/lock"
	"github.com/petrijr/flowq/internal/memflow"
	"github.com/petrijr/flowq/internal/persistence"
	"github.com/petrijr/flowq/pkg/api"
)

type fixture struct {
	coord  *Coordinator
	store  *persistence.InMemorySimulationStore
	flows  *memflow.Store
	hooks  *memflow.Hooks
	locker *lock.MemoryLocker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  persistence.NewInMemorySimulationStore(),
		flows:  memflow.NewStore(),
		hooks:  memflow.NewHooks(),
		locker: lock.NewMemoryLocker(),
	}
	f.flows.PutFlow(api.Flow{ID: "f1", ProjectID: "p1", Status: api.FlowDisabled})
	f.flows.PutVersion(api.FlowVersion{ID: "fv1", FlowID: "f1", TriggerType: "webhook"})
	f.coord = NewCoordinator(Config{
		Store:       f.store,
		Locker:      f.locker,
		Versions:    f.flows,
		Hooks:       f.hooks,
		LockTimeout: 200 * time.Millisecond,
	})
	return f
}

func TestCoordinator_CreateAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sim, err := f.coord.Create(ctx, "f1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "fv1", sim.FlowVersionID)

	got, err := f.coord.Get(ctx, "f1", "p1")
	require.NoError(t, err)
	assert.Equal(t, sim.ID, got.ID)

	assert.Equal(t, []memflow.HookCall{
		{Op: memflow.HookEnable, FlowVersionID: "fv1", ProjectID: "p1", Simulate: true},
	}, f.hooks.Calls())
}

func TestCoordinator_CreateSupersedesExistingSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.coord.Create(ctx, "f1", "p1")
	require.NoError(t, err)

	f.flows.PutVersion(api.FlowVersion{ID: "fv2", FlowID: "f1", TriggerType: "webhook"})
	second, err := f.coord.Create(ctx, "f1", "p1")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 1, f.store.Count())

	got, err := f.coord.Get(ctx, "f1", "p1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	assert.Equal(t, []memflow.HookCall{
		{Op: memflow.HookEnable, FlowVersionID: "fv1", ProjectID: "p1", Simulate: true},
		{Op: memflow.HookDisable, FlowVersionID: "fv1", ProjectID: "p1", Simulate: true},
		{Op: memflow.HookEnable, FlowVersionID: "fv2", ProjectID: "p1", Simulate: true},
	}, f.hooks.Calls(), "old subscription must be disabled before the new one is enabled")
}

func TestCoordinator_ConcurrentCreatesNeverOverlap(t *testing.T) {
	f := newFixture(t)
	f.coord.lockTimeout = 5 * time.Second

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.Create(context.Background(), "f1", "p1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.store.Count())

	active := 0
	for _, c := range f.hooks.Calls() {
		switch c.Op {
		case memflow.HookEnable:
			active++
		case memflow.HookDisable:
			active--
		}
		assert.LessOrEqual(t, active, 1, "two simulate subscriptions were active at once")
		assert.GreaterOrEqual(t, active, 0)
	}
	assert.Equal(t, 1, active)
}

func TestCoordinator_DeleteMissingExplicitSessionFails(t *testing.T) {
	f := newFixture(t)

	err := f.coord.Delete(context.Background(), DeleteParams{FlowID: "f1", ProjectID: "p1"})
	assert.ErrorIs(t, err, api.ErrEntityNotFound)
	assert.Empty(t, f.hooks.Calls())
}

func TestCoordinator_DeleteMissingIgnoredIsNoop(t *testing.T) {
	f := newFixture(t)

	err := f.coord.Delete(context.Background(), DeleteParams{FlowID: "f1", ProjectID: "p1", IgnoreNotFound: true})
	assert.NoError(t, err)
	assert.Empty(t, f.hooks.Calls())
}

func TestCoordinator_DeleteDisablesAndRemoves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.coord.Create(ctx, "f1", "p1")
	require.NoError(t, err)

	f.flows.PutVersion(api.FlowVersion{ID: "fv-explicit", FlowID: "f1"})
	require.NoError(t, f.coord.Delete(ctx, DeleteParams{FlowID: "f1", ProjectID: "p1", FlowVersionID: "fv-explicit"}))

	_, err = f.coord.Get(ctx, "f1", "p1")
	assert.ErrorIs(t, err, api.ErrEntityNotFound)

	calls := f.hooks.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, memflow.HookCall{Op: memflow.HookDisable, FlowVersionID: "fv-explicit", ProjectID: "p1", Simulate: true}, calls[1])
}

func TestCoordinator_LockTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	held, err := f.locker.Acquire(ctx, LockKey("f1"), time.Second)
	require.NoError(t, err)
	defer func() { _ = held.Release(ctx) }()

	_, err = f.coord.Create(ctx, "f1", "p1")
	assert.ErrorIs(t, err, api.ErrLockTimeout)

	err = f.coord.Delete(ctx, DeleteParams{FlowID: "f1", ProjectID: "p1"})
	assert.ErrorIs(t, err, api.ErrLockTimeout)

	// Other flows do not contend.
	f.flows.PutVersion(api.FlowVersion{ID: "fv-other", FlowID: "f2"})
	_, err = f.coord.Create(ctx, "f2", "p1")
	assert.NoError(t, err)
}

func TestCoordinator_EnableFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("provider rejected subscription")
	f.hooks.Fail["fv1"] = boom

	_, err := f.coord.Create(context.Background(), "f1", "p1")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, f.store.Count())

	// The lock was released despite the error.
	l, err := f.locker.Acquire(context.Background(), LockKey("f1"), 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, l.Release(context.Background()))
}
