package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/flowq/internal/testutil"
	"github.com/petrijr/flowq/pkg/api"
)

func testMutualExclusion(t *testing.T, l Locker) {
	t.Helper()

	var holders, peak atomic.Int64
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lk, err := l.Acquire(context.Background(), "flow-1", 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			n := holders.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(5 * time.Millisecond)
			holders.Add(-1)
			assert.NoError(t, lk.Release(context.Background()))
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), peak.Load())
}

func testTimeout(t *testing.T, l Locker) {
	t.Helper()
	ctx := context.Background()

	held, err := l.Acquire(ctx, "flow-2", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "flow-2", held.Key())

	_, err = l.Acquire(ctx, "flow-2", 100*time.Millisecond)
	assert.ErrorIs(t, err, api.ErrLockTimeout)

	other, err := l.Acquire(ctx, "flow-3", 100*time.Millisecond)
	require.NoError(t, err, "unrelated keys must not contend")
	require.NoError(t, other.Release(ctx))

	require.NoError(t, held.Release(ctx))
	again, err := l.Acquire(ctx, "flow-2", 100*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestMemoryLocker(t *testing.T) {
	t.Run("mutual exclusion", func(t *testing.T) { testMutualExclusion(t, NewMemoryLocker()) })
	t.Run("timeout", func(t *testing.T) { testTimeout(t, NewMemoryLocker()) })
}

func TestMemoryLocker_ReleaseTwiceIsSafe(t *testing.T) {
	l := NewMemoryLocker()
	lk, err := l.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	require.NoError(t, lk.Release(context.Background()))
	require.NoError(t, lk.Release(context.Background()))

	lk2, err := l.Acquire(context.Background(), "k", 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, lk2.Release(context.Background()))
}

func TestRedisLocker(t *testing.T) {
	client := testutil.NewRedisClient(t)

	t.Run("mutual exclusion", func(t *testing.T) { testMutualExclusion(t, NewRedisLocker(client, "", 0)) })
	t.Run("timeout", func(t *testing.T) { testTimeout(t, NewRedisLocker(client, "", 0)) })
	t.Run("release keeps foreign lock", func(t *testing.T) {
		ctx := context.Background()
		l := NewRedisLocker(client, "test:", time.Minute)

		lk, err := l.Acquire(ctx, "k", time.Second)
		require.NoError(t, err)
		require.NoError(t, client.Set(ctx, "test:k", "someone-else", time.Minute).Err())

		require.NoError(t, lk.Release(ctx))
		val, err := client.Get(ctx, "test:k").Result()
		require.NoError(t, err)
		assert.Equal(t, "someone-else", val)
	})
}
