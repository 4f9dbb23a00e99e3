package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BlocksAtCapacity(t *testing.T) {
	l := NewLimiter(2)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))
	assert.Equal(t, 2, l.InFlight())
	assert.Equal(t, 2, l.Capacity())

	tctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Acquire(tctx), context.DeadlineExceeded)

	l.Release()
	require.NoError(t, l.Acquire(ctx))
	assert.Equal(t, 2, l.InFlight())
}
