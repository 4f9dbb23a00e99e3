package worker

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds how many jobs one process executes at the same time.
// It is shared by every queue loop of a Worker.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int64
	inFlight atomic.Int64
}

// NewLimiter returns a Limiter with n slots. n must be positive.
func NewLimiter(n int) *Limiter {
	return &Limiter{
		sem:      semaphore.NewWeighted(int64(n)),
		capacity: int64(n),
	}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	l.inFlight.Add(1)
	return nil
}

// Release returns a slot. It must be called once per successful Acquire.
func (l *Limiter) Release() {
	l.inFlight.Add(-1)
	l.sem.Release(1)
}

// InFlight returns the number of held slots.
func (l *Limiter) InFlight() int {
	return int(l.inFlight.Load())
}

// Capacity returns the number of slots.
func (l *Limiter) Capacity() int {
	return int(l.capacity)
}
