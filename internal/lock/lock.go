// Package lock provides named mutual-exclusion locks with a bounded wait.
//
// Three implementations share the Locker interface: an in-process one for
// single-node deployments, a Redis one and a Postgres advisory-lock one for
// fleets.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/petrijr/flowq/pkg/api"
)

// Locker acquires named locks.
type Locker interface {
	// Acquire blocks until key is free, timeout elapses (api.ErrLockTimeout)
	// or ctx is done.
	Acquire(ctx context.Context, key string, timeout time.Duration) (Lock, error)
}

// Lock is a held lock.
type Lock interface {
	Key() string
	Release(ctx context.Context) error
}

// MemoryLocker locks within one process.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]chan struct{})}
}

func (l *MemoryLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[key] = s
	}
	return s
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (Lock, error) {
	s := l.slot(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s <- struct{}{}:
		return &memoryLock{key: key, slot: s}, nil
	case <-timer.C:
		return nil, api.ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type memoryLock struct {
	key  string
	slot chan struct{}
	once sync.Once
}

func (m *memoryLock) Key() string { return m.key }

func (m *memoryLock) Release(ctx context.Context) error {
	m.once.Do(func() { <-m.slot })
	return nil
}
