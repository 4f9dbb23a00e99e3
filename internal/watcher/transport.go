package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Subscription is an active channel subscription.
type Subscription interface {
	Close() error
}

// Transport is a fire-and-forget pub/sub bus.
type Transport interface {
	// Subscribe calls fn for every message published on channel until the
	// returned Subscription is closed. The subscription is active when
	// Subscribe returns.
	Subscribe(ctx context.Context, channel string, fn func(msg []byte)) (Subscription, error)
	Publish(ctx context.Context, channel string, msg []byte) error
}

// MemoryTransport delivers messages inside one process. Handlers run on the
// publisher's goroutine.
type MemoryTransport struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func([]byte)
}

// NewMemoryTransport creates an empty in-process bus.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{subs: make(map[string]map[int]func([]byte))}
}

func (t *MemoryTransport) Subscribe(ctx context.Context, channel string, fn func([]byte)) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	if t.subs[channel] == nil {
		t.subs[channel] = make(map[int]func([]byte))
	}
	t.subs[channel][id] = fn
	return &memorySubscription{t: t, channel: channel, id: id}, nil
}

func (t *MemoryTransport) Publish(ctx context.Context, channel string, msg []byte) error {
	t.mu.RLock()
	handlers := make([]func([]byte), 0, len(t.subs[channel]))
	for _, fn := range t.subs[channel] {
		handlers = append(handlers, fn)
	}
	t.mu.RUnlock()

	for _, fn := range handlers {
		fn(msg)
	}
	return nil
}

type memorySubscription struct {
	t       *MemoryTransport
	channel string
	id      int
	once    sync.Once
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.t.mu.Lock()
		defer s.t.mu.Unlock()
		delete(s.t.subs[s.channel], s.id)
		if len(s.t.subs[s.channel]) == 0 {
			delete(s.t.subs, s.channel)
		}
	})
	return nil
}

// RedisTransport is a Transport over Redis PUBLISH/SUBSCRIBE, so publishers
// and subscribers can live in different processes.
type RedisTransport struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisTransport wraps client. The transport does not own the client.
func NewRedisTransport(client *redis.Client, logger *slog.Logger) *RedisTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisTransport{client: client, logger: logger}
}

func (t *RedisTransport) Subscribe(ctx context.Context, channel string, fn func([]byte)) (Subscription, error) {
	ps := t.client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so no publish is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	ch := ps.Channel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ch {
			fn([]byte(msg.Payload))
		}
	}()

	t.logger.Debug("pubsub_subscribed", slog.String("channel", channel))
	return &redisSubscription{ps: ps, done: done}, nil
}

func (t *RedisTransport) Publish(ctx context.Context, channel string, msg []byte) error {
	return t.client.Publish(ctx, channel, msg).Err()
}

type redisSubscription struct {
	ps   *redis.PubSub
	done chan struct{}
}

func (s *redisSubscription) Close() error {
	err := s.ps.Close()
	<-s.done
	return err
}
