package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/petrijr/flowq/pkg/api"
)

var redisUnlockLua = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX. A holder that crashes loses
// the lock after TTL.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker creates a RedisLocker. ttl bounds how long a lock may be
// held (default 30s).
func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	if prefix == "" {
		prefix = "flowq:lock:"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl, retry: 50 * time.Millisecond}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (Lock, error) {
	token := uuid.NewString()
	redisKey := l.prefix + key
	deadline := time.Now().Add(timeout)

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return &redisLock{client: l.client, key: key, redisKey: redisKey, token: token}, nil
		}

		wait := min(l.retry, time.Until(deadline))
		if wait <= 0 {
			return nil, api.ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

type redisLock struct {
	client   *redis.Client
	key      string
	redisKey string
	token    string
}

func (r *redisLock) Key() string { return r.key }

func (r *redisLock) Release(ctx context.Context) error {
	return redisUnlockLua.Run(ctx, r.client, []string{r.redisKey}, r.token).Err()
}
