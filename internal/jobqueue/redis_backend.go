package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/flowq/pkg/api"
)

// RedisBackend is the durable, multi-node Backend.
//
// Key layout under Prefix:
//
//	<prefix>job:<id>              => gob-encoded Job
//	<prefix>q:<queue>:ready       => ZSET id -> fire time (unix ms)
//	<prefix>q:<queue>:active      => ZSET id -> lease expiry (unix ms)
//	<prefix>q:<queue>:poll-lock   => worker token holding the poll lock
//
// A polled one-shot job stays in the active set until Update. If its lease
// expires first the next Poll moves it back to ready, so a crashed worker's
// job is redelivered. Recurring jobs are rescheduled at claim time.
type RedisBackend struct {
	client *redis.Client
	opts   RedisOptions
	closed atomic.Bool
}

// RedisOptions configures a RedisBackend. Zero values get defaults.
type RedisOptions struct {
	// Prefix namespaces all keys (default "flowq:").
	Prefix string

	// LockDurations is the lease per queue. It must exceed the longest
	// expected execution time of a job in that queue.
	LockDurations map[api.QueueName]time.Duration
	// DefaultLockDuration applies to queues missing from LockDurations
	// (default 10m).
	DefaultLockDuration time.Duration

	// PollTimeout bounds one Poll call (default 5s).
	PollTimeout time.Duration
	// PollLockTTL bounds how long a crashed poller can hold the poll lock
	// (default 5s).
	PollLockTTL time.Duration

	// MaxAttempts is how often a failed one-shot job is delivered before it
	// is dropped (default 3).
	MaxAttempts int
	// RetryBackoff delays redelivery of a failed one-shot job (default 5s,
	// negative retries immediately).
	RetryBackoff time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

func (o *RedisOptions) setDefaults() {
	if o.Prefix == "" {
		o.Prefix = "flowq:"
	}
	if o.DefaultLockDuration <= 0 {
		o.DefaultLockDuration = 10 * time.Minute
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 5 * time.Second
	}
	if o.PollLockTTL <= 0 {
		o.PollLockTTL = 5 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBackoff < 0 {
		o.RetryBackoff = 0
	} else if o.RetryBackoff == 0 {
		o.RetryBackoff = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// NewRedisBackend constructs a Redis-backed Backend. The backend owns client
// and closes it on Close.
func NewRedisBackend(client *redis.Client, opts RedisOptions) *RedisBackend {
	opts.setDefaults()
	return &RedisBackend{client: client, opts: opts}
}

// Ensure RedisBackend implements Backend.
var _ Backend = (*RedisBackend)(nil)

func (b *RedisBackend) keyJob(id string) string { return b.opts.Prefix + "job:" + id }

func (b *RedisBackend) keyReady(q api.QueueName) string {
	return b.opts.Prefix + "q:" + string(q) + ":ready"
}

func (b *RedisBackend) keyActive(q api.QueueName) string {
	return b.opts.Prefix + "q:" + string(q) + ":active"
}

func (b *RedisBackend) keyPollLock(q api.QueueName) string {
	return b.opts.Prefix + "q:" + string(q) + ":poll-lock"
}

// LockDuration returns the lease used for jobs of queue.
func (b *RedisBackend) LockDuration(q api.QueueName) time.Duration {
	if d, ok := b.opts.LockDurations[q]; ok && d > 0 {
		return d
	}
	return b.opts.DefaultLockDuration
}

var (
	// Stores a job and schedules it unless the id is currently leased.
	// Returns 1 if added.
	redisAddLua = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	return 0
end
redis.call('SET', KEYS[3], ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
return 1
`)

	// Moves expired leases back to the ready set. Returns the number moved.
	redisRequeueStalledLua = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('ZADD', KEYS[2], ARGV[1], id)
end
return #ids
`)

	// Claims the first ready id and returns {id, data}, or nil.
	// Ids whose record vanished are discarded.
	redisClaimLua = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
	return false
end
local id = ids[1]
redis.call('ZREM', KEYS[1], id)
local data = redis.call('GET', ARGV[2] .. id)
if not data then
	return false
end
return {id, data}
`)

	// Releases a lock if it is still held by owner. Returns 1 if released.
	redisReleaseLockLua = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur == ARGV[1] then
	redis.call('DEL', KEYS[1])
	return 1
end
return 0
`)
)

func (b *RedisBackend) Init(ctx context.Context) error {
	if b.closed.Load() {
		return api.ErrQueueClosed
	}
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) Add(ctx context.Context, job *api.Job) error {
	if b.closed.Load() {
		return api.ErrQueueClosed
	}
	if err := job.Validate(); err != nil {
		return err
	}

	stored := job.Clone()
	now := b.opts.Now()
	if stored.EnqueuedAt.IsZero() {
		stored.EnqueuedAt = now
	}
	if stored.IsRecurring() && stored.NextFireAt == 0 {
		next, err := NextFireAt(stored.CronExpression, stored.CronTimezone, now)
		if err != nil {
			return err
		}
		stored.NextFireAt = next
	}

	data, err := EncodeJob(stored)
	if err != nil {
		return err
	}

	score := now.UnixMilli()
	if stored.NextFireAt != 0 {
		score = stored.NextFireAt * 1000
	}

	added, err := redisAddLua.Run(ctx, b.client,
		[]string{b.keyActive(stored.Queue), b.keyReady(stored.Queue), b.keyJob(stored.ID)},
		stored.ID, data, score).Int64()
	if err != nil {
		return err
	}
	if added == 0 {
		b.opts.Logger.Info("job already running, add skipped",
			slog.String("queue", string(stored.Queue)),
			slog.String("job_id", stored.ID),
		)
	}
	return nil
}

func (b *RedisBackend) Poll(ctx context.Context, queue api.QueueName, workerToken string) (*api.Job, error) {
	if b.closed.Load() {
		return nil, api.ErrQueueClosed
	}

	ctx, cancel := context.WithTimeout(ctx, b.opts.PollTimeout)
	defer cancel()

	job, err := b.poll(ctx, queue, workerToken)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

func (b *RedisBackend) poll(ctx context.Context, queue api.QueueName, workerToken string) (*api.Job, error) {
	// The poll lock serializes claims for one queue across the fleet.
	lockKey := b.keyPollLock(queue)
	acquired, err := b.client.SetNX(ctx, lockKey, workerToken, b.opts.PollLockTTL).Result()
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, nil
	}
	defer func() {
		// Use a fresh context so an expired poll deadline still releases.
		rctx, rcancel := context.WithTimeout(context.Background(), time.Second)
		defer rcancel()
		if err := redisReleaseLockLua.Run(rctx, b.client, []string{lockKey}, workerToken).Err(); err != nil {
			b.opts.Logger.Warn("poll lock release failed",
				slog.String("queue", string(queue)),
				slog.Any("error", err),
			)
		}
	}()

	now := b.opts.Now()
	nowMs := now.UnixMilli()

	moved, err := redisRequeueStalledLua.Run(ctx, b.client,
		[]string{b.keyActive(queue), b.keyReady(queue)}, nowMs).Int64()
	if err != nil {
		return nil, err
	}
	if moved > 0 {
		b.opts.Logger.Warn("stalled jobs requeued",
			slog.String("queue", string(queue)),
			slog.Int64("count", moved),
		)
	}

	res, err := redisClaimLua.Run(ctx, b.client,
		[]string{b.keyReady(queue)}, nowMs, b.opts.Prefix+"job:").Slice()
	if err != nil {
		return nil, err
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("redis claim returned %d values", len(res))
	}
	id, _ := res[0].(string)
	data, _ := res[1].(string)

	job, err := DecodeJob([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("decode job %q: %w", id, err)
	}

	if job.IsRecurring() {
		if err := b.reschedule(ctx, job, now); err != nil {
			return nil, err
		}
		polled := job.Clone()
		polled.Attempts++
		return polled, nil
	}

	job.Attempts++
	updated, err := EncodeJob(job)
	if err != nil {
		return nil, err
	}
	expiry := now.Add(b.LockDuration(queue)).UnixMilli()
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.keyJob(job.ID), updated, 0)
	pipe.ZAdd(ctx, b.keyActive(queue), redis.Z{Score: float64(expiry), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return job, nil
}

// reschedule stores a new copy of a recurring job with its next fire time.
func (b *RedisBackend) reschedule(ctx context.Context, job *api.Job, now time.Time) error {
	next, err := NextFireAt(job.CronExpression, job.CronTimezone, now)
	if err != nil {
		b.opts.Logger.Error("recurring job dropped",
			slog.String("job_id", job.ID),
			slog.String("cron", job.CronExpression),
			slog.Any("error", err),
		)
		return b.client.Del(ctx, b.keyJob(job.ID)).Err()
	}

	cp := job.Clone()
	cp.NextFireAt = next
	data, err := EncodeJob(cp)
	if err != nil {
		return err
	}
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.keyJob(cp.ID), data, 0)
	pipe.ZAdd(ctx, b.keyReady(cp.Queue), redis.Z{Score: float64(next * 1000), Member: cp.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (b *RedisBackend) load(ctx context.Context, id string) (*api.Job, error) {
	data, err := b.client.Get(ctx, b.keyJob(id)).Bytes()
	if err != nil {
		return nil, err
	}
	return DecodeJob(data)
}

func (b *RedisBackend) Update(ctx context.Context, update JobUpdate) error {
	if b.closed.Load() {
		return api.ErrQueueClosed
	}

	job, err := b.load(ctx, update.ID)
	if errors.Is(err, redis.Nil) {
		// Removed while running.
		return b.client.ZRem(ctx, b.keyActive(update.Queue), update.ID).Err()
	}
	if err != nil {
		return err
	}

	if job.IsRecurring() {
		cp := job.Clone()
		if update.Status == StatusFailed {
			cp.FailureCount++
		} else {
			cp.FailureCount = 0
		}
		data, err := EncodeJob(cp)
		if err != nil {
			return err
		}
		return b.client.Set(ctx, b.keyJob(cp.ID), data, 0).Err()
	}

	pipe := b.client.TxPipeline()
	pipe.ZRem(ctx, b.keyActive(update.Queue), update.ID)
	switch {
	case update.Status == StatusCompleted:
		pipe.Del(ctx, b.keyJob(update.ID))
	case job.Attempts < b.opts.MaxAttempts:
		retryAt := b.opts.Now().Add(b.opts.RetryBackoff).UnixMilli()
		pipe.ZAdd(ctx, b.keyReady(update.Queue), redis.Z{Score: float64(retryAt), Member: update.ID})
	default:
		b.opts.Logger.Warn("failed job dropped after max attempts",
			slog.String("queue", string(update.Queue)),
			slog.String("job_id", update.ID),
			slog.Int("attempts", job.Attempts),
			slog.Any("error", update.Err),
		)
		pipe.Del(ctx, b.keyJob(update.ID))
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (b *RedisBackend) Remove(ctx context.Context, id string) error {
	if b.closed.Load() {
		return api.ErrQueueClosed
	}

	job, err := b.load(ctx, id)
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := b.client.TxPipeline()
	pipe.ZRem(ctx, b.keyReady(job.Queue), id)
	pipe.ZRem(ctx, b.keyActive(job.Queue), id)
	pipe.Del(ctx, b.keyJob(id))
	_, err = pipe.Exec(ctx)
	return err
}

// Len returns the number of ready plus active jobs in queue.
func (b *RedisBackend) Len(ctx context.Context, queue api.QueueName) (int, error) {
	pipe := b.client.Pipeline()
	ready := pipe.ZCard(ctx, b.keyReady(queue))
	active := pipe.ZCard(ctx, b.keyActive(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(ready.Val() + active.Val()), nil
}

func (b *RedisBackend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.client.Close()
}
