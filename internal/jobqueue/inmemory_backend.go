package jobqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/flowq/pkg/api"
)

// InMemoryBackend is a process-local Backend. It keeps an ordered slice per
// queue guarded by a single mutex.
//
// Nothing survives a restart; recurring and delayed jobs must be rebuilt at
// startup (see internal/reconcile). Failed one-shot jobs are dropped.
type InMemoryBackend struct {
	mu     sync.Mutex
	queues map[api.QueueName][]*api.Job
	closed bool

	now    func() time.Time
	logger *slog.Logger
}

// InMemoryOption configures an InMemoryBackend.
type InMemoryOption func(*InMemoryBackend)

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) InMemoryOption {
	return func(b *InMemoryBackend) { b.now = now }
}

// WithLogger sets the logger used for dropped jobs and cron errors.
func WithLogger(logger *slog.Logger) InMemoryOption {
	return func(b *InMemoryBackend) { b.logger = logger }
}

// NewInMemoryBackend creates an empty in-process backend.
func NewInMemoryBackend(opts ...InMemoryOption) *InMemoryBackend {
	b := &InMemoryBackend{
		queues: make(map[api.QueueName][]*api.Job),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Ensure InMemoryBackend implements Backend.
var _ Backend = (*InMemoryBackend)(nil)

func (b *InMemoryBackend) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = false
	return nil
}

func (b *InMemoryBackend) Add(ctx context.Context, job *api.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	stored := job.Clone()
	if stored.EnqueuedAt.IsZero() {
		stored.EnqueuedAt = b.now()
	}
	if stored.IsRecurring() && stored.NextFireAt == 0 {
		next, err := NextFireAt(stored.CronExpression, stored.CronTimezone, b.now())
		if err != nil {
			return err
		}
		stored.NextFireAt = next
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return api.ErrQueueClosed
	}

	jobs := b.queues[stored.Queue]
	for i, existing := range jobs {
		if existing.ID == stored.ID {
			jobs[i] = stored
			return nil
		}
	}
	b.queues[stored.Queue] = append(jobs, stored)
	return nil
}

func (b *InMemoryBackend) Poll(ctx context.Context, queue api.QueueName, workerToken string) (*api.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, api.ErrQueueClosed
	}

	now := b.now()
	jobs := b.queues[queue]
	for i, job := range jobs {
		if !job.ReadyAt(now) {
			continue
		}

		remaining := append(jobs[:i:i], jobs[i+1:]...)
		if job.IsRecurring() {
			if next, err := NextFireAt(job.CronExpression, job.CronTimezone, now); err != nil {
				b.logger.Error("recurring job dropped",
					slog.String("job_id", job.ID),
					slog.String("cron", job.CronExpression),
					slog.Any("error", err),
				)
			} else {
				cp := job.Clone()
				cp.NextFireAt = next
				remaining = append(remaining, cp)
			}
		}
		b.queues[queue] = remaining

		polled := job.Clone()
		polled.Attempts++
		return polled, nil
	}
	return nil, nil
}

func (b *InMemoryBackend) Update(ctx context.Context, update JobUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return api.ErrQueueClosed
	}

	jobs := b.queues[update.Queue]
	for i, job := range jobs {
		if job.ID != update.ID {
			continue
		}
		// Only recurring jobs are still stored after a poll.
		cp := job.Clone()
		if update.Status == StatusFailed {
			cp.FailureCount++
		} else {
			cp.FailureCount = 0
		}
		jobs[i] = cp
		return nil
	}

	if update.Status == StatusFailed {
		b.logger.Warn("failed job dropped",
			slog.String("queue", string(update.Queue)),
			slog.String("job_id", update.ID),
			slog.Any("error", update.Err),
		)
	}
	return nil
}

func (b *InMemoryBackend) Remove(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return api.ErrQueueClosed
	}

	for queue, jobs := range b.queues {
		for i, job := range jobs {
			if job.ID == id {
				b.queues[queue] = append(jobs[:i:i], jobs[i+1:]...)
				break
			}
		}
	}
	return nil
}

// Len returns the number of stored jobs in queue, ready or not.
func (b *InMemoryBackend) Len(queue api.QueueName) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue])
}

// Get returns a copy of a stored job, or nil.
func (b *InMemoryBackend) Get(queue api.QueueName, id string) *api.Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, job := range b.queues[queue] {
		if job.ID == id {
			return job.Clone()
		}
	}
	return nil
}

func (b *InMemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.queues = make(map[api.QueueName][]*api.Job)
	return nil
}
