package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from workers for logging and metrics. It is
// also the process-wide sink for executor failures and recovered panics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay job dispatch.
type Observer interface {
	// OnJobStarted is called after a job has been polled and before its
	// executor runs.
	OnJobStarted(ctx context.Context, job *Job)

	// OnJobCompleted is called when an executor returns without error.
	OnJobCompleted(ctx context.Context, job *Job, duration time.Duration)

	// OnJobFailed is called when an executor returns an error or panics.
	OnJobFailed(ctx context.Context, job *Job, err error, duration time.Duration)

	// OnPollError is called when a backend poll fails for a reason other
	// than "no job available".
	OnPollError(ctx context.Context, queue QueueName, err error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnJobStarted(ctx context.Context, job *Job)                            {}
func (NoopObserver) OnJobCompleted(ctx context.Context, job *Job, d time.Duration)         {}
func (NoopObserver) OnJobFailed(ctx context.Context, job *Job, err error, d time.Duration) {}
func (NoopObserver) OnPollError(ctx context.Context, queue QueueName, err error)           {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnJobStarted(ctx context.Context, job *Job) {
	for _, o := range c.observers {
		o.OnJobStarted(ctx, job)
	}
}

func (c *CompositeObserver) OnJobCompleted(ctx context.Context, job *Job, d time.Duration) {
	for _, o := range c.observers {
		o.OnJobCompleted(ctx, job, d)
	}
}

func (c *CompositeObserver) OnJobFailed(ctx context.Context, job *Job, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnJobFailed(ctx, job, err, d)
	}
}

func (c *CompositeObserver) OnPollError(ctx context.Context, queue QueueName, err error) {
	for _, o := range c.observers {
		o.OnPollError(ctx, queue, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs job lifecycle events
// using the provided slog.Logger. If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnJobStarted(ctx context.Context, job *Job) {
	o.Logger.DebugContext(ctx, "job_started",
		slog.String("queue", string(job.Queue)),
		slog.String("job_id", job.ID),
	)
}

func (o *LoggingObserver) OnJobCompleted(ctx context.Context, job *Job, d time.Duration) {
	o.Logger.InfoContext(ctx, "job_completed",
		slog.String("queue", string(job.Queue)),
		slog.String("job_id", job.ID),
		slog.Duration("duration", d),
	)
}

func (o *LoggingObserver) OnJobFailed(ctx context.Context, job *Job, err error, d time.Duration) {
	o.Logger.ErrorContext(ctx, "job_failed",
		slog.String("queue", string(job.Queue)),
		slog.String("job_id", job.ID),
		slog.Int("failure_count", job.FailureCount),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnPollError(ctx context.Context, queue QueueName, err error) {
	o.Logger.WarnContext(ctx, "poll_failed",
		slog.String("queue", string(queue)),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate job durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	jobsStarted   atomic.Int64
	jobsCompleted atomic.Int64
	jobsFailed    atomic.Int64
	pollErrors    atomic.Int64
	totalDuration atomic.Int64 // nanoseconds, completed jobs only
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	JobsStarted   int64
	JobsCompleted int64
	JobsFailed    int64
	JobsInFlight  int64
	PollErrors    int64

	AvgJobDuration time.Duration
}

func (m *BasicMetrics) OnJobStarted(ctx context.Context, job *Job) {
	m.jobsStarted.Add(1)
}

func (m *BasicMetrics) OnJobCompleted(ctx context.Context, job *Job, d time.Duration) {
	m.jobsCompleted.Add(1)
	m.totalDuration.Add(d.Nanoseconds())
}

func (m *BasicMetrics) OnJobFailed(ctx context.Context, job *Job, err error, d time.Duration) {
	m.jobsFailed.Add(1)
}

func (m *BasicMetrics) OnPollError(ctx context.Context, queue QueueName, err error) {
	m.pollErrors.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.jobsStarted.Load()
	completed := m.jobsCompleted.Load()
	failed := m.jobsFailed.Load()

	var avg time.Duration
	if completed > 0 {
		avg = time.Duration(m.totalDuration.Load() / completed)
	}

	return BasicMetricsSnapshot{
		JobsStarted:    started,
		JobsCompleted:  completed,
		JobsFailed:     failed,
		JobsInFlight:   started - completed - failed,
		PollErrors:     m.pollErrors.Load(),
		AvgJobDuration: avg,
	}
}
