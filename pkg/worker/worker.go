package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/flowq/internal/jobqueue"
	"github.com/petrijr/flowq/pkg/api"
)

var (
	// ErrShutdownTimeout is returned by Stop when in-flight jobs did not
	// settle before the context deadline. Those jobs are abandoned.
	ErrShutdownTimeout = errors.New("worker: shutdown timed out with jobs in flight")

	// ErrAlreadyStarted is returned by Start on a running Worker.
	ErrAlreadyStarted = errors.New("worker: already started")

	// ErrJobPanicked wraps a panic recovered from a dispatcher.
	ErrJobPanicked = errors.New("worker: job panicked")
)

// Dispatcher executes one polled job. A returned error marks the job FAILED.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *api.Job) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, job *api.Job) error

func (f DispatcherFunc) Dispatch(ctx context.Context, job *api.Job) error { return f(ctx, job) }

// Config controls worker behavior.
type Config struct {
	// Queues to consume. Empty means api.AllQueues().
	Queues []api.QueueName

	// Concurrency is the ceiling on simultaneously executing jobs across
	// all queues. Zero disables consumption entirely.
	Concurrency int

	// PollInterval is the pause after an empty or failed poll (default 1s).
	PollInterval time.Duration

	// Observer receives job lifecycle events and is the sink for failures
	// and recovered panics.
	Observer api.Observer

	Logger *slog.Logger
}

// Worker runs one polling loop per queue and dispatches jobs concurrently,
// bounded by a shared Limiter.
type Worker struct {
	backend    jobqueue.Backend
	dispatcher Dispatcher
	cfg        Config
	limiter    *Limiter
	id         string

	mu       sync.Mutex
	cancel   context.CancelFunc
	running  bool
	loops    sync.WaitGroup
	inFlight sync.WaitGroup
}

// New creates a Worker with default config.
func New(backend jobqueue.Backend, dispatcher Dispatcher) *Worker {
	return NewWithConfig(backend, dispatcher, Config{Concurrency: 10})
}

// NewWithConfig creates a Worker. Negative concurrency is treated as zero.
func NewWithConfig(backend jobqueue.Backend, dispatcher Dispatcher, cfg Config) *Worker {
	if len(cfg.Queues) == 0 {
		cfg.Queues = api.AllQueues()
	}
	if cfg.Concurrency < 0 {
		cfg.Concurrency = 0
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Observer == nil {
		cfg.Observer = api.NoopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	w := &Worker{
		backend:    backend,
		dispatcher: dispatcher,
		cfg:        cfg,
		id:         uuid.NewString(),
	}
	if cfg.Concurrency > 0 {
		w.limiter = NewLimiter(cfg.Concurrency)
	}
	return w
}

// ID identifies this worker process in logs.
func (w *Worker) ID() string { return w.id }

// Limiter returns the shared concurrency limiter, or nil when consumption is
// disabled.
func (w *Worker) Limiter() *Limiter { return w.limiter }

// Start launches the queue loops. It returns immediately. With zero
// concurrency nothing is started.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return ErrAlreadyStarted
	}
	w.running = true
	if w.limiter == nil {
		w.cfg.Logger.Info("worker_consumption_disabled", slog.String("worker_id", w.id))
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	for _, q := range w.cfg.Queues {
		w.loops.Add(1)
		go w.loop(ctx, q)
	}
	w.cfg.Logger.Info("worker_started",
		slog.String("worker_id", w.id),
		slog.Int("concurrency", w.cfg.Concurrency),
		slog.Int("queues", len(w.cfg.Queues)),
	)
	return nil
}

func (w *Worker) loop(ctx context.Context, queue api.QueueName) {
	defer w.loops.Done()

	for {
		if err := w.limiter.Acquire(ctx); err != nil {
			return
		}

		job, err := w.backend.Poll(ctx, queue, w.id+":"+uuid.NewString())
		if err != nil {
			w.limiter.Release()
			if ctx.Err() != nil || errors.Is(err, api.ErrQueueClosed) {
				return
			}
			w.cfg.Observer.OnPollError(ctx, queue, err)
			if !w.sleep(ctx) {
				return
			}
			continue
		}
		if job == nil {
			w.limiter.Release()
			if !w.sleep(ctx) {
				return
			}
			continue
		}

		// Dispatched jobs outlive the loop: Stop does not cancel them.
		w.inFlight.Add(1)
		go w.dispatch(context.WithoutCancel(ctx), job)
	}
}

func (w *Worker) sleep(ctx context.Context) bool {
	t := time.NewTimer(w.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (w *Worker) dispatch(ctx context.Context, job *api.Job) {
	defer w.inFlight.Done()
	defer w.limiter.Release()

	start := time.Now()
	w.cfg.Observer.OnJobStarted(ctx, job)

	err := w.safeDispatch(ctx, job)
	dur := time.Since(start)

	update := jobqueue.JobUpdate{ID: job.ID, Queue: job.Queue, Status: jobqueue.StatusCompleted}
	if err != nil {
		update.Status = jobqueue.StatusFailed
		update.Err = err
		w.cfg.Observer.OnJobFailed(ctx, job, err, dur)
	} else {
		w.cfg.Observer.OnJobCompleted(ctx, job, dur)
	}

	if uerr := w.backend.Update(ctx, update); uerr != nil {
		w.cfg.Logger.Warn("job_update_failed",
			slog.String("queue", string(job.Queue)),
			slog.String("job_id", job.ID),
			slog.String("status", string(update.Status)),
			slog.Any("error", uerr),
		)
	}
}

func (w *Worker) safeDispatch(ctx context.Context, job *api.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.cfg.Logger.Error("job_panicked",
				slog.String("job_id", job.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()
	return w.dispatcher.Dispatch(ctx, job)
}

// Stop stops polling, waits for in-flight jobs until ctx is done and closes
// the backend. If ctx expires first, the remaining jobs are abandoned and
// ErrShutdownTimeout is returned.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.running = false
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.loops.Wait()

	done := make(chan struct{})
	go func() {
		w.inFlight.Wait()
		close(done)
	}()

	var stopErr error
	select {
	case <-done:
	case <-ctx.Done():
		w.cfg.Logger.Warn("worker_shutdown_timeout",
			slog.String("worker_id", w.id),
			slog.Int("abandoned", w.inFlightCount()),
		)
		stopErr = ErrShutdownTimeout
	}

	if err := w.backend.Close(); err != nil {
		return errors.Join(stopErr, err)
	}
	w.cfg.Logger.Info("worker_stopped", slog.String("worker_id", w.id))
	return stopErr
}

func (w *Worker) inFlightCount() int {
	if w.limiter == nil {
		return 0
	}
	return w.limiter.InFlight()
}
