package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

//
// Helpers
//

// testObserver records calls to verify fan-out behavior.
type testObserver struct {
	mu sync.Mutex

	starts     int
	completes  int
	fails      int
	pollErrors int

	lastJob      *Job
	lastErr      error
	lastDuration time.Duration
	lastQueue    QueueName
}

func (o *testObserver) OnJobStarted(ctx context.Context, job *Job) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts++
	o.lastJob = job
}

func (o *testObserver) OnJobCompleted(ctx context.Context, job *Job, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completes++
	o.lastJob = job
	o.lastDuration = d
}

func (o *testObserver) OnJobFailed(ctx context.Context, job *Job, err error, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fails++
	o.lastJob = job
	o.lastErr = err
	o.lastDuration = d
}

func (o *testObserver) OnPollError(ctx context.Context, queue QueueName, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pollErrors++
	o.lastQueue = queue
	o.lastErr = err
}

// recordingHandler is a slog.Handler that captures records in memory.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cpy := slog.Record{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
	}
	r.Attrs(func(a slog.Attr) bool {
		cpy.AddAttrs(a)
		return true
	})
	h.records = append(h.records, cpy)
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	return h
}

func attrsToMap(r slog.Record) map[string]any {
	m := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a.Value.Any()
		return true
	})
	return m
}

func newTestJob() *Job {
	return &Job{
		ID:           "job-123",
		Queue:        QueueWebhook,
		Payload:      WebhookJobData{FlowID: "flow-1", RequestID: "job-123"},
		FailureCount: 2,
	}
}

//
// NoopObserver
//

func TestNoopObserver_DoesNotPanic(t *testing.T) {
	ctx := context.Background()
	job := newTestJob()
	var o Observer = NoopObserver{}

	o.OnJobStarted(ctx, job)
	o.OnJobCompleted(ctx, job, time.Second)
	o.OnJobFailed(ctx, job, errors.New("boom"), time.Second)
	o.OnPollError(ctx, QueueOneTime, errors.New("boom"))
}

//
// CompositeObserver
//

func TestNewCompositeObserver_EmptyReturnsNoop(t *testing.T) {
	o := NewCompositeObserver()
	if _, ok := o.(NoopObserver); !ok {
		t.Fatalf("expected NewCompositeObserver() to return NoopObserver, got %T", o)
	}
}

func TestNewCompositeObserver_SingleReturnsThatObserver(t *testing.T) {
	single := &testObserver{}
	o := NewCompositeObserver(single, nil)

	if got, ok := o.(*testObserver); !ok || got != single {
		t.Fatalf("expected the single non-nil observer to be returned, got %T (%p)", o, o)
	}
}

func TestCompositeObserver_ForwardsAllEvents(t *testing.T) {
	ctx := context.Background()
	job := newTestJob()

	o1 := &testObserver{}
	o2 := &testObserver{}
	co, ok := NewCompositeObserver(o1, o2).(*CompositeObserver)
	if !ok {
		t.Fatalf("expected *CompositeObserver")
	}

	err := errors.New("executor failed")
	co.OnJobStarted(ctx, job)
	co.OnJobCompleted(ctx, job, time.Second)
	co.OnJobFailed(ctx, job, err, 2*time.Second)
	co.OnPollError(ctx, QueueScheduled, err)

	for i, o := range []*testObserver{o1, o2} {
		if o.starts != 1 || o.completes != 1 || o.fails != 1 || o.pollErrors != 1 {
			t.Fatalf("observer %d did not receive all calls: %+v", i+1, o)
		}
		if o.lastJob != job {
			t.Fatalf("observer %d job mismatch", i+1)
		}
		if o.lastErr != err || o.lastDuration != 2*time.Second || o.lastQueue != QueueScheduled {
			t.Fatalf("observer %d argument mismatch: %+v", i+1, o)
		}
	}
}

//
// LoggingObserver
//

func TestNewLoggingObserver_NilLoggerUsesDefault(t *testing.T) {
	o := NewLoggingObserver(nil)
	lo, ok := o.(*LoggingObserver)
	if !ok {
		t.Fatalf("expected *LoggingObserver, got %T", o)
	}
	if lo.Logger == nil {
		t.Fatalf("expected non-nil Logger when created with nil")
	}
}

func TestLoggingObserver_LevelsAndAttributes(t *testing.T) {
	ctx := context.Background()
	job := newTestJob()

	h := &recordingHandler{}
	o := NewLoggingObserver(slog.New(h))

	o.OnJobStarted(ctx, job)
	o.OnJobCompleted(ctx, job, time.Second)
	o.OnJobFailed(ctx, job, errors.New("boom"), time.Second)
	o.OnPollError(ctx, QueueOneTime, errors.New("redis down"))

	if len(h.records) != 4 {
		t.Fatalf("expected 4 log records, got %d", len(h.records))
	}

	want := []struct {
		level slog.Level
		msg   string
	}{
		{slog.LevelDebug, "job_started"},
		{slog.LevelInfo, "job_completed"},
		{slog.LevelError, "job_failed"},
		{slog.LevelWarn, "poll_failed"},
	}
	for i, w := range want {
		if h.records[i].Level != w.level || h.records[i].Message != w.msg {
			t.Fatalf("record %d: expected %v %q, got %v %q", i, w.level, w.msg, h.records[i].Level, h.records[i].Message)
		}
	}

	attrs := attrsToMap(h.records[2])
	if attrs["job_id"] != job.ID {
		t.Fatalf("expected job_id=%q, got %v", job.ID, attrs["job_id"])
	}
	if attrs["queue"] != string(QueueWebhook) {
		t.Fatalf("expected queue=%q, got %v", QueueWebhook, attrs["queue"])
	}
	if attrs["failure_count"] != int64(2) {
		t.Fatalf("expected failure_count=2, got %v", attrs["failure_count"])
	}
	if attrs["error"] == nil {
		t.Fatalf("expected error attribute on failure record, got nil")
	}
}

//
// BasicMetrics
//

func TestBasicMetrics_CountersAndSnapshot(t *testing.T) {
	var m BasicMetrics

	ctx := context.Background()
	job := newTestJob()

	// 3 started, 1 completed, 1 failed -> in flight = 1
	m.OnJobStarted(ctx, job)
	m.OnJobStarted(ctx, job)
	m.OnJobStarted(ctx, job)
	m.OnJobCompleted(ctx, job, 4*time.Second)
	m.OnJobFailed(ctx, job, errors.New("boom"), time.Second)
	m.OnPollError(ctx, QueueOneTime, errors.New("boom"))

	snap := m.Snapshot()
	if snap.JobsStarted != 3 || snap.JobsCompleted != 1 || snap.JobsFailed != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
	if snap.JobsInFlight != 1 {
		t.Fatalf("expected 1 job in flight, got %d", snap.JobsInFlight)
	}
	if snap.PollErrors != 1 {
		t.Fatalf("expected 1 poll error, got %d", snap.PollErrors)
	}
	if snap.AvgJobDuration != 4*time.Second {
		t.Fatalf("expected avg 4s (failed jobs excluded), got %v", snap.AvgJobDuration)
	}
}

func TestBasicMetrics_SnapshotWithoutCompletionsHasZeroAverage(t *testing.T) {
	var m BasicMetrics
	m.OnJobStarted(context.Background(), newTestJob())

	if got := m.Snapshot().AvgJobDuration; got != 0 {
		t.Fatalf("expected zero average, got %v", got)
	}
}
