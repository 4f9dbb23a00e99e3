package jobqueue

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/flowq/pkg/api"
)

// Manager is the producer-side facade over the Backend chosen at
// composition time. Producers never talk to a backend directly.
type Manager struct {
	backend Backend
	logger  *slog.Logger
}

// NewManager wraps backend. A nil logger means slog.Default().
func NewManager(backend Backend, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{backend: backend, logger: logger}
}

// Backend returns the wrapped backend.
func (m *Manager) Backend() Backend {
	return m.backend
}

// Add stores job. Failures are logged and returned.
func (m *Manager) Add(ctx context.Context, job *api.Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	if err := m.backend.Add(ctx, job); err != nil {
		m.logger.ErrorContext(ctx, "job_add_failed",
			slog.String("queue", string(job.Queue)),
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		return err
	}
	return nil
}

// AddBestEffort stores job and swallows failures after logging them.
// Scheduling producers use it so one lost job never stops the producer.
func (m *Manager) AddBestEffort(ctx context.Context, job *api.Job) {
	_ = m.Add(ctx, job)
}

// EnqueueOneTime queues a flow run and returns the job id.
func (m *Manager) EnqueueOneTime(ctx context.Context, data api.OneTimeJobData) (string, error) {
	job := &api.Job{
		ID:      uuid.NewString(),
		Queue:   api.QueueOneTime,
		Payload: data,
	}
	return job.ID, m.Add(ctx, job)
}

// EnqueueWebhook queues an inbound webhook delivery. The request id doubles
// as the job id: re-adding a pending delivery replaces it, and re-adding one
// that a worker holds is skipped. A delivery that already completed can run
// again.
func (m *Manager) EnqueueWebhook(ctx context.Context, data api.WebhookJobData) (string, error) {
	if data.RequestID == "" {
		data.RequestID = uuid.NewString()
	}
	job := &api.Job{
		ID:      data.RequestID,
		Queue:   api.QueueWebhook,
		Payload: data,
	}
	return job.ID, m.Add(ctx, job)
}

// EnqueueRepeating installs a recurring SCHEDULED job. id is stable for a
// flow version so re-enabling replaces the previous schedule.
func (m *Manager) EnqueueRepeating(ctx context.Context, id string, data api.ScheduledJobData, schedule api.ScheduleOptions) error {
	job := &api.Job{
		ID:             id,
		Queue:          api.QueueScheduled,
		Payload:        data,
		CronExpression: schedule.CronExpression,
		CronTimezone:   schedule.Timezone,
	}
	return m.Add(ctx, job)
}

// EnqueueDelayed queues a SCHEDULED job that fires once at 'at'.
// Times in the past fire on the next poll.
func (m *Manager) EnqueueDelayed(ctx context.Context, id string, data api.ScheduledJobData, at time.Time) error {
	job := &api.Job{
		ID:         id,
		Queue:      api.QueueScheduled,
		Payload:    data,
		NextFireAt: at.Unix(),
	}
	if job.NextFireAt <= 0 {
		job.NextFireAt = 0
	}
	return m.Add(ctx, job)
}

// EnqueueUserInteraction queues a human-in-the-loop callback.
func (m *Manager) EnqueueUserInteraction(ctx context.Context, data api.UserInteractionJobData) (string, error) {
	job := &api.Job{
		ID:      uuid.NewString(),
		Queue:   api.QueueUserInteraction,
		Payload: data,
	}
	return job.ID, m.Add(ctx, job)
}

// RemoveRepeating cancels a recurring job.
func (m *Manager) RemoveRepeating(ctx context.Context, id string) error {
	if err := m.backend.Remove(ctx, id); err != nil {
		m.logger.ErrorContext(ctx, "job_remove_failed",
			slog.String("job_id", id),
			slog.Any("error", err),
		)
		return err
	}
	return nil
}

// RepeatingJobID is the stable id of a flow version's trigger schedule.
func RepeatingJobID(flowVersionID string) string {
	return flowVersionID
}

// RenewalJobID is the stable id of a flow version's webhook renewal schedule.
func RenewalJobID(flowVersionID string) string {
	return "renew:" + flowVersionID
}

// DelayedJobID is the id of the job resuming a paused run.
func DelayedJobID(runID string) string {
	return "delayed:" + runID
}
