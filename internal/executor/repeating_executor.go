package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/petrijr/flowq/pkg/api"
)

// ScheduleRemover cancels a recurring job.
type ScheduleRemover interface {
	RemoveRepeating(ctx context.Context, id string) error
}

// RepeatingConfig wires a RepeatingExecutor.
type RepeatingConfig struct {
	Flows    api.FlowStore
	Versions api.FlowVersionStore
	Hooks    api.TriggerHooks
	Poller   api.TriggerPoller
	Runs     api.RunStarter
	Resumer  api.RunResumer
	Remover  ScheduleRemover
	// MaxFailures is the number of consecutive failures after which a
	// recurring job is removed (default 5).
	MaxFailures int
	// Timeout bounds one trigger poll or renewal; zero means no bound.
	Timeout time.Duration
	// FlowTimeout bounds a delayed flow resumption; zero means no bound.
	FlowTimeout time.Duration
	Logger  *slog.Logger
}

// RepeatingExecutor runs SCHEDULED jobs: trigger polls, webhook renewals and
// delayed resumptions.
type RepeatingExecutor struct {
	cfg RepeatingConfig
}

func NewRepeatingExecutor(cfg RepeatingConfig) *RepeatingExecutor {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RepeatingExecutor{cfg: cfg}
}

func (e *RepeatingExecutor) Execute(ctx context.Context, job *api.Job) error {
	data, ok := job.Payload.(api.ScheduledJobData)
	if !ok {
		return payloadMismatch(job, "ScheduledJobData")
	}

	timeout := e.cfg.Timeout
	if data.JobType == api.JobTypeDelayedFlow {
		timeout = e.cfg.FlowTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := e.run(ctx, job, data)
	if err == nil || !job.IsRecurring() {
		return err
	}

	if job.FailureCount+1 >= e.cfg.MaxFailures {
		e.cfg.Logger.ErrorContext(ctx, "schedule_disabled",
			slog.String("job_id", job.ID),
			slog.String("flow_id", data.FlowID),
			slog.Int("failures", job.FailureCount+1),
			slog.Any("error", err),
		)
		e.removeSchedule(ctx, job)
	}
	return err
}

func (e *RepeatingExecutor) run(ctx context.Context, job *api.Job, data api.ScheduledJobData) error {
	switch data.JobType {
	case api.JobTypeExecuteTrigger:
		fv, err := e.activeVersion(ctx, job, data)
		if err != nil || fv == nil {
			return err
		}
		payloads, err := e.cfg.Poller.Poll(ctx, fv, data.ProjectID)
		if err != nil {
			return err
		}
		if len(payloads) == 0 {
			return nil
		}
		runs, err := e.cfg.Runs.StartAndSaveRuns(ctx, api.StartRunsRequest{
			FlowVersion:          fv,
			ProjectID:            data.ProjectID,
			SynchronousHandlerID: data.SynchronousHandlerID,
			ProgressUpdateType:   api.ProgressUpdateNone,
			Payloads:             payloads,
		})
		if err != nil {
			return err
		}
		e.cfg.Logger.InfoContext(ctx, "trigger_polled",
			slog.String("flow_id", data.FlowID),
			slog.Int("runs", len(runs)),
		)
		return nil

	case api.JobTypeRenewWebhook:
		fv, err := e.activeVersion(ctx, job, data)
		if err != nil || fv == nil {
			return err
		}
		return e.cfg.Hooks.Renew(ctx, api.TriggerHookRequest{ProjectID: data.ProjectID, FlowVersion: fv})

	case api.JobTypeDelayedFlow:
		return e.cfg.Resumer.Resume(ctx, data.RunID, data.SynchronousHandlerID, data.ProgressUpdateType)

	default:
		return fmt.Errorf("%w: unknown scheduled job type %q", api.ErrInvalidJob, data.JobType)
	}
}

// activeVersion returns the version a schedule belongs to, or nil after
// removing a schedule whose flow is gone, disabled or republished.
func (e *RepeatingExecutor) activeVersion(ctx context.Context, job *api.Job, data api.ScheduledJobData) (*api.FlowVersion, error) {
	flow, err := e.cfg.Flows.GetByID(ctx, data.FlowID)
	if err != nil {
		return nil, err
	}
	if flow == nil || flow.Status != api.FlowEnabled || flow.PublishedVersionID != data.FlowVersionID {
		e.cfg.Logger.InfoContext(ctx, "schedule_stale",
			slog.String("job_id", job.ID),
			slog.String("flow_id", data.FlowID),
			slog.String("flow_version_id", data.FlowVersionID),
		)
		e.removeSchedule(ctx, job)
		return nil, nil
	}
	return e.cfg.Versions.GetOrThrow(ctx, data.FlowVersionID)
}

func (e *RepeatingExecutor) removeSchedule(ctx context.Context, job *api.Job) {
	if !job.IsRecurring() || e.cfg.Remover == nil {
		return
	}
	if err := e.cfg.Remover.RemoveRepeating(ctx, job.ID); err != nil {
		e.cfg.Logger.WarnContext(ctx, "schedule_remove_failed", slog.String("job_id", job.ID), slog.Any("error", err))
	}
}
