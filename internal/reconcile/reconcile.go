// Package reconcile rebuilds recurring and delayed jobs from durable flow
// state. The in-process queue loses everything on restart, so the runtime
// runs a Reconciler before its workers start.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/petrijr/flowq/internal/jobqueue"
	"github.com/petrijr/flowq/pkg/api"
)

// Enqueuer is the part of the queue manager reconciliation needs.
type Enqueuer interface {
	EnqueueRepeating(ctx context.Context, id string, data api.ScheduledJobData, schedule api.ScheduleOptions) error
	EnqueueDelayed(ctx context.Context, id string, data api.ScheduledJobData, at time.Time) error
}

// Reconciler restores schedules for enabled flows and resumptions for
// paused runs.
type Reconciler struct {
	Flows    api.FlowStore
	Versions api.FlowVersionStore
	Hooks    api.TriggerHooks
	Paused   api.PausedRunLister
	Queue    Enqueuer
	Logger   *slog.Logger
}

// Result summarizes one reconciliation pass.
type Result struct {
	Flows       int
	Schedules   int
	Renewals    int
	DelayedRuns int
	Failed      int
}

// Run reconciles every enabled flow and paused run. A failure for one flow
// or run is logged and counted; it never stops the others. Run only returns
// an error when the flows or runs could not be listed.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var res Result
	flows, err := r.Flows.GetAllEnabled(ctx)
	if err != nil {
		return res, fmt.Errorf("list enabled flows: %w", err)
	}

	for _, flow := range flows {
		res.Flows++
		schedules, renewals, err := r.flow(ctx, flow)
		res.Schedules += schedules
		res.Renewals += renewals
		if err != nil {
			res.Failed++
			logger.ErrorContext(ctx, "reconcile_flow_failed",
				slog.String("flow_id", flow.ID),
				slog.Any("error", err),
			)
		}
	}

	if r.Paused != nil {
		runs, err := r.Paused.ListPaused(ctx)
		if err != nil {
			return res, fmt.Errorf("list paused runs: %w", err)
		}
		for _, run := range runs {
			ok, err := r.pausedRun(ctx, run)
			if err != nil {
				res.Failed++
				logger.ErrorContext(ctx, "reconcile_run_failed",
					slog.String("run_id", run.ID),
					slog.Any("error", err),
				)
				continue
			}
			if ok {
				res.DelayedRuns++
			}
		}
	}

	logger.InfoContext(ctx, "reconcile_done",
		slog.Int("flows", res.Flows),
		slog.Int("schedules", res.Schedules),
		slog.Int("renewals", res.Renewals),
		slog.Int("delayed_runs", res.DelayedRuns),
		slog.Int("failed", res.Failed),
	)
	return res, nil
}

func (r *Reconciler) flow(ctx context.Context, flow *api.Flow) (schedules, renewals int, err error) {
	if flow.PublishedVersionID == "" {
		return 0, 0, fmt.Errorf("enabled flow without published version")
	}
	fv, err := r.Versions.GetOrThrow(ctx, flow.PublishedVersionID)
	if err != nil {
		return 0, 0, err
	}

	enabled, err := r.Hooks.Enable(ctx, api.TriggerHookRequest{ProjectID: flow.ProjectID, FlowVersion: fv})
	if err != nil {
		return 0, 0, err
	}
	if enabled == nil {
		return 0, 0, nil
	}

	data := api.ScheduledJobData{
		FlowID:        flow.ID,
		FlowVersionID: fv.ID,
		ProjectID:     flow.ProjectID,
	}
	if enabled.Schedule != nil {
		data.JobType = api.JobTypeExecuteTrigger
		if err := r.Queue.EnqueueRepeating(ctx, jobqueue.RepeatingJobID(fv.ID), data, *enabled.Schedule); err != nil {
			return 0, 0, err
		}
		schedules++
	}
	if enabled.WebhookRenewal != nil {
		data.JobType = api.JobTypeRenewWebhook
		if err := r.Queue.EnqueueRepeating(ctx, jobqueue.RenewalJobID(fv.ID), data, *enabled.WebhookRenewal); err != nil {
			return schedules, 0, err
		}
		renewals++
	}
	return schedules, renewals, nil
}

func (r *Reconciler) pausedRun(ctx context.Context, run *api.FlowRun) (bool, error) {
	pm := run.PauseMetadata
	if pm == nil || pm.ResumeDateTime.IsZero() {
		// Paused for a webhook or approval, not a timer.
		return false, nil
	}

	data := api.ScheduledJobData{
		FlowID:               run.FlowID,
		FlowVersionID:        run.FlowVersionID,
		ProjectID:            run.ProjectID,
		JobType:              api.JobTypeDelayedFlow,
		RunID:                run.ID,
		SynchronousHandlerID: pm.HandlerID,
		ProgressUpdateType:   pm.ProgressUpdateType,
	}
	if err := r.Queue.EnqueueDelayed(ctx, jobqueue.DelayedJobID(run.ID), data, pm.ResumeDateTime); err != nil {
		return false, err
	}
	return true, nil
}
