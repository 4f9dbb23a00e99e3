package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/flowq/internal/jobqueue"
	"github.com/petrijr/flowq/internal/memflow"
	"github.com/petrijr/flowq/pkg/api"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func setup(t *testing.T) (*memflow.Store, *memflow.Hooks, *jobqueue.InMemoryBackend, *clock, *Reconciler) {
	t.Helper()
	c := &clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	flows := memflow.NewStore()
	hooks := memflow.NewHooks()
	backend := jobqueue.NewInMemoryBackend(jobqueue.WithClock(c.Now))
	r := &Reconciler{
		Flows:    flows,
		Versions: flows,
		Hooks:    hooks,
		Paused:   flows,
		Queue:    jobqueue.NewManager(backend, nil),
	}
	return flows, hooks, backend, c, r
}

func TestReconcile_RestoresSchedulesForEnabledFlows(t *testing.T) {
	flows, hooks, backend, _, r := setup(t)

	hooks.Schedules["polling"] = api.TriggerEnableResult{Schedule: &api.ScheduleOptions{CronExpression: "*/5 * * * *", Timezone: "UTC"}}
	hooks.Schedules["expiring-webhook"] = api.TriggerEnableResult{WebhookRenewal: &api.ScheduleOptions{CronExpression: "0 0 * * *"}}

	flows.PutVersion(api.FlowVersion{ID: "fv-poll", FlowID: "f-poll", TriggerType: "polling"})
	flows.PutFlow(api.Flow{ID: "f-poll", ProjectID: "p1", Status: api.FlowEnabled, PublishedVersionID: "fv-poll"})
	flows.PutVersion(api.FlowVersion{ID: "fv-hook", FlowID: "f-hook", TriggerType: "expiring-webhook"})
	flows.PutFlow(api.Flow{ID: "f-hook", ProjectID: "p1", Status: api.FlowEnabled, PublishedVersionID: "fv-hook"})
	flows.PutVersion(api.FlowVersion{ID: "fv-off", FlowID: "f-off", TriggerType: "polling"})
	flows.PutFlow(api.Flow{ID: "f-off", ProjectID: "p1", Status: api.FlowDisabled, PublishedVersionID: "fv-off"})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Flows: 2, Schedules: 1, Renewals: 1}, res)

	poll := backend.Get(api.QueueScheduled, jobqueue.RepeatingJobID("fv-poll"))
	require.NotNil(t, poll)
	assert.Equal(t, "*/5 * * * *", poll.CronExpression)
	assert.Equal(t, api.JobTypeExecuteTrigger, poll.Payload.(api.ScheduledJobData).JobType)

	renew := backend.Get(api.QueueScheduled, jobqueue.RenewalJobID("fv-hook"))
	require.NotNil(t, renew)
	assert.Equal(t, api.JobTypeRenewWebhook, renew.Payload.(api.ScheduledJobData).JobType)

	assert.Nil(t, backend.Get(api.QueueScheduled, jobqueue.RepeatingJobID("fv-off")))
	for _, c := range hooks.Calls() {
		assert.False(t, c.Simulate)
	}
}

func TestReconcile_IsolatesPerFlowFailures(t *testing.T) {
	flows, hooks, backend, _, r := setup(t)
	hooks.Schedules["polling"] = api.TriggerEnableResult{Schedule: &api.ScheduleOptions{CronExpression: "* * * * *"}}
	hooks.Fail["fv-a"] = errors.New("provider unavailable")

	flows.PutVersion(api.FlowVersion{ID: "fv-a", FlowID: "a", TriggerType: "polling"})
	flows.PutFlow(api.Flow{ID: "a", Status: api.FlowEnabled, PublishedVersionID: "fv-a"})
	flows.PutFlow(api.Flow{ID: "b", Status: api.FlowEnabled, PublishedVersionID: "missing-version"})
	flows.PutVersion(api.FlowVersion{ID: "fv-c", FlowID: "c", TriggerType: "polling"})
	flows.PutFlow(api.Flow{ID: "c", Status: api.FlowEnabled, PublishedVersionID: "fv-c"})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Flows)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 1, res.Schedules)
	assert.NotNil(t, backend.Get(api.QueueScheduled, "fv-c"))
}

func TestReconcile_PausedRunFiresNearOriginalTime(t *testing.T) {
	flows, _, backend, c, r := setup(t)
	resumeAt := c.now.Add(10 * time.Second)

	flows.PutRun(api.FlowRun{
		ID:            "run-1",
		FlowID:        "f1",
		FlowVersionID: "fv1",
		ProjectID:     "p1",
		Status:        api.RunPaused,
		PauseMetadata: &api.PauseMetadata{
			ResumeDateTime:     resumeAt,
			HandlerID:          "handler-1",
			ProgressUpdateType: api.ProgressUpdateWebhookResponse,
		},
	})
	flows.PutRun(api.FlowRun{ID: "run-2", Status: api.RunPaused, PauseMetadata: &api.PauseMetadata{}})
	flows.PutRun(api.FlowRun{ID: "run-3", Status: api.RunSucceeded})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.DelayedRuns)

	ctx := context.Background()
	job, err := backend.Poll(ctx, api.QueueScheduled, "w1")
	require.NoError(t, err)
	assert.Nil(t, job, "the run must not resume early")

	c.now = resumeAt
	job, err = backend.Poll(ctx, api.QueueScheduled, "w1")
	require.NoError(t, err)
	require.NotNil(t, job)

	data := job.Payload.(api.ScheduledJobData)
	assert.Equal(t, "run-1", data.RunID)
	assert.Equal(t, "handler-1", data.SynchronousHandlerID)
	assert.Equal(t, api.ProgressUpdateWebhookResponse, data.ProgressUpdateType)
	assert.Equal(t, resumeAt.Unix(), job.NextFireAt)
}

func TestReconcile_PastResumeTimeFiresImmediately(t *testing.T) {
	flows, _, backend, c, r := setup(t)
	flows.PutRun(api.FlowRun{
		ID:            "run-late",
		Status:        api.RunPaused,
		PauseMetadata: &api.PauseMetadata{ResumeDateTime: c.now.Add(-time.Hour)},
	})

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	job, err := backend.Poll(context.Background(), api.QueueScheduled, "w1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, jobqueue.DelayedJobID("run-late"), job.ID)
}
