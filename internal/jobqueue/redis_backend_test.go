package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/flowq/internal/config"
	"github.com/petrijr/flowq/internal/testutil"
	"github.com/petrijr/flowq/pkg/api"
)

type RedisBackendTestSuite struct {
	suite.Suite
	client  *redis.Client
	clock   *fakeClock
	backend *RedisBackend
	ctx     context.Context
}

func TestRedisBackendSuite(t *testing.T) {
	ts := new(RedisBackendTestSuite)
	ts.client = testutil.NewRedisClient(t)
	suite.Run(t, ts)
}

func (r *RedisBackendTestSuite) SetupTest() {
	r.ctx = context.Background()
	r.NoError(r.client.FlushDB(r.ctx).Err())

	r.clock = newFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	// The suite shares one client; the backend is not closed between tests.
	r.backend = NewRedisBackend(r.client, RedisOptions{
		Prefix:       "flowq:test:",
		MaxAttempts:  2,
		RetryBackoff: -1,
		LockDurations: map[api.QueueName]time.Duration{
			api.QueueOneTime: time.Minute,
		},
		Now: r.clock.Now,
	})
	r.NoError(r.backend.Init(r.ctx))
}

func (r *RedisBackendTestSuite) TestAddPollComplete() {
	r.NoError(r.backend.Add(r.ctx, oneTimeJob("a")))
	r.NoError(r.backend.Add(r.ctx, oneTimeJob("b")))

	job, err := r.backend.Poll(r.ctx, api.QueueOneTime, "w1")
	r.NoError(err)
	r.NotNil(job)
	r.Equal("a", job.ID)
	r.Equal(1, job.Attempts)
	r.Equal(api.OneTimeJobData{FlowVersionID: "fv-a", ProjectID: "p1"}, job.Payload)

	r.NoError(r.backend.Update(r.ctx, JobUpdate{ID: job.ID, Queue: job.Queue, Status: StatusCompleted}))

	n, err := r.backend.Len(r.ctx, api.QueueOneTime)
	r.NoError(err)
	r.Equal(1, n)

	exists, err := r.client.Exists(r.ctx, "flowq:test:job:a").Result()
	r.NoError(err)
	r.Zero(exists)
}

func (r *RedisBackendTestSuite) TestPollEmptyQueue() {
	job, err := r.backend.Poll(r.ctx, api.QueueWebhook, "w1")
	r.NoError(err)
	r.Nil(job)
}

func (r *RedisBackendTestSuite) TestPollLockHeldByAnotherWorker() {
	r.NoError(r.backend.Add(r.ctx, oneTimeJob("a")))
	r.NoError(r.client.Set(r.ctx, r.backend.keyPollLock(api.QueueOneTime), "other", time.Minute).Err())

	job, err := r.backend.Poll(r.ctx, api.QueueOneTime, "w1")
	r.NoError(err)
	r.Nil(job, "no job may be claimed while another worker holds the poll lock")

	owner, err := r.client.Get(r.ctx, r.backend.keyPollLock(api.QueueOneTime)).Result()
	r.NoError(err)
	r.Equal("other", owner, "a foreign poll lock must not be released")
}

func (r *RedisBackendTestSuite) TestPollReleasesOwnLock() {
	r.NoError(r.backend.Add(r.ctx, oneTimeJob("a")))

	_, err := r.backend.Poll(r.ctx, api.QueueOneTime, "w1")
	r.NoError(err)

	exists, err := r.client.Exists(r.ctx, r.backend.keyPollLock(api.QueueOneTime)).Result()
	r.NoError(err)
	r.Zero(exists)
}

func (r *RedisBackendTestSuite) TestFailedJobIsRetriedThenDropped() {
	r.NoError(r.backend.Add(r.ctx, oneTimeJob("a")))
	boom := errors.New("boom")

	job, err := r.backend.Poll(r.ctx, api.QueueOneTime, "w1")
	r.NoError(err)
	r.NotNil(job)
	r.NoError(r.backend.Update(r.ctx, JobUpdate{ID: job.ID, Queue: job.Queue, Status: StatusFailed, Err: boom}))

	job, err = r.backend.Poll(r.ctx, api.QueueOneTime, "w1")
	r.NoError(err)
	r.NotNil(job, "failed job must be redelivered")
	r.Equal(2, job.Attempts)
	r.NoError(r.backend.Update(r.ctx, JobUpdate{ID: job.ID, Queue: job.Queue, Status: StatusFailed, Err: boom}))

	job, err = r.backend.Poll(r.ctx, api.QueueOneTime, "w1")
	r.NoError(err)
	r.Nil(job, "job must be dropped after max attempts")

	n, err := r.backend.Len(r.ctx, api.QueueOneTime)
	r.NoError(err)
	r.Zero(n)
}

func (r *RedisBackendTestSuite) TestStalledJobIsRedelivered() {
	r.NoError(r.backend.Add(r.ctx, oneTimeJob("a")))

	job, err := r.backend.Poll(r.ctx, api.QueueOneTime, "crashed-worker")
	r.NoError(err)
	r.NotNil(job)

	job, err = r.backend.Poll(r.ctx, api.QueueOneTime, "w2")
	r.NoError(err)
	r.Nil(job, "leased job must not be redelivered before its lease expires")

	r.clock.Advance(2 * time.Minute)

	job, err = r.backend.Poll(r.ctx, api.QueueOneTime, "w2")
	r.NoError(err)
	r.NotNil(job)
	r.Equal("a", job.ID)
}

func (r *RedisBackendTestSuite) TestAddSkipsLeasedJob() {
	r.NoError(r.backend.Add(r.ctx, oneTimeJob("a")))

	job, err := r.backend.Poll(r.ctx, api.QueueOneTime, "w1")
	r.NoError(err)
	r.NotNil(job)

	r.NoError(r.backend.Add(r.ctx, oneTimeJob("a")))

	again, err := r.backend.Poll(r.ctx, api.QueueOneTime, "w2")
	r.NoError(err)
	r.Nil(again, "a leased job must not be queued a second time")

	r.NoError(r.backend.Update(r.ctx, JobUpdate{ID: job.ID, Queue: job.Queue, Status: StatusCompleted}))
	n, err := r.backend.Len(r.ctx, api.QueueOneTime)
	r.NoError(err)
	r.Zero(n)
}

func (r *RedisBackendTestSuite) TestDelayedResumeLeaseCoversFlowTimeout() {
	cfg := config.Default()
	backend := NewRedisBackend(r.client, RedisOptions{
		Prefix:        "flowq:test:",
		LockDurations: cfg.LockDurations(),
		Now:           r.clock.Now,
	})
	r.GreaterOrEqual(backend.LockDuration(api.QueueScheduled), cfg.FlowTimeout)

	r.NoError(backend.Add(r.ctx, &api.Job{
		ID:      "delayed:run-1",
		Queue:   api.QueueScheduled,
		Payload: api.ScheduledJobData{JobType: api.JobTypeDelayedFlow, RunID: "run-1"},
	}))
	got, err := backend.Poll(r.ctx, api.QueueScheduled, "w1")
	r.NoError(err)
	r.NotNil(got)

	r.clock.Advance(2 * time.Minute)
	got, err = backend.Poll(r.ctx, api.QueueScheduled, "w2")
	r.NoError(err)
	r.Nil(got, "a resumed run still inside the flow timeout must not be redelivered")
}

func (r *RedisBackendTestSuite) TestDelayedJob() {
	job := &api.Job{
		ID:         "delayed:run-1",
		Queue:      api.QueueScheduled,
		Payload:    api.ScheduledJobData{FlowVersionID: "fv1", JobType: api.JobTypeDelayedFlow, RunID: "run-1"},
		NextFireAt: r.clock.Now().Add(10 * time.Second).Unix(),
	}
	r.NoError(r.backend.Add(r.ctx, job))

	got, err := r.backend.Poll(r.ctx, api.QueueScheduled, "w1")
	r.NoError(err)
	r.Nil(got)

	r.clock.Advance(10 * time.Second)
	got, err = r.backend.Poll(r.ctx, api.QueueScheduled, "w1")
	r.NoError(err)
	r.NotNil(got)
	r.Equal("run-1", got.Payload.(api.ScheduledJobData).RunID)
}

func (r *RedisBackendTestSuite) TestRecurringJobIsRescheduled() {
	job := &api.Job{
		ID:             "fv1",
		Queue:          api.QueueScheduled,
		Payload:        api.ScheduledJobData{FlowID: "f1", FlowVersionID: "fv1", JobType: api.JobTypeExecuteTrigger},
		CronExpression: "* * * * *",
	}
	r.NoError(r.backend.Add(r.ctx, job))

	var last int64
	for range 3 {
		r.clock.Advance(time.Minute)
		got, err := r.backend.Poll(r.ctx, api.QueueScheduled, "w1")
		r.NoError(err)
		r.NotNil(got)
		r.Greater(got.NextFireAt, last)
		last = got.NextFireAt

		r.NoError(r.backend.Update(r.ctx, JobUpdate{ID: got.ID, Queue: got.Queue, Status: StatusFailed}))
	}

	stored, err := r.backend.load(r.ctx, "fv1")
	r.NoError(err)
	r.Equal(3, stored.FailureCount)
	r.Greater(stored.NextFireAt, last)

	r.NoError(r.backend.Remove(r.ctx, "fv1"))
	n, err := r.backend.Len(r.ctx, api.QueueScheduled)
	r.NoError(err)
	r.Zero(n)
}

func (r *RedisBackendTestSuite) TestRemoveMissingJob() {
	r.NoError(r.backend.Remove(r.ctx, "nope"))
}
