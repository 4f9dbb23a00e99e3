package api

import (
	"encoding/gob"
	"fmt"
	"time"
)

func init() {
	gob.Register(OneTimeJobData{})
	gob.Register(ScheduledJobData{})
	gob.Register(WebhookJobData{})
	gob.Register(UserInteractionJobData{})
}

// QueueName identifies a named channel of jobs of one category.
type QueueName string

const (
	QueueOneTime         QueueName = "ONE_TIME"
	QueueScheduled       QueueName = "SCHEDULED"
	QueueWebhook         QueueName = "WEBHOOK"
	QueueUserInteraction QueueName = "USER_INTERACTION"
)

// AllQueues returns every queue name in a stable order.
func AllQueues() []QueueName {
	return []QueueName{QueueOneTime, QueueScheduled, QueueWebhook, QueueUserInteraction}
}

// Valid reports whether q is one of the known queue names.
func (q QueueName) Valid() bool {
	switch q {
	case QueueOneTime, QueueScheduled, QueueWebhook, QueueUserInteraction:
		return true
	}
	return false
}

// ScheduledJobType selects what a SCHEDULED job does when it fires.
type ScheduledJobType string

const (
	JobTypeExecuteTrigger ScheduledJobType = "EXECUTE_TRIGGER"
	JobTypeRenewWebhook   ScheduledJobType = "RENEW_WEBHOOK"
	JobTypeDelayedFlow    ScheduledJobType = "DELAYED_FLOW"
)

// ProgressUpdateType tells the flow engine how to report progress back to
// whoever started the run.
type ProgressUpdateType string

const (
	ProgressUpdateNone            ProgressUpdateType = "NONE"
	ProgressUpdateWebhookResponse ProgressUpdateType = "WEBHOOK_RESPONSE"
	ProgressUpdateTestFlow        ProgressUpdateType = "TEST_FLOW"
)

// JobPayload is the closed set of payloads a Job can carry.
// Only the variants declared in this package implement it.
type JobPayload interface {
	// Queue returns the queue this payload variant belongs to.
	Queue() QueueName
	sealed()
}

// OneTimeJobData asks a worker to execute a flow version once.
type OneTimeJobData struct {
	FlowVersionID        string
	ProjectID            string
	Environment          string
	SynchronousHandlerID string
	ProgressUpdateType   ProgressUpdateType
}

func (OneTimeJobData) Queue() QueueName { return QueueOneTime }
func (OneTimeJobData) sealed()          {}

// ScheduledJobData drives trigger polling, webhook renewal and delayed
// resumption of paused runs.
type ScheduledJobData struct {
	FlowID               string
	FlowVersionID        string
	ProjectID            string
	JobType              ScheduledJobType
	SynchronousHandlerID string

	// Set for DELAYED_FLOW only.
	RunID              string
	ProgressUpdateType ProgressUpdateType
}

func (ScheduledJobData) Queue() QueueName { return QueueScheduled }
func (ScheduledJobData) sealed()          {}

// WebhookJobData is one inbound webhook delivery.
type WebhookJobData struct {
	FlowID               string
	Payload              WebhookPayload
	Simulate             bool
	RequestID            string
	SynchronousHandlerID string
}

func (WebhookJobData) Queue() QueueName { return QueueWebhook }
func (WebhookJobData) sealed()          {}

// UserInteractionJobData carries a human-in-the-loop callback for a run.
type UserInteractionJobData struct {
	FlowRunID   string
	ProjectID   string
	Interaction string
	// Payload is the raw callback body, usually JSON.
	Payload []byte
}

func (UserInteractionJobData) Queue() QueueName { return QueueUserInteraction }
func (UserInteractionJobData) sealed()          {}

// WebhookPayload is the raw inbound HTTP request as received by ingress.
type WebhookPayload struct {
	Method  string
	Headers map[string]string
	Query   map[string]string
	Body    []byte
}

// Job is the unit of schedulable work.
//
// A Job with a CronExpression is recurring: each time it fires, the backend
// stores a fresh copy with a recomputed NextFireAt. The polled record itself
// is never mutated.
type Job struct {
	ID      string
	Queue   QueueName
	Payload JobPayload

	CronExpression string
	CronTimezone   string

	// NextFireAt is the earliest dispatch time in epoch seconds.
	// Zero means "immediately".
	NextFireAt int64

	FailureCount int
	Attempts     int
	EnqueuedAt   time.Time
}

// IsRecurring reports whether the job reschedules itself after firing.
func (j *Job) IsRecurring() bool {
	return j.CronExpression != ""
}

// ReadyAt reports whether the job may be dispatched at now.
func (j *Job) ReadyAt(now time.Time) bool {
	return j.NextFireAt == 0 || j.NextFireAt <= now.Unix()
}

// Clone returns a shallow copy of the job.
func (j *Job) Clone() *Job {
	cp := *j
	return &cp
}

// Validate checks that the job can be stored.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidJob)
	}
	if !j.Queue.Valid() {
		return fmt.Errorf("%w: unknown queue %q", ErrInvalidJob, j.Queue)
	}
	if j.Payload == nil {
		return fmt.Errorf("%w: job %s has no payload", ErrInvalidJob, j.ID)
	}
	if j.Payload.Queue() != j.Queue {
		return fmt.Errorf("%w: payload for %s enqueued on %s", ErrInvalidJob, j.Payload.Queue(), j.Queue)
	}
	if j.CronTimezone != "" && j.CronExpression == "" {
		return fmt.Errorf("%w: timezone without cron expression", ErrInvalidJob)
	}
	return nil
}
