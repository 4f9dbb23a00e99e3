package api

import (
	"context"
	"time"
)

// FlowStatus is the on/off switch of a flow.
type FlowStatus string

const (
	FlowEnabled  FlowStatus = "ENABLED"
	FlowDisabled FlowStatus = "DISABLED"
)

// Flow is owned by the flow store; the queue core only reads it.
type Flow struct {
	ID                 string
	ProjectID          string
	Status             FlowStatus
	PublishedVersionID string
}

// FlowVersion is one immutable (or draft) revision of a flow.
type FlowVersion struct {
	ID          string
	FlowID      string
	TriggerType string
	// TriggerSettings is opaque to the queue core; trigger hooks interpret it.
	TriggerSettings map[string]string
}

// RunStatus is the lifecycle state of a flow run.
type RunStatus string

const (
	RunQueued    RunStatus = "QUEUED"
	RunRunning   RunStatus = "RUNNING"
	RunPaused    RunStatus = "PAUSED"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
)

// PauseMetadata is attached to a run paused for a timed delay.
type PauseMetadata struct {
	ResumeDateTime     time.Time
	HandlerID          string
	ProgressUpdateType ProgressUpdateType
}

// FlowRun is one execution of a flow version.
type FlowRun struct {
	ID            string
	FlowID        string
	FlowVersionID string
	ProjectID     string
	Status        RunStatus
	PauseMetadata *PauseMetadata
}

// FlowRunPayload is one extracted trigger output that becomes one run.
type FlowRunPayload []byte

// ScheduleOptions describes a cron schedule returned by trigger hooks.
type ScheduleOptions struct {
	CronExpression string
	Timezone       string
}

// TriggerEnableResult is what enabling a trigger asks the core to schedule.
// Both fields are optional.
type TriggerEnableResult struct {
	// Schedule is set for polling triggers.
	Schedule *ScheduleOptions
	// WebhookRenewal is set for webhook triggers whose subscription expires.
	WebhookRenewal *ScheduleOptions
}

// TriggerHookRequest addresses a trigger subscription.
type TriggerHookRequest struct {
	ProjectID   string
	FlowVersion *FlowVersion
	Simulate    bool
}

// FlowStore looks up flows.
type FlowStore interface {
	// GetByID returns nil, nil when the flow does not exist.
	GetByID(ctx context.Context, flowID string) (*Flow, error)
	GetAllEnabled(ctx context.Context) ([]*Flow, error)
}

// FlowVersionStore looks up flow versions.
type FlowVersionStore interface {
	// GetOrThrow fails with ErrEntityNotFound for unknown versions.
	GetOrThrow(ctx context.Context, versionID string) (*FlowVersion, error)
	// GetLatest returns the current (possibly draft) version of a flow.
	GetLatest(ctx context.Context, flowID string) (*FlowVersion, error)
}

// TriggerHooks subscribes and unsubscribes flow triggers with third parties.
type TriggerHooks interface {
	Enable(ctx context.Context, req TriggerHookRequest) (*TriggerEnableResult, error)
	Disable(ctx context.Context, req TriggerHookRequest) error
	// Renew refreshes an expiring webhook subscription.
	Renew(ctx context.Context, req TriggerHookRequest) error
}

// HandshakeResolver answers provider verification challenges.
type HandshakeResolver interface {
	// Handshake returns nil when the trigger defines no handshake or the
	// payload is not a handshake request.
	Handshake(ctx context.Context, flowVersion *FlowVersion, payload WebhookPayload) (*EngineHTTPResponse, error)
}

// ExtractRequest is the input to payload extraction.
type ExtractRequest struct {
	FlowVersion *FlowVersion
	ProjectID   string
	Payload     WebhookPayload
	Simulate    bool
}

// PayloadExtractor turns a raw delivery into zero or more run payloads and
// records them as trigger events.
type PayloadExtractor interface {
	ExtractPayloadAndSave(ctx context.Context, req ExtractRequest) ([]FlowRunPayload, error)
}

// StartRunsRequest is the input to RunStarter.
type StartRunsRequest struct {
	FlowVersion          *FlowVersion
	ProjectID            string
	SynchronousHandlerID string
	ProgressUpdateType   ProgressUpdateType
	Payloads             []FlowRunPayload
}

// RunStarter creates durable flow runs.
type RunStarter interface {
	StartAndSaveRuns(ctx context.Context, req StartRunsRequest) ([]*FlowRun, error)
}

// PausedRunLister lists runs paused for a timed delay.
type PausedRunLister interface {
	ListPaused(ctx context.Context) ([]*FlowRun, error)
}

// RunResumer resumes a paused run.
type RunResumer interface {
	Resume(ctx context.Context, runID string, handlerID string, progress ProgressUpdateType) error
}

// FlowEngine executes a flow version for a one-time job.
type FlowEngine interface {
	ExecuteFlow(ctx context.Context, flowVersion *FlowVersion, job OneTimeJobData) error
}

// TriggerPoller runs a polling trigger and returns new items.
type TriggerPoller interface {
	Poll(ctx context.Context, flowVersion *FlowVersion, projectID string) ([]FlowRunPayload, error)
}

// InteractionHandler applies a human-in-the-loop callback to a run.
type InteractionHandler interface {
	Handle(ctx context.Context, data UserInteractionJobData) error
}
