// Package api contains the data model shared by the flowq queue core and
// the platform around it.
//
// Most users interact with the higher-level flowq package, which re-exports
// selected types from this package. The api package is intended for code that
// implements the collaborators the core consumes.
//
// # Jobs
//
// A Job is the unit of schedulable work. It lives on one of four queues and
// carries exactly one JobPayload variant matching that queue:
//
//   - OneTimeJobData on ONE_TIME
//   - ScheduledJobData on SCHEDULED (trigger polls, webhook renewals, delayed
//     resumption of paused runs)
//   - WebhookJobData on WEBHOOK
//   - UserInteractionJobData on USER_INTERACTION
//
// The payload set is sealed. Jobs with a cron expression are recurring.
//
// # Collaborators
//
// Flows, versions, runs, trigger hooks and the flow engine are owned by the
// rest of the platform. This package defines the narrow interfaces the core
// calls them through (FlowStore, TriggerHooks, RunStarter and friends).
//
// # Errors
//
// Sentinel errors (ErrEntityNotFound, ErrLockTimeout, ErrQueueClosed,
// ErrInvalidJob) are wrapped by implementations; match them with errors.Is.
//
// # Observability
//
// Workers report job lifecycle events to an Observer. LoggingObserver writes
// slog records, BasicMetrics keeps counters, and NewCompositeObserver fans
// out to several observers.
package api
