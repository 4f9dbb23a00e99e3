// Package flowq is the job queueing and execution core of a workflow
// automation platform.
//
// Producers (flow enable, webhook ingress, delays, run triggers) put jobs on
// four named queues: ONE_TIME, SCHEDULED, WEBHOOK and USER_INTERACTION.
// Workers poll the queues and hand each job to the executor for its queue.
//
// # Runtime
//
// A Runtime is one node. It is composed once at boot from Settings:
//
//   - memory queue mode keeps jobs in process. Recurring and delayed jobs
//     are rebuilt from the flow store on Start.
//   - redis queue mode stores jobs in Redis so several nodes share them.
//     Synchronous webhook replies travel over Redis pub/sub.
//
// The platform supplies its collaborators through Deps: flow and version
// lookup, trigger hooks, payload extraction, run creation and the flow
// engine itself.
//
// # Synchronous webhooks
//
// The node that receives a synchronous webhook registers the request with
// its Watcher and puts the job on the WEBHOOK queue tagged with the
// watcher's handler id. Whichever node executes the job publishes the reply
// to that handler id. A caller that waits longer than the webhook timeout
// gets 202 "still processing".
//
// # Simulation
//
// A simulation session tests a flow's trigger against its draft version.
// The first delivery in simulate mode is recorded as a trigger event and
// ends the session. No run is started.
//
// # Observability
//
// Workers report job lifecycle events to an Observer. The default is a
// LoggingObserver over the runtime's slog.Logger; BasicMetrics and
// CompositeObserver are available for counters.
package flowq
