// Package worker consumes jobs from a queue backend and hands them to a
// Dispatcher.
//
// A Worker runs one polling loop per queue. Each iteration acquires a slot
// from a shared Limiter, polls the backend and, when a job is returned,
// dispatches it on its own goroutine so the loop keeps polling. The slot is
// released when the job settles. Empty or failed polls release the slot and
// pause for Config.PollInterval.
//
// After a dispatch the worker reports the outcome to the backend through
// jobqueue.Backend.Update: COMPLETED on success, FAILED on error or panic.
// Failures and recovered panics also go to the configured api.Observer.
//
// A Worker with zero concurrency never polls. API-only nodes use this to
// enqueue jobs without consuming them.
//
// Stop cancels the loops but not the dispatched jobs. It waits for them
// until its context is done, then closes the backend.
package worker
