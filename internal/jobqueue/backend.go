package jobqueue

import (
	"context"

	"github.com/petrijr/flowq/pkg/api"
)

// JobStatus is the terminal outcome a worker reports for a polled job.
type JobStatus string

const (
	StatusCompleted JobStatus = "COMPLETED"
	StatusFailed    JobStatus = "FAILED"
)

// JobUpdate reports the outcome of a dispatched job back to the backend so it
// can release its lock, retry, or adjust the recurring record.
type JobUpdate struct {
	ID     string
	Queue  api.QueueName
	Status JobStatus
	// Err is the failure reason when Status is StatusFailed.
	Err error
}

// Backend stores pending jobs for named queues.
//
// Implementations must be safe for concurrent use by several worker loops.
type Backend interface {
	// Init prepares the backend (connections, schema). It is called once
	// before any other method.
	Init(ctx context.Context) error

	// Add stores a job. Adding a job whose ID already exists in the same
	// queue replaces the stored record. Backends that lease polled jobs
	// skip the add while the ID is leased.
	Add(ctx context.Context, job *api.Job) error

	// Poll returns the next ready job of the queue, or nil if none is ready.
	// A poll that times out is reported as nil, nil.
	Poll(ctx context.Context, queue api.QueueName, workerToken string) (*api.Job, error)

	// Update reports the terminal status of a previously polled job.
	Update(ctx context.Context, update JobUpdate) error

	// Remove cancels a recurring job. Removing an unknown id is not an error.
	Remove(ctx context.Context, id string) error

	// Close releases resources. Later calls fail with api.ErrQueueClosed.
	Close() error
}
