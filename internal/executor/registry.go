// Package executor turns polled jobs into calls on the flow collaborators.
// There is one executor per queue; Registry routes jobs to them and is the
// worker's Dispatcher.
package executor

import (
	"context"
	"fmt"

	"github.com/petrijr/flowq/pkg/api"
)

// Executor runs one job. A returned error marks the job FAILED.
type Executor interface {
	Execute(ctx context.Context, job *api.Job) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job *api.Job) error

func (f ExecutorFunc) Execute(ctx context.Context, job *api.Job) error { return f(ctx, job) }

// Registry maps queues to executors.
type Registry struct {
	executors map[api.QueueName]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[api.QueueName]Executor)}
}

// Register sets the executor for queue, replacing any previous one.
func (r *Registry) Register(queue api.QueueName, e Executor) *Registry {
	r.executors[queue] = e
	return r
}

// Dispatch runs job on its queue's executor.
func (r *Registry) Dispatch(ctx context.Context, job *api.Job) error {
	e, ok := r.executors[job.Queue]
	if !ok {
		return fmt.Errorf("%w: no executor for queue %s", api.ErrInvalidJob, job.Queue)
	}
	return e.Execute(ctx, job)
}

func payloadMismatch(job *api.Job, want string) error {
	return fmt.Errorf("%w: job %s on %s carries %T, want %s", api.ErrInvalidJob, job.ID, job.Queue, job.Payload, want)
}
