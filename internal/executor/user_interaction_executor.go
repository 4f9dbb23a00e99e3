package executor

import (
	"context"

	"github.com/petrijr/flowq/pkg/api"
)

// NewUserInteractionExecutor runs USER_INTERACTION jobs on handler.
func NewUserInteractionExecutor(handler api.InteractionHandler) Executor {
	return ExecutorFunc(func(ctx context.Context, job *api.Job) error {
		data, ok := job.Payload.(api.UserInteractionJobData)
		if !ok {
			return payloadMismatch(job, "UserInteractionJobData")
		}
		return handler.Handle(ctx, data)
	})
}
