package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/petrijr/flowq/pkg/api"
)

// FlowExecutor runs ONE_TIME jobs.
type FlowExecutor struct {
	versions api.FlowVersionStore
	engine   api.FlowEngine
	timeout  time.Duration
	logger   *slog.Logger
}

// NewFlowExecutor creates a FlowExecutor. timeout bounds one flow run; zero
// means no bound.
func NewFlowExecutor(versions api.FlowVersionStore, engine api.FlowEngine, timeout time.Duration, logger *slog.Logger) *FlowExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlowExecutor{versions: versions, engine: engine, timeout: timeout, logger: logger}
}

func (e *FlowExecutor) Execute(ctx context.Context, job *api.Job) error {
	data, ok := job.Payload.(api.OneTimeJobData)
	if !ok {
		return payloadMismatch(job, "OneTimeJobData")
	}

	fv, err := e.versions.GetOrThrow(ctx, data.FlowVersionID)
	if err != nil {
		return err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	e.logger.DebugContext(ctx, "flow_execute",
		slog.String("job_id", job.ID),
		slog.String("flow_version_id", fv.ID),
		slog.String("project_id", data.ProjectID),
	)
	return e.engine.ExecuteFlow(ctx, fv, data)
}
