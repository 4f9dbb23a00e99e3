package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/petrijr/flowq/internal/simulation"
	"github.com/petrijr/flowq/pkg/api"
)

// ResponseWatcher is the part of the watcher the webhook executor needs.
type ResponseWatcher interface {
	HandlerID() string
	OneTimeListener(ctx context.Context, requestID string, timeout time.Duration, cancelOnTimeout bool) (api.EngineHTTPResponse, error)
	Publish(ctx context.Context, requestID, handlerID string, resp api.EngineHTTPResponse) error
}

// SimulationEnder looks up and ends a trigger test session.
type SimulationEnder interface {
	Get(ctx context.Context, flowID, projectID string) (*api.WebhookSimulation, error)
	Delete(ctx context.Context, p simulation.DeleteParams) error
}

// WebhookConfig wires a WebhookExecutor.
type WebhookConfig struct {
	Flows       api.FlowStore
	Versions    api.FlowVersionStore
	Handshake   api.HandshakeResolver
	Extractor   api.PayloadExtractor
	Runs        api.RunStarter
	Simulations SimulationEnder
	Watcher     ResponseWatcher
	// Timeout bounds the wait for a synchronous flow response.
	Timeout time.Duration
	Logger  *slog.Logger
}

// WebhookExecutor runs WEBHOOK jobs. Every reply, including 404 and 410,
// goes back to the caller through the watcher when the job asks for a
// synchronous reply.
type WebhookExecutor struct {
	cfg WebhookConfig
}

func NewWebhookExecutor(cfg WebhookConfig) *WebhookExecutor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WebhookExecutor{cfg: cfg}
}

func (e *WebhookExecutor) Execute(ctx context.Context, job *api.Job) error {
	data, ok := job.Payload.(api.WebhookJobData)
	if !ok {
		return payloadMismatch(job, "WebhookJobData")
	}

	resp, err := e.Handle(ctx, data)
	if err != nil {
		return err
	}

	if data.SynchronousHandlerID == "" {
		return nil
	}
	if err := e.cfg.Watcher.Publish(ctx, data.RequestID, data.SynchronousHandlerID, resp); err != nil {
		return fmt.Errorf("publish webhook response: %w", err)
	}
	return nil
}

// Handle runs the delivery checks and returns the reply for the caller.
func (e *WebhookExecutor) Handle(ctx context.Context, data api.WebhookJobData) (api.EngineHTTPResponse, error) {
	log := e.cfg.Logger.With(
		slog.String("flow_id", data.FlowID),
		slog.String("request_id", data.RequestID),
		slog.Bool("simulate", data.Simulate),
	)

	flow, err := e.cfg.Flows.GetByID(ctx, data.FlowID)
	if err != nil {
		return api.EngineHTTPResponse{}, err
	}
	if flow == nil {
		log.InfoContext(ctx, "webhook_flow_gone")
		return api.ResponseGone, nil
	}

	fv, verr := e.resolveVersion(ctx, flow, data.Simulate)
	if verr != nil && !errors.Is(verr, api.ErrEntityNotFound) {
		return api.EngineHTTPResponse{}, verr
	}

	if fv != nil && e.cfg.Handshake != nil {
		hs, err := e.cfg.Handshake.Handshake(ctx, fv, data.Payload)
		if err != nil {
			return api.EngineHTTPResponse{}, err
		}
		if hs != nil {
			log.InfoContext(ctx, "webhook_handshake")
			return *hs, nil
		}
	}

	if flow.Status != api.FlowEnabled && !data.Simulate {
		log.InfoContext(ctx, "webhook_flow_disabled")
		return api.ResponseNotFound, nil
	}
	if fv == nil {
		log.InfoContext(ctx, "webhook_version_missing")
		return api.ResponseNotFound, nil
	}

	if data.Simulate {
		_, err := e.cfg.Simulations.Get(ctx, flow.ID, flow.ProjectID)
		if errors.Is(err, api.ErrEntityNotFound) {
			log.InfoContext(ctx, "webhook_no_simulation")
			return api.ResponseNotFound, nil
		}
		if err != nil {
			return api.EngineHTTPResponse{}, err
		}
	}

	payloads, err := e.cfg.Extractor.ExtractPayloadAndSave(ctx, api.ExtractRequest{
		FlowVersion: fv,
		ProjectID:   flow.ProjectID,
		Payload:     data.Payload,
		Simulate:    data.Simulate,
	})
	if err != nil {
		return api.EngineHTTPResponse{}, err
	}

	if data.Simulate {
		err := e.cfg.Simulations.Delete(ctx, simulation.DeleteParams{
			FlowID:         flow.ID,
			ProjectID:      flow.ProjectID,
			FlowVersionID:  fv.ID,
			IgnoreNotFound: true,
		})
		if err != nil {
			return api.EngineHTTPResponse{}, err
		}
		log.InfoContext(ctx, "webhook_simulated", slog.Int("payloads", len(payloads)))
		return api.ResponseAccepted, nil
	}

	sync := data.SynchronousHandlerID != ""
	req := api.StartRunsRequest{
		FlowVersion:        fv,
		ProjectID:          flow.ProjectID,
		ProgressUpdateType: api.ProgressUpdateNone,
		Payloads:           payloads,
	}
	if sync {
		req.SynchronousHandlerID = e.cfg.Watcher.HandlerID()
		req.ProgressUpdateType = api.ProgressUpdateWebhookResponse
	}

	runs, err := e.cfg.Runs.StartAndSaveRuns(ctx, req)
	if err != nil {
		return api.EngineHTTPResponse{}, err
	}
	if len(runs) == 0 {
		log.InfoContext(ctx, "webhook_no_runs")
		return api.ResponseNotFound, nil
	}
	log.InfoContext(ctx, "webhook_runs_started", slog.Int("runs", len(runs)))

	if !sync {
		return api.ResponseAccepted, nil
	}
	return e.cfg.Watcher.OneTimeListener(ctx, runs[0].ID, e.cfg.Timeout, true)
}

func (e *WebhookExecutor) resolveVersion(ctx context.Context, flow *api.Flow, simulate bool) (*api.FlowVersion, error) {
	if simulate {
		return e.cfg.Versions.GetLatest(ctx, flow.ID)
	}
	if flow.PublishedVersionID == "" {
		return nil, fmt.Errorf("flow %s has no published version: %w", flow.ID, api.ErrEntityNotFound)
	}
	return e.cfg.Versions.GetOrThrow(ctx, flow.PublishedVersionID)
}
