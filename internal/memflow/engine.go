package memflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/petrijr/flowq/pkg/api"
)

// ResponsePublisher delivers a run's HTTP response to a waiting handler.
type ResponsePublisher interface {
	Publish(ctx context.Context, requestID, handlerID string, resp api.EngineHTTPResponse) error
}

// Engine is a toy flow engine. Runs complete immediately: a run started with
// a synchronous handler publishes its payload back as a 200 JSON response.
type Engine struct {
	Store     *Store
	Publisher ResponsePublisher
	Logger    *slog.Logger

	// PollItems is returned by Poll for a flow version id.
	PollItems map[string][]api.FlowRunPayload

	mu           sync.Mutex
	triggerEvent int
	executed     []api.OneTimeJobData
	resumed      []string
	interactions []api.UserInteractionJobData
}

// NewEngine creates an Engine over store.
func NewEngine(store *Store, publisher ResponsePublisher) *Engine {
	return &Engine{
		Store:     store,
		Publisher: publisher,
		Logger:    slog.Default(),
		PollItems: make(map[string][]api.FlowRunPayload),
	}
}

var (
	_ api.PayloadExtractor   = (*Engine)(nil)
	_ api.RunStarter         = (*Engine)(nil)
	_ api.HandshakeResolver  = (*Engine)(nil)
	_ api.FlowEngine         = (*Engine)(nil)
	_ api.TriggerPoller      = (*Engine)(nil)
	_ api.RunResumer         = (*Engine)(nil)
	_ api.InteractionHandler = (*Engine)(nil)
)

// ExtractPayloadAndSave fans a JSON array body out into one payload per
// element. Any other body is a single payload.
func (e *Engine) ExtractPayloadAndSave(ctx context.Context, req api.ExtractRequest) ([]api.FlowRunPayload, error) {
	var items []json.RawMessage
	var out []api.FlowRunPayload
	if err := json.Unmarshal(req.Payload.Body, &items); err == nil {
		for _, it := range items {
			out = append(out, api.FlowRunPayload(it))
		}
	} else {
		out = []api.FlowRunPayload{api.FlowRunPayload(req.Payload.Body)}
	}

	e.mu.Lock()
	e.triggerEvent += len(out)
	e.mu.Unlock()
	return out, nil
}

// TriggerEvents returns how many trigger events were saved.
func (e *Engine) TriggerEvents() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.triggerEvent
}

// Handshake answers a "challenge" query parameter when the version's trigger
// settings contain handshake=challenge.
func (e *Engine) Handshake(ctx context.Context, fv *api.FlowVersion, payload api.WebhookPayload) (*api.EngineHTTPResponse, error) {
	if fv.TriggerSettings["handshake"] != "challenge" {
		return nil, nil
	}
	challenge, ok := payload.Query["challenge"]
	if !ok {
		return nil, nil
	}
	return &api.EngineHTTPResponse{
		Status:  http.StatusOK,
		Body:    []byte(challenge),
		Headers: map[string]string{"Content-Type": "text/plain"},
	}, nil
}

func (e *Engine) StartAndSaveRuns(ctx context.Context, req api.StartRunsRequest) ([]*api.FlowRun, error) {
	runs := make([]*api.FlowRun, 0, len(req.Payloads))
	for _, p := range req.Payloads {
		run := api.FlowRun{
			ID:            uuid.NewString(),
			FlowID:        req.FlowVersion.FlowID,
			FlowVersionID: req.FlowVersion.ID,
			ProjectID:     req.ProjectID,
			Status:        api.RunQueued,
		}
		e.Store.PutRun(run)
		runs = append(runs, &run)

		if req.SynchronousHandlerID != "" && e.Publisher != nil {
			go e.complete(context.WithoutCancel(ctx), run, p, req.SynchronousHandlerID)
		}
	}
	return runs, nil
}

func (e *Engine) complete(ctx context.Context, run api.FlowRun, payload api.FlowRunPayload, handlerID string) {
	run.Status = api.RunSucceeded
	e.Store.PutRun(run)

	body := []byte(payload)
	if !json.Valid(body) {
		body, _ = json.Marshal(string(payload))
	}
	resp := api.EngineHTTPResponse{
		Status:  http.StatusOK,
		Body:    body,
		Headers: map[string]string{"Content-Type": "application/json"},
	}
	if err := e.Publisher.Publish(ctx, run.ID, handlerID, resp); err != nil {
		e.Logger.Warn("run_response_publish_failed", slog.String("run_id", run.ID), slog.Any("error", err))
	}
}

func (e *Engine) ExecuteFlow(ctx context.Context, fv *api.FlowVersion, job api.OneTimeJobData) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed = append(e.executed, job)
	return nil
}

// Executed returns the one-time jobs executed so far.
func (e *Engine) Executed() []api.OneTimeJobData {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]api.OneTimeJobData(nil), e.executed...)
}

func (e *Engine) Poll(ctx context.Context, fv *api.FlowVersion, projectID string) ([]api.FlowRunPayload, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.PollItems[fv.ID], nil
}

func (e *Engine) Resume(ctx context.Context, runID, handlerID string, progress api.ProgressUpdateType) error {
	run, ok := e.Store.Run(runID)
	if !ok {
		return fmt.Errorf("flow run %s: %w", runID, api.ErrEntityNotFound)
	}
	run.Status = api.RunRunning
	run.PauseMetadata = nil
	e.Store.PutRun(run)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.resumed = append(e.resumed, runID)
	return nil
}

// Resumed returns the ids of resumed runs.
func (e *Engine) Resumed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.resumed...)
}

func (e *Engine) Handle(ctx context.Context, data api.UserInteractionJobData) error {
	if _, ok := e.Store.Run(data.FlowRunID); !ok {
		return fmt.Errorf("flow run %s: %w", data.FlowRunID, api.ErrEntityNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.interactions = append(e.interactions, data)
	return nil
}

// Interactions returns the handled user interactions.
func (e *Engine) Interactions() []api.UserInteractionJobData {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]api.UserInteractionJobData(nil), e.interactions...)
}
