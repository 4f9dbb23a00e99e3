package httpapi

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/petrijr/flowq/pkg/api"
)

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	s.acceptWebhook(w, r, false)
}

func (s *Server) handleSimulatedWebhook(w http.ResponseWriter, r *http.Request) {
	s.acceptWebhook(w, r, true)
}

// acceptWebhook queues the delivery and replies before it is processed.
func (s *Server) acceptWebhook(w http.ResponseWriter, r *http.Request, simulate bool) {
	payload, err := s.readPayload(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	_, err = s.producer.EnqueueWebhook(r.Context(), api.WebhookJobData{
		FlowID:    chi.URLParam(r, "flowId"),
		Payload:   payload,
		Simulate:  simulate,
		RequestID: uuid.NewString(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeEngineResponse(w, api.ResponseAccepted)
}

// handleSyncWebhook queues the delivery with this node's handler id and
// waits for the worker to publish the flow's reply.
func (s *Server) handleSyncWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := s.readPayload(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	requestID := uuid.NewString()
	l := s.watcher.Listen(requestID)
	defer l.Close()

	_, err = s.producer.EnqueueWebhook(r.Context(), api.WebhookJobData{
		FlowID:               chi.URLParam(r, "flowId"),
		Payload:              payload,
		RequestID:            requestID,
		SynchronousHandlerID: s.watcher.HandlerID(),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := l.Wait(r.Context(), s.webhookTimeout, true)
	if err != nil {
		s.logger.WarnContext(r.Context(), "sync_webhook_wait_failed",
			slog.String("request_id", requestID),
			slog.Any("error", err),
		)
		writeError(w, err)
		return
	}
	writeEngineResponse(w, resp)
}

func (s *Server) readPayload(w http.ResponseWriter, r *http.Request) (api.WebhookPayload, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		return api.WebhookPayload{}, fmt.Errorf("%w: read body: %v", errBadRequest, err)
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	query := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}
	return api.WebhookPayload{
		Method:  r.Method,
		Headers: headers,
		Query:   query,
		Body:    body,
	}, nil
}

func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		writeError(w, fmt.Errorf("%w: read body: %v", errBadRequest, err))
		return
	}

	id, err := s.producer.EnqueueUserInteraction(r.Context(), api.UserInteractionJobData{
		FlowRunID:   chi.URLParam(r, "runId"),
		ProjectID:   r.URL.Query().Get("projectId"),
		Interaction: chi.URLParam(r, "interaction"),
		Payload:     body,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id})
}

var errBadRequest = errors.New("bad request")
