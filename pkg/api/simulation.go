package api

import (
	"net/http"
	"time"
)

// WebhookSimulation is an active "test this trigger" session.
// At most one exists per flow.
type WebhookSimulation struct {
	ID            string    `json:"id"`
	FlowID        string    `json:"flowId"`
	FlowVersionID string    `json:"flowVersionId,omitempty"`
	ProjectID     string    `json:"projectId"`
	Created       time.Time `json:"created"`
	Updated       time.Time `json:"updated"`
}

// EngineHTTPResponse is the HTTP-shaped reply a webhook caller receives.
type EngineHTTPResponse struct {
	Status  int               `json:"status"`
	Body    []byte            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Common replies.
var (
	ResponseAccepted     = EngineHTTPResponse{Status: http.StatusOK, Body: []byte("{}")}
	ResponseNotFound     = EngineHTTPResponse{Status: http.StatusNotFound, Body: []byte(`{"message":"flow not found"}`)}
	ResponseGone         = EngineHTTPResponse{Status: http.StatusGone, Body: []byte(`{"message":"flow deleted"}`)}
	ResponseStillRunning = EngineHTTPResponse{Status: http.StatusAccepted, Body: []byte(`{"message":"still processing"}`)}
)
