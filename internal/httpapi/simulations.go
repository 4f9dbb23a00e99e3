package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/petrijr/flowq/internal/simulation"
)

type createSimulationRequest struct {
	FlowID    string `json:"flowId"`
	ProjectID string `json:"projectId"`
}

func (s *Server) createSimulation(w http.ResponseWriter, r *http.Request) {
	var req createSimulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid json: %v", errBadRequest, err))
		return
	}
	if req.FlowID == "" {
		writeError(w, fmt.Errorf("%w: flowId is required", errBadRequest))
		return
	}

	sim, err := s.simulations.Create(r.Context(), req.FlowID, req.ProjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sim)
}

func (s *Server) getSimulation(w http.ResponseWriter, r *http.Request) {
	flowID, projectID, err := flowQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sim, err := s.simulations.Get(r.Context(), flowID, projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sim)
}

func (s *Server) deleteSimulation(w http.ResponseWriter, r *http.Request) {
	flowID, projectID, err := flowQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	err = s.simulations.Delete(r.Context(), simulation.DeleteParams{
		FlowID:        flowID,
		ProjectID:     projectID,
		FlowVersionID: r.URL.Query().Get("flowVersionId"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func flowQuery(r *http.Request) (flowID, projectID string, err error) {
	q := r.URL.Query()
	flowID = q.Get("flowId")
	if flowID == "" {
		return "", "", fmt.Errorf("%w: flowId is required", errBadRequest)
	}
	return flowID, q.Get("projectId"), nil
}
