package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/petrijr/flowq/pkg/api"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, api.ErrEntityNotFound):
		return http.StatusNotFound
	case errors.Is(err, api.ErrLockTimeout):
		return http.StatusConflict
	case errors.Is(err, errBadRequest), errors.Is(err, api.ErrInvalidJob):
		return http.StatusBadRequest
	case errors.Is(err, api.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineResponse relays a flow's reply as-is.
func writeEngineResponse(w http.ResponseWriter, resp api.EngineHTTPResponse) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}
