package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/lks21c/hdsp-agent/pkg/httpclient"
	"github.com/lks21c/hdsp-agent/pkg/llms"
	"github.com/lks21c/hdsp-agent/pkg/orchestrator"
)

type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message, Status: status})
}

// writeErrorFrom maps internal errors onto the HTTP status contract: 400 for
// invalid input or rejected credentials, 503 when the upstream LLM is
// unavailable or still rate limited after retries, 504 on upstream timeouts,
// 500 otherwise.
func writeErrorFrom(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, orchestrator.ErrEmptyRequest):
		status = http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrRunInProgress):
		status = http.StatusConflict
	case errors.Is(err, llms.ErrAuth):
		status = http.StatusBadRequest
	case errors.Is(err, llms.ErrNoUsableKeys):
		status = http.StatusServiceUnavailable
	case httpclient.IsRetryable(err):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	writeError(w, status, err.Error())
}

// decodeBody decodes a JSON request body, reporting 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
