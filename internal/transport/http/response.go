package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/petavatar/petavatar/internal/common"
)

// Stable error type tags clients can branch on.
const (
	errTypeValidation     = "ValidationError"
	errTypeAuthentication = "AuthenticationError"
	errTypeNotFound       = "NotFoundError"
	errTypeConflict       = "ConflictError"
	errTypeInternal       = "InternalError"
)

type errorBody struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
	Timestamp string `json:"timestamp"`

	// present on conflict responses from the result endpoint
	Status   string `json:"status,omitempty"`
	Progress *int   `json:"progress,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func writeError(w http.ResponseWriter, status int, errorType, message string) {
	writeJSON(w, status, errorBody{
		Error:     message,
		ErrorType: errorType,
		Timestamp: nowRFC3339(),
	})
}

// writeDomainError maps a domain error to the wire taxonomy. Raw internals
// never cross the API; unknown errors become a generic InternalError.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrValidation):
		writeError(w, http.StatusBadRequest, errTypeValidation, err.Error())
	case errors.Is(err, common.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, errTypeAuthentication, "invalid API key")
	case errors.Is(err, common.ErrNotFound):
		writeError(w, http.StatusNotFound, errTypeNotFound, err.Error())
	case errors.Is(err, common.ErrConflict):
		writeError(w, http.StatusConflict, errTypeConflict, err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, errTypeInternal, "internal error")
	}
}
