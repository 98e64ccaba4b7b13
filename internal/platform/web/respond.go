package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dontdude/testgen/internal/domain"
)

// Client-facing detail messages.
const (
	detailNoInput     = "No code or file provided"
	detailTooLarge    = "Uploaded file is too large"
	detailUpstream    = "Test case generation failed"
	detailTimeout     = "Test case generation timed out"
	detailStorage     = "Failed to store uploaded file"
	detailInternal    = "Internal Server Error"
	detailInvalidBody = "Invalid request body"
)

// errorBody matches the {"detail": "..."} shape clients already parse.
type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

// classify maps an orchestrator error onto an HTTP status and a client-safe message.
func classify(err error) (int, string) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, detailNoInput
	case errors.Is(err, domain.ErrUploadTooLarge), errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge, detailTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, detailTimeout
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway, detailUpstream
	case errors.Is(err, domain.ErrStorage):
		return http.StatusInternalServerError, detailStorage
	default:
		return http.StatusInternalServerError, detailInternal
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := classify(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "requestID", RequestIDFrom(r.Context()), "status", status, "error", err)
	} else {
		slog.Info("Request rejected", "requestID", RequestIDFrom(r.Context()), "status", status, "error", err)
	}
	writeDetail(w, status, detail)
}
