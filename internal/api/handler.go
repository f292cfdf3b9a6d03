// Package api provides HTTP handlers for the Oracle Shell API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ashureev/oracle-shell/internal/domain"
	"github.com/go-chi/chi/v5/middleware"
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeBody reads a size-limited JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return &domain.ValidationError{Field: "body", Reason: fmt.Sprintf("exceeds %d bytes", maxErr.Limit)}
		}
		return &domain.ValidationError{Field: "body", Reason: "malformed JSON"}
	}
	return nil
}

// StatusFor maps core errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPartialRemix):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrGenerationTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrUpstreamUnavailable), errors.Is(err, domain.ErrGenerationFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and writes it with the mapped status. Validation and
// lookup failures carry their message; everything else is summarized.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	reqID := middleware.GetReqID(r.Context())

	var partial *domain.PartialRemixError
	if errors.As(err, &partial) {
		slog.Error("Remix stored but not linked",
			"origin_id", partial.OriginID,
			"shard_id", partial.Remix.ID,
			"error", partial.Err,
			"request_id", reqID)
		JSON(w, status, map[string]interface{}{
			"error": "remix created but origin not linked",
			"shard": partial.Remix,
		})
		return
	}

	switch status {
	case http.StatusBadRequest, http.StatusNotFound:
		slog.Debug("Request rejected", "path", r.URL.Path, "error", err, "request_id", reqID)
		Error(w, status, err.Error())
	default:
		slog.Error("Request failed", "path", r.URL.Path, "status", status, "error", err, "request_id", reqID)
		Error(w, status, http.StatusText(status))
	}
}
