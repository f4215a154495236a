// Package api provides the HTTP API handlers and routing for the proxy service.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"runproxy/internal/apperrors"
	"runproxy/internal/health"
	"runproxy/internal/job"
)

// maxRequestBodySize limits a submitted batch to prevent memory exhaustion
const maxRequestBodySize = 32 << 20 // 32 MB

const (
	startRoute   = "StartContainerInstance"
	resultsRoute = "GetResults"
)

// Fixed response bodies. Internal detail is logged, never returned.
const (
	msgInvalidJSON      = "invalid json"
	msgTooLarge         = "request body too large"
	msgNotFound         = "Not found"
	msgAlreadyCollected = "File already collected"
	msgFailed           = "Error during processing"
	msgInternal         = "Internal server error"
)

// Handler contains HTTP handlers for the proxy API
type Handler struct {
	submitter *job.Submitter
	resolver  *job.Resolver
	health    *health.Checker
}

// NewHandler creates a new API handler
func NewHandler(submitter *job.Submitter, resolver *job.Resolver, healthChecker *health.Checker) *Handler {
	return &Handler{
		submitter: submitter,
		resolver:  resolver,
		health:    healthChecker,
	}
}

// StartContainerInstance handles POST /StartContainerInstance.
// Responds 202 with the poll URL for the new job.
func (h *Handler) StartContainerInstance(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeText(w, http.StatusRequestEntityTooLarge, msgTooLarge)
			return
		}
		h.writeText(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	batch, err := job.ParseBatch(body)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	jobID, err := h.submitter.Submit(r.Context(), body, batch)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeText(w, http.StatusAccepted, pollURL(r, jobID))
}

// GetResults handles GET /GetResults/{jobId}.
// Responds 202 while the job runs, 200 with the result once, then 404.
func (h *Handler) GetResults(w http.ResponseWriter, r *http.Request) {
	parsed, err := uuid.Parse(r.PathValue("jobId"))
	if err != nil {
		h.writeText(w, http.StatusNotFound, msgNotFound)
		return
	}
	// Sandbox and artifact names use the canonical lower-case form.
	jobID := parsed.String()

	decision, err := h.resolver.Resolve(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	switch decision.Kind {
	case job.DecisionPending:
		h.writeText(w, http.StatusAccepted, requestURL(r))
	case job.DecisionCompleted:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(decision.Output); err != nil {
			slog.Error("Failed to write result", "jobId", jobID, "error", err)
		}
	case job.DecisionAlreadyCollected:
		h.writeText(w, http.StatusNotFound, msgAlreadyCollected)
	default:
		h.writeText(w, http.StatusInternalServerError, msgFailed)
	}
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 if the sandbox runner or the share is unavailable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsReady() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// pollURL derives the results URL from the submission URL, keeping the
// query string (which may carry a function key).
func pollURL(r *http.Request, jobID string) string {
	return strings.Replace(requestURL(r), startRoute, resultsRoute+"/"+jobID, 1)
}

// requestURL reconstructs the absolute URL the client called.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme, _, _ = strings.Cut(proto, ",")
		scheme = strings.TrimSpace(scheme)
	}

	u := *r.URL
	u.Scheme = scheme
	u.Host = r.Host
	return u.String()
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeText writes a plain text response
func (h *Handler) writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// handleError handles errors from the job layer with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	reqID := middleware.GetReqID(r.Context())

	switch {
	case status >= 500:
		slog.Error("Internal error", "error", err, "path", r.URL.Path, "requestId", reqID)
		h.writeText(w, http.StatusInternalServerError, msgInternal)
	case status == http.StatusBadRequest:
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status, "requestId", reqID)
		h.writeText(w, status, msgInvalidJSON)
	default:
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status, "requestId", reqID)
		h.writeText(w, status, msgNotFound)
	}
}
