// Package api provides the HTTP surface of the export agent.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"geoexport/internal/apperrors"
	"geoexport/internal/export"
	"geoexport/internal/health"
)

// maxRequestBodySize limits request bodies to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// Handler contains the HTTP handlers for the export API. Mutating endpoints
// translate requests into orchestrator commands and return 202: the work
// itself is asynchronous and observable through the job list and the event
// webhook.
type Handler struct {
	orch   *export.Orchestrator
	health *health.Checker
}

// NewHandler creates a new API handler
func NewHandler(orch *export.Orchestrator, healthChecker *health.Checker) *Handler {
	return &Handler{
		orch:   orch,
		health: healthChecker,
	}
}

// exportRequest is the body of POST /v1/exports.
type exportRequest struct {
	Resource export.Resource `json:"resource"`
	Options  export.Options  `json:"options"`
}

// openToolRequest is the body of POST /v1/tool/open.
type openToolRequest struct {
	Resource export.Resource `json:"resource"`
}

// capabilityRequest is the body of POST /v1/capability.
type capabilityRequest struct {
	Endpoint string `json:"endpoint"`
}

// sessionRequest is the body of the session endpoints.
type sessionRequest struct {
	User string `json:"user"`
}

// StartExport handles POST /v1/exports
func (h *Handler) StartExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Resource.Name == "" {
		h.writeError(w, http.StatusBadRequest, "resource.name is required")
		return
	}
	if req.Resource.Endpoint == "" {
		h.writeError(w, http.StatusBadRequest, "resource.endpoint is required")
		return
	}

	h.enqueue(w, export.StartExport{Resource: req.Resource, Options: req.Options})
}

// ListExports handles GET /v1/exports
func (h *Handler) ListExports(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"results": h.orch.Jobs()})
}

// RemoveExport handles DELETE /v1/exports/{jobId}
func (h *Handler) RemoveExport(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	h.enqueue(w, export.RemoveJob{ID: jobID})
}

// Reconcile handles POST /v1/exports/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	h.enqueue(w, export.CheckStaleEntries{})
}

// OpenTool handles POST /v1/tool/open
func (h *Handler) OpenTool(w http.ResponseWriter, r *http.Request) {
	var req openToolRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Resource.Name == "" {
		h.writeError(w, http.StatusBadRequest, "resource.name is required")
		return
	}

	h.enqueue(w, export.OpenTool{Resource: req.Resource})
}

// CheckCapability handles POST /v1/capability
func (h *Handler) CheckCapability(w http.ResponseWriter, r *http.Request) {
	var req capabilityRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Endpoint == "" {
		h.writeError(w, http.StatusBadRequest, "endpoint is required")
		return
	}

	h.enqueue(w, export.CheckCapability{Endpoint: req.Endpoint})
}

// Login handles POST /v1/session/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.User == "" {
		h.writeError(w, http.StatusBadRequest, "user is required")
		return
	}

	h.enqueue(w, export.LoginSucceeded{User: req.User})
}

// Logout handles POST /v1/session/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.enqueue(w, export.LoggedOut{})
}

// Livez handles GET /livez - liveness probe.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 when the dispatch loop or the ledger store is unavailable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// enqueue submits a command and answers 202, or 503 when the command buffer
// is saturated.
func (h *Handler) enqueue(w http.ResponseWriter, cmd export.Command) {
	if err := h.orch.Enqueue(cmd); err != nil {
		if errors.Is(err, export.ErrQueueFull) {
			h.writeError(w, http.StatusServiceUnavailable, "command queue full, retry later")
			return
		}
		h.handleError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// decode parses a JSON request body, answering the client error itself.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError maps domain errors to HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err)
	} else {
		slog.Warn("Client error", "error", err, "status", status)
	}
	h.writeError(w, status, err.Error())
}
