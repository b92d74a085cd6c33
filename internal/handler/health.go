package handler

import (
	"net/http"

	"github.com/capitalize-ai/agui-gateway/internal/agui"
)

// ConnectionChecker reports whether a backing connection is usable.
type ConnectionChecker interface {
	IsConnected() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	eventLog ConnectionChecker
	registry *agui.Registry
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(eventLog ConnectionChecker, registry *agui.Registry) *HealthHandler {
	return &HealthHandler{
		eventLog: eventLog,
		registry: registry,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status": "healthy",
	}
	if h.registry != nil {
		body["active_runs"] = h.registry.Len()
	}
	writeJSON(w, http.StatusOK, body)
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.eventLog == nil || !h.eventLog.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
