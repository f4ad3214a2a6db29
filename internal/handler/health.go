package handler

import (
	"context"
	"net/http"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	db      Pinger
	billing func() bool
}

// NewHealthHandler creates a new HealthHandler. billing reports whether the
// billing provider is configured; it never degrades the status.
func NewHealthHandler(db Pinger, billing func() bool) *HealthHandler {
	return &HealthHandler{db: db, billing: billing}
}

// Check handles GET /health.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]interface{}{
		"status": "ok",
	}

	// Check DB
	if err := h.db.Ping(ctx); err != nil {
		status["database"] = "error"
		status["status"] = "degraded"
	} else {
		status["database"] = "ok"
	}

	// Billing being unconfigured is a supported mode, not an outage.
	if h.billing != nil && h.billing() {
		status["billing"] = "configured"
	} else {
		status["billing"] = "not_configured"
	}

	code := http.StatusOK
	if status["status"] == "degraded" {
		code = http.StatusServiceUnavailable
	}

	JSON(w, code, status)
}
