package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/anstrom/livescan/internal/lifecycle"
)

const healthCheckTimeout = 2 * time.Second

// Pinger checks a dependency, usually the database.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthResponse reports service health.
type HealthResponse struct {
	Status    string            `json:"status"`
	State     lifecycle.State   `json:"state"`
	Checks    map[string]string `json:"checks,omitempty"`
	Uptime    string            `json:"uptime"`
	Version   string            `json:"version,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// HealthHandler serves liveness and health checks.
type HealthHandler struct {
	ctrl      Controller
	db        Pinger
	version   string
	startTime time.Time
}

// NewHealthHandler creates a health handler. db may be nil when no
// database is configured.
func NewHealthHandler(ctrl Controller, db Pinger, version string) *HealthHandler {
	return &HealthHandler{
		ctrl:      ctrl,
		db:        db,
		version:   version,
		startTime: time.Now(),
	}
}

// Liveness reports that the process is serving requests.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// Health reports the controller state and dependency checks.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		State:     h.ctrl.State(),
		Checks:    map[string]string{},
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Version:   h.version,
		Timestamp: time.Now().UTC(),
	}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			resp.Checks["database"] = "ok"
		}
	}

	writeJSON(w, r, status, resp)
}
