package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"reseller/pkg/logger"
)

// DependencyCheck probes one backing service.
type DependencyCheck func(ctx context.Context) error

type SystemHandler struct {
	service   string
	checks    map[string]DependencyCheck
	logger    logger.Logger
	startTime time.Time
}

func NewSystemHandler(service string, checks map[string]DependencyCheck, log logger.Logger) *SystemHandler {
	return &SystemHandler{
		service:   service,
		checks:    checks,
		logger:    log,
		startTime: time.Now(),
	}
}

type DependencyStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // operational, degraded, outage
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"service":        h.service,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}

// Ready pings every dependency. Any outage makes the service not ready; a
// slow dependency is reported as degraded but still ready.
func (h *SystemHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	ready := true
	deps := make([]DependencyStatus, 0, len(names))
	for _, name := range names {
		start := time.Now()
		err := h.checks[name](ctx)
		st := DependencyStatus{Name: name, Status: "operational", LatencyMs: time.Since(start).Milliseconds()}
		switch {
		case err != nil:
			st.Status = "outage"
			st.Error = err.Error()
			ready = false
			h.logger.Error("Dependency check failed", map[string]interface{}{"dependency": name, "error": err.Error()})
		case st.LatencyMs > 200:
			st.Status = "degraded"
		}
		deps = append(deps, st)
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]interface{}{
		"status":       status,
		"service":      h.service,
		"dependencies": deps,
	})
}
