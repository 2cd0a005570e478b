package handler

import (
	"context"
	"net/http"

	"github.com/remiblancher/provkit/internal/api/dto"
)

// ReadyCheck reports whether one dependency can serve requests.
type ReadyCheck func(ctx context.Context) bool

// HealthHandler handles health and readiness endpoints.
type HealthHandler struct {
	version  string
	services []string
	checks   map[string]ReadyCheck
}

func NewHealthHandler(version string, services []string, checks map[string]ReadyCheck) *HealthHandler {
	return &HealthHandler{version: version, services: services, checks: checks}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	services := make(map[string]string, len(h.services))
	for _, s := range h.services {
		services[s] = "ok"
	}
	respondJSON(w, http.StatusOK, dto.HealthResponse{
		Status:   "ok",
		Version:  h.version,
		Services: services,
	})
}

// Ready handles GET /ready.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]bool{"server": true}
	ready := true
	for name, check := range h.checks {
		ok := check(r.Context())
		checks[name] = ok
		ready = ready && ok
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, dto.ReadyResponse{Ready: ready, Checks: checks})
}
