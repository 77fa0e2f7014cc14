package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/Mindburn-Labs/conductor-gateway/pkg/conductor"
)

// HealthHandlers serves the process health/readiness endpoints. Health
// always reports the process itself is alive; readiness additionally
// requires a live connection to at least one conductor.
type HealthHandlers struct {
	router *conductor.Router
}

// NewHealthHandlers creates a HealthHandlers backed by router.
func NewHealthHandlers(router *conductor.Router) *HealthHandlers {
	return &HealthHandlers{router: router}
}

// Health handles GET /health: always 200, reports whether any conductor
// worker is currently connected without affecting the status code.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"connected": h.router.AnyPoolConnected(),
	})
}

// Ready handles GET /ready: 200 only if at least one conductor worker is
// connected, 503 otherwise. Load balancers and orchestrators use this to
// withhold traffic until the gateway has somewhere to route it.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !h.router.AnyPoolConnected() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
