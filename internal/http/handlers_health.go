package httpx

import (
	"net/http"

	"github.com/draftmill/draftmill/internal/core"
)

// HealthHandlers reports service liveness and, when a cache is wired, its
// reachability. A broken cache degrades the report without failing liveness;
// every feature that uses it falls back gracefully.
type HealthHandlers struct {
	Cache core.CacheRepository
}

// Health handles liveness checks.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		return
	}

	body := map[string]string{"status": "ok"}
	if h.Cache != nil {
		if err := h.Cache.Health(r.Context()); err != nil {
			body["status"] = "degraded"
			body["cache"] = "unreachable"
		} else {
			body["cache"] = "ok"
		}
	}
	WriteJSON(w, http.StatusOK, body)
}
