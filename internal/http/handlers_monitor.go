package httpx

import (
	"net/http"

	"github.com/draftmill/draftmill/internal/service"
)

// MonitorHandlers controls the background inbox monitor.
type MonitorHandlers struct {
	Svc *service.JobOrchestrationService
}

// Start handles requests to launch the background monitor.
func (h *MonitorHandlers) Start(w http.ResponseWriter, _ *http.Request) {
	if err := h.Svc.Start(); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.Svc.Status())
}

// Stop handles requests to halt the monitor. It blocks until every in-flight
// job has reached a terminal state.
func (h *MonitorHandlers) Stop(w http.ResponseWriter, _ *http.Request) {
	if err := h.Svc.Stop(); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.Svc.Status())
}

// Status handles requests for a snapshot of the monitor and job registry.
func (h *MonitorHandlers) Status(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, h.Svc.Status())
}
