// Package httpx provides the JSON and SSE API surface for the draftmill
// content system.
package httpx

import (
	"net/http"

	"github.com/draftmill/draftmill/internal/domain/model"
	"github.com/draftmill/draftmill/internal/service"
)

// JobHandlers provides HTTP handlers for job-related operations.
type JobHandlers struct {
	Svc *service.JobOrchestrationService
}

// Trigger handles HTTP requests to start a job for a topic directly, without
// going through the mail inbox. The job runs in the background; the response
// is the accepted pending job.
func (h *JobHandlers) Trigger(w http.ResponseWriter, r *http.Request) {
	var req model.JobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	job, err := h.Svc.TriggerTopic(req)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, job)
}

// List handles HTTP requests for recent jobs, active first.
func (h *JobHandlers) List(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", 0)
	jobs := h.Svc.ListJobs(limit)
	if jobs == nil {
		jobs = []*model.Job{}
	}
	WriteJSON(w, http.StatusOK, jobs)
}

// Get handles HTTP requests for a single job by id.
func (h *JobHandlers) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.Svc.JobStatus(r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}
