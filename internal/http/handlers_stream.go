package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/draftmill/draftmill/internal/domain/model"
	"github.com/draftmill/draftmill/internal/domain/progress"
	"github.com/draftmill/draftmill/internal/service"
)

// StreamHandlers serves job progress over server-sent events.
type StreamHandlers struct {
	Jobs     *service.JobOrchestrationService
	Progress *progress.Broker
}

// JobEvents streams the progress events of one job until it reaches a
// terminal state or the client disconnects. Jobs that are already terminal
// get a single synthetic event summarizing the outcome.
func (h *StreamHandlers) JobEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Subscribe before the registry lookup so an event fired between the
	// two is never lost.
	unsub, ch := h.Progress.Subscribe(id)
	defer unsub()

	job, err := h.Jobs.JobStatus(id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	flusher, ok := sseStart(w)
	if !ok {
		return
	}

	if job.Status.Terminal() {
		_ = writeSSE(w, flusher, terminalEventFor(job))
		return
	}

	streamEvents(r.Context(), w, flusher, ch, id)
}

// RunPipeline accepts a job request and streams the new job's progress on
// the same connection. The subscription covers all jobs and is filtered by
// the returned id, because the id does not exist until the trigger returns
// while its first events may fire immediately after.
func (h *StreamHandlers) RunPipeline(w http.ResponseWriter, r *http.Request) {
	var req model.JobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	unsub, ch := h.Progress.Subscribe("")
	defer unsub()

	job, err := h.Jobs.TriggerTopic(req)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	flusher, ok := sseStart(w)
	if !ok {
		return
	}

	accepted := model.ProgressEvent{
		JobID:   job.ID,
		Event:   model.EventProgress,
		Agent:   model.AgentSystem,
		Message: "Job accepted",
		Data:    map[string]any{"job_id": job.ID, "topic": job.Topic},
	}
	if err := writeSSE(w, flusher, accepted); err != nil {
		return
	}

	streamEvents(r.Context(), w, flusher, ch, job.ID)
}

// streamEvents forwards events for jobID from ch to the client until a
// terminal event, a closed channel, or a gone client ends the stream.
func streamEvents(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, ch <-chan model.ProgressEvent, jobID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-ch:
			if !open {
				return
			}
			if jobID != "" && event.JobID != jobID {
				continue
			}
			if err := writeSSE(w, flusher, event); err != nil {
				return
			}
			if event.Event == model.EventComplete || event.Event == model.EventError {
				return
			}
		}
	}
}

// sseStart switches the response into event-stream mode. It must not be
// called after a status has been written.
func sseStart(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "streaming_unsupported",
			Err:     errors.New("response writer does not support streaming"),
		})
		return nil, false
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	// Proxy buffering would hold frames until the stream closes.
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

// writeSSE sends one event as an SSE data frame and flushes it out.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, event model.ProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// terminalEventFor summarizes a finished job as a single stream event.
func terminalEventFor(job *model.Job) model.ProgressEvent {
	event := model.ProgressEvent{
		JobID: job.ID,
		Agent: model.AgentSystem,
		Data:  map[string]any{"status": string(job.Status)},
	}
	if job.Status == model.JobStatusCompleted {
		event.Event = model.EventComplete
		event.Message = "Job completed"
		return event
	}
	event.Event = model.EventError
	event.Message = job.Error
	return event
}
