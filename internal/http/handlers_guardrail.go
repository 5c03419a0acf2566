package httpx

import (
	"net/http"
	"strings"

	apperrors "github.com/draftmill/draftmill/internal/errors"
	"github.com/draftmill/draftmill/internal/service"
)

// GuardrailHandlers exposes the topic screening layers as a standalone check.
type GuardrailHandlers struct {
	Svc *service.GuardrailService
}

type guardrailCheckRequest struct {
	Topic string `json:"topic"`
}

// Check handles requests to screen a topic without creating a job.
func (h *GuardrailHandlers) Check(w http.ResponseWriter, r *http.Request) {
	var req guardrailCheckRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		WriteServiceError(w, apperrors.Validation("topic is required"))
		return
	}

	WriteJSON(w, http.StatusOK, h.Svc.Check(r.Context(), req.Topic))
}
