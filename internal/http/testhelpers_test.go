package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/domain/model"
	"github.com/draftmill/draftmill/internal/domain/progress"
	"github.com/draftmill/draftmill/internal/service"
)

// Prompt fragments that identify which stage issued a generation call.
const (
	testResearchMarker   = "Research Task (Attempt"
	testValidationMarker = "Determine if they are high-quality"
	testModerationMarker = "content moderation system"
	testDraftMarker      = "professional technical blog writer"
	testReviewMarker     = "professional content editor"
)

// scriptedBackend serves canned stage responses so pipeline runs complete
// quickly and deterministically under the API handlers.
type scriptedBackend struct {
	mu    sync.Mutex
	calls []core.GenerateRequest
}

func (b *scriptedBackend) Generate(_ context.Context, req core.GenerateRequest) (*core.GenerateResult, error) {
	b.mu.Lock()
	b.calls = append(b.calls, req)
	b.mu.Unlock()

	switch {
	case strings.Contains(req.Prompt, testModerationMarker):
		return &core.GenerateResult{Text: `{"safe": true, "reason": "Educational topic"}`}, nil
	case strings.Contains(req.Prompt, testResearchMarker):
		return &core.GenerateResult{
			Text: "Rate limiting protects APIs from abusive clients.",
			Sources: []model.Source{
				{Title: "Rate Limiting Patterns", URI: "https://example.com/rate-limits"},
			},
		}, nil
	case strings.Contains(req.Prompt, testValidationMarker):
		return &core.GenerateResult{Text: `{"isGood": true}`}, nil
	case strings.Contains(req.Prompt, testDraftMarker):
		return &core.GenerateResult{Text: "# API Rate Limiting\n\nThe draft covers token buckets in depth."}, nil
	case strings.Contains(req.Prompt, testReviewMarker):
		return &core.GenerateResult{Text: `{"score": 95, "summary": "ship it", "issues": []}`}, nil
	}
	return nil, errors.New("unscripted prompt")
}

func (b *scriptedBackend) GenerateImage(_ context.Context, _ string) (string, error) {
	return "data:image/png;base64,stub", nil
}

// testEnv bundles the router with the services behind it so tests can issue
// requests and inspect registry state directly.
type testEnv struct {
	router       http.Handler
	orchestrator *service.JobOrchestrationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	backend := &scriptedBackend{}
	broker := progress.NewBroker()
	t.Cleanup(broker.StopAll)

	research, err := service.NewResearchService(service.ResearchServiceOptions{
		Backend: backend,
		Config:  service.ResearchConfig{MaxAttempts: 1},
	})
	require.NoError(t, err)

	pipeline, err := service.NewPipelineService(service.PipelineServiceOptions{
		Backend:  backend,
		Research: research,
		Progress: broker,
		Config: service.PipelineConfig{
			MaxIterations:    2,
			MinRefinedLength: 10,
		},
	})
	require.NoError(t, err)

	guardrail := service.NewGuardrailService(service.GuardrailServiceOptions{
		Backend: backend,
	})

	orchestrator, err := service.NewJobOrchestrationService(service.JobOrchestrationServiceOptions{
		Pipeline:  pipeline,
		Guardrail: guardrail,
		Progress:  broker,
	})
	require.NoError(t, err)

	router := NewRouter(RouterServices{
		Orchestrator: orchestrator,
		Guardrail:    guardrail,
		Progress:     broker,
	})

	return &testEnv{router: router, orchestrator: orchestrator}
}

// parseSSE decodes every data frame in an event-stream body.
func parseSSE(t *testing.T, body string) []model.ProgressEvent {
	t.Helper()
	var events []model.ProgressEvent
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event model.ProgressEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
		events = append(events, event)
	}
	return events
}
