package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/domain/model"
)

// Prompt fragments that identify which stage issued a generation call.
const (
	researchMarker   = "Research Task (Attempt"
	validationMarker = "Determine if they are high-quality"
	blogDraftMarker  = "professional technical blog writer"
	slideDraftMarker = "social media expert"
	reviewMarker     = "professional content editor"
	refineMarker     = "senior editor"
)

// fakeBackend scripts generation responses per test. The mutex also guards
// any counters captured by the closures, since fn runs under it.
type fakeBackend struct {
	mu         sync.Mutex
	calls      []core.GenerateRequest
	imageCalls []string
	generateFn func(req core.GenerateRequest) (*core.GenerateResult, error)
	imageFn    func(prompt string) (string, error)
}

func (f *fakeBackend) Generate(_ context.Context, req core.GenerateRequest) (*core.GenerateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.generateFn == nil {
		return &core.GenerateResult{}, nil
	}
	return f.generateFn(req)
}

func (f *fakeBackend) GenerateImage(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageCalls = append(f.imageCalls, prompt)
	if f.imageFn == nil {
		return "data:image/png;base64,stub", nil
	}
	return f.imageFn(prompt)
}

func (f *fakeBackend) countCalls(marker string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.Contains(c.Prompt, marker) {
			n++
		}
	}
	return n
}

// capturingPublisher records every progress event for assertions.
type capturingPublisher struct {
	mu     sync.Mutex
	events []model.ProgressEvent
}

func (p *capturingPublisher) Publish(event model.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturingPublisher) byEvent(kind string) []model.ProgressEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.ProgressEvent
	for _, e := range p.events {
		if e.Event == kind {
			out = append(out, e)
		}
	}
	return out
}

func (p *capturingPublisher) hasMessage(message string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if strings.Contains(e.Message, message) {
			return true
		}
	}
	return false
}

func newPipelineForTest(t *testing.T, backend *fakeBackend, pub *capturingPublisher, cfg PipelineConfig) *PipelineService {
	t.Helper()
	research, err := NewResearchService(ResearchServiceOptions{
		Backend: backend,
		Config:  ResearchConfig{MaxAttempts: 1},
	})
	require.NoError(t, err)

	svc, err := NewPipelineService(PipelineServiceOptions{
		Backend:  backend,
		Research: research,
		Progress: pub,
		Config:   cfg,
	})
	require.NoError(t, err)
	return svc
}

func articleOnlyInput(jobID, topic string) RunInput {
	return RunInput{
		JobID:  jobID,
		Topic:  topic,
		Format: model.FormatBlogPost,
		Constraints: &model.SearchConstraints{
			AllowedCategories: []model.SourceCategory{model.SourceArticle},
		},
	}
}

// scriptStages wires the common research and draft responses so individual
// tests only script the review and refine behavior they care about.
func scriptStages(reviewFn func(n int) (*core.GenerateResult, error), refineFn func(n int) (*core.GenerateResult, error)) func(req core.GenerateRequest) (*core.GenerateResult, error) {
	reviews, refines := 0, 0
	return func(req core.GenerateRequest) (*core.GenerateResult, error) {
		switch {
		case strings.Contains(req.Prompt, researchMarker):
			return &core.GenerateResult{
				Text: "Rate limiting protects APIs from abusive clients. Token buckets are the common algorithm.",
				Sources: []model.Source{
					{Title: "Rate Limiting Patterns", URI: "https://example.com/rate-limits"},
				},
			}, nil
		case strings.Contains(req.Prompt, validationMarker):
			return &core.GenerateResult{Text: `{"isGood": true}`}, nil
		case strings.Contains(req.Prompt, blogDraftMarker):
			return &core.GenerateResult{Text: "# API Rate Limiting\n\nThe initial draft covers token buckets in depth."}, nil
		case strings.Contains(req.Prompt, reviewMarker):
			reviews++
			return reviewFn(reviews)
		case strings.Contains(req.Prompt, refineMarker):
			refines++
			return refineFn(refines)
		}
		return nil, errors.New("unscripted prompt: " + req.Prompt[:min(60, len(req.Prompt))])
	}
}

func reviewJSON(score int) *core.GenerateResult {
	return &core.GenerateResult{
		Text: `{"score": ` + strconv.Itoa(score) + `, "summary": "needs tightening", "issues": []}`,
	}
}

func markedDraft(body string) *core.GenerateResult {
	return &core.GenerateResult{
		Text: "## FIX PLAN:\n- [x] Tighten the intro\n\n" +
			revisedDraftStartMarker + "\n" + body + "\n" + revisedDraftEndMarker,
	}
}

func TestPipelineApprovesWhenScoreConverges(t *testing.T) {
	scores := []int{75, 80, 83, 86, 88}
	backend := &fakeBackend{}
	backend.generateFn = scriptStages(
		func(n int) (*core.GenerateResult, error) {
			return reviewJSON(scores[n-1]), nil
		},
		func(n int) (*core.GenerateResult, error) {
			return markedDraft("# API Rate Limiting\n\nRevision " + strconv.Itoa(n) + " expands on sliding windows and quota tiers."), nil
		},
	)
	pub := &capturingPublisher{}
	svc := newPipelineForTest(t, backend, pub, PipelineConfig{
		MaxIterations:    5,
		MinRefinedLength: 10,
	})

	result, err := svc.Run(context.Background(), articleOnlyInput("job-1", "Best practices for API rate limiting"))
	require.NoError(t, err)
	require.NotNil(t, result)

	// 86 clears the relaxed threshold at iteration 4; the budget of 5 is
	// never consumed.
	assert.Equal(t, 4, result.Iterations)
	require.Len(t, result.Feedback, 4)
	assert.False(t, result.Feedback[2].Approved)
	assert.True(t, result.Feedback[3].Approved)
	assert.Equal(t, 86, result.Feedback[3].Score)
	assert.Contains(t, result.Draft, "Revision 3")

	assert.Equal(t, 4, backend.countCalls(reviewMarker))
	assert.Equal(t, 3, backend.countCalls(refineMarker))

	reviewEvents := pub.byEvent(model.EventReview)
	require.Len(t, reviewEvents, 4)
	assert.Equal(t, 86, reviewEvents[3].Data["score"])
	assert.True(t, pub.hasMessage("Content approved at iteration 4"))
	assert.False(t, pub.hasMessage("Max iterations"))

	completes := pub.byEvent(model.EventComplete)
	require.Len(t, completes, 1)
	assert.Equal(t, 4, completes[0].Data["totalIterations"])
}

func TestPipelineExhaustionProceedsWithBestDraft(t *testing.T) {
	backend := &fakeBackend{}
	backend.generateFn = scriptStages(
		func(n int) (*core.GenerateResult, error) {
			return reviewJSON(50 + 10*n), nil
		},
		func(n int) (*core.GenerateResult, error) {
			return markedDraft("# API Rate Limiting\n\nRevision " + strconv.Itoa(n) + " reworks the narrative arc."), nil
		},
	)
	pub := &capturingPublisher{}
	svc := newPipelineForTest(t, backend, pub, PipelineConfig{
		MaxIterations:    2,
		MinRefinedLength: 10,
	})

	result, err := svc.Run(context.Background(), articleOnlyInput("job-2", "Best practices for API rate limiting"))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Iterations)
	require.Len(t, result.Feedback, 2)
	assert.False(t, result.Feedback[1].Approved)
	assert.Contains(t, result.Draft, "Revision 2")
	assert.True(t, pub.hasMessage("Max iterations (2) reached"))

	// Exhaustion is not an error; the run still completes.
	require.Len(t, pub.byEvent(model.EventComplete), 1)
	assert.Empty(t, pub.byEvent(model.EventError))
}

func TestPipelineReviewFallbackAfterRepeatedParseFailures(t *testing.T) {
	backend := &fakeBackend{}
	backend.generateFn = scriptStages(
		func(int) (*core.GenerateResult, error) {
			return &core.GenerateResult{Text: "I cannot review this content."}, nil
		},
		func(int) (*core.GenerateResult, error) {
			return markedDraft("# API Rate Limiting\n\nA cautious revision after the reviewer went quiet."), nil
		},
	)
	pub := &capturingPublisher{}
	svc := newPipelineForTest(t, backend, pub, PipelineConfig{
		MaxIterations:    1,
		MinRefinedLength: 10,
	})

	result, err := svc.Run(context.Background(), articleOnlyInput("job-3", "Best practices for API rate limiting"))
	require.NoError(t, err)

	assert.Equal(t, 3, backend.countCalls(reviewMarker))
	require.Len(t, result.Feedback, 1)
	assert.Equal(t, 70, result.Feedback[0].Score)
	assert.False(t, result.Feedback[0].Approved)
	assert.Equal(t, "Review encountered parsing issues.", result.Feedback[0].Summary)
}

func TestPipelineDegenerateRefinementKeepsPreviousDraft(t *testing.T) {
	backend := &fakeBackend{}
	backend.generateFn = scriptStages(
		func(int) (*core.GenerateResult, error) {
			return reviewJSON(50), nil
		},
		func(int) (*core.GenerateResult, error) {
			return markedDraft("Too short."), nil
		},
	)
	pub := &capturingPublisher{}
	svc := newPipelineForTest(t, backend, pub, PipelineConfig{
		MaxIterations:    1,
		MinRefinedLength: 500,
	})

	result, err := svc.Run(context.Background(), articleOnlyInput("job-4", "Best practices for API rate limiting"))
	require.NoError(t, err)

	assert.Contains(t, result.Draft, "initial draft")
	assert.NotContains(t, result.Draft, "Too short")
}

func TestPipelineRefinerErrorKeepsPreviousDraft(t *testing.T) {
	backend := &fakeBackend{}
	backend.generateFn = scriptStages(
		func(int) (*core.GenerateResult, error) {
			return reviewJSON(50), nil
		},
		func(int) (*core.GenerateResult, error) {
			return nil, errors.New("model overloaded")
		},
	)
	pub := &capturingPublisher{}
	svc := newPipelineForTest(t, backend, pub, PipelineConfig{
		MaxIterations:    1,
		MinRefinedLength: 10,
	})

	result, err := svc.Run(context.Background(), articleOnlyInput("job-5", "Best practices for API rate limiting"))
	require.NoError(t, err)
	assert.Contains(t, result.Draft, "initial draft")
}

func TestPipelineVisualFormatGeneratesSlides(t *testing.T) {
	slideJSON := `[
  {"slideNumber": 1, "title": "Hook", "content": "Rate limits save weekends.", "imagePrompt": "server room at night"},
  {"slideNumber": 2, "title": "Takeaway", "content": "Budget your bursts.", "imagePrompt": "water flowing through a valve"}
]`
	backend := &fakeBackend{}
	reviews := 0
	backend.generateFn = func(req core.GenerateRequest) (*core.GenerateResult, error) {
		switch {
		case strings.Contains(req.Prompt, researchMarker):
			return &core.GenerateResult{Text: "Carousel research notes."}, nil
		case strings.Contains(req.Prompt, validationMarker):
			return &core.GenerateResult{Text: `{"isGood": true}`}, nil
		case strings.Contains(req.Prompt, slideDraftMarker):
			return &core.GenerateResult{Text: slideJSON}, nil
		case strings.Contains(req.Prompt, reviewMarker):
			reviews++
			return reviewJSON(95), nil
		}
		return nil, errors.New("unscripted prompt")
	}
	backend.imageFn = func(prompt string) (string, error) {
		if strings.Contains(prompt, "server room") {
			return "data:image/png;base64,QUJD", nil
		}
		return "", errors.New("image model unavailable")
	}
	pub := &capturingPublisher{}
	svc := newPipelineForTest(t, backend, pub, PipelineConfig{
		MaxIterations:    5,
		MinRefinedLength: 10,
	})

	input := articleOnlyInput("job-6", "Rate limiting for humans")
	input.Format = model.FormatInstagramCards
	result, err := svc.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, 1, reviews)
	require.Len(t, result.Slides, 2)
	assert.Equal(t, "data:image/png;base64,QUJD", result.Slides[0].ImageURL)
	assert.Empty(t, result.Slides[1].ImageURL)

	require.Len(t, backend.imageCalls, 2)
	for _, call := range backend.imageCalls {
		assert.Contains(t, call, "no text in image")
	}

	visualizeEvents := pub.byEvent(model.EventVisualize)
	require.Len(t, visualizeEvents, 1)
	assert.Equal(t, 2, visualizeEvents[0].Data["slideCount"])
}

func TestPipelineDraftFailureIsFatal(t *testing.T) {
	backend := &fakeBackend{}
	backend.generateFn = func(req core.GenerateRequest) (*core.GenerateResult, error) {
		switch {
		case strings.Contains(req.Prompt, researchMarker):
			return &core.GenerateResult{Text: "Some research."}, nil
		case strings.Contains(req.Prompt, validationMarker):
			return &core.GenerateResult{Text: `{"isGood": true}`}, nil
		case strings.Contains(req.Prompt, blogDraftMarker):
			return nil, errors.New("backend exploded")
		}
		return nil, errors.New("unscripted prompt")
	}
	pub := &capturingPublisher{}
	svc := newPipelineForTest(t, backend, pub, PipelineConfig{})

	result, err := svc.Run(context.Background(), articleOnlyInput("job-7", "Best practices for API rate limiting"))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "drafter")

	errorEvents := pub.byEvent(model.EventError)
	require.Len(t, errorEvents, 1)
	assert.Contains(t, errorEvents[0].Message, "Pipeline failed")
}

func TestPipelineCanceledContextFailsFast(t *testing.T) {
	backend := &fakeBackend{}
	pub := &capturingPublisher{}
	svc := newPipelineForTest(t, backend, pub, PipelineConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.Run(ctx, articleOnlyInput("job-8", "Best practices for API rate limiting"))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, pub.byEvent(model.EventError), 1)
}
