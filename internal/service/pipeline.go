package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/domain/model"
	"github.com/draftmill/draftmill/internal/domain/progress"
	apperrors "github.com/draftmill/draftmill/internal/errors"
)

// PipelineConfig tunes the convergence pipeline.
type PipelineConfig struct {
	// MaxIterations is the review/refine budget. Exhausting it is not an
	// error; the best draft so far ships.
	MaxIterations int `json:"max_iterations"`
	// StageTimeout bounds a single draft or refine generation call.
	StageTimeout time.Duration `json:"stage_timeout"`
	// MinRefinedLength guards against degenerate refiner output. A revision
	// shorter than this keeps the previous draft.
	MinRefinedLength int `json:"min_refined_length"`
	// ReviewParseRetries is how many reviewer responses may fail to parse
	// before the loop continues on fallback feedback.
	ReviewParseRetries int `json:"review_parse_retries"`
}

// DefaultPipelineConfig returns a PipelineConfig with sensible defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxIterations:      5,
		StageTimeout:       180 * time.Second,
		MinRefinedLength:   500,
		ReviewParseRetries: 3,
	}
}

// PipelineServiceOptions groups dependencies for PipelineService.
type PipelineServiceOptions struct {
	Backend  core.GenerationBackend // Required: text and image generation
	Research *ResearchService       // Required: research fan-out
	Progress progress.Publisher     // Optional: progress event sink
	Logger   *slog.Logger           // Optional: structured logger
	Config   PipelineConfig         // Optional: zero value takes defaults
}

// PipelineService turns a topic into finished content: research fan-out,
// initial draft, a bounded review/refine loop, and visualization for slide
// formats. Each run is independent; the service holds no per-run state.
type PipelineService struct {
	backend  core.GenerationBackend
	research *ResearchService
	progress progress.Publisher
	logger   *slog.Logger
	cfg      PipelineConfig
}

// NewPipelineService constructs a new PipelineService.
func NewPipelineService(opts PipelineServiceOptions) (*PipelineService, error) {
	if opts.Backend == nil {
		return nil, errors.New("GenerationBackend is required")
	}
	if opts.Research == nil {
		return nil, errors.New("ResearchService is required")
	}

	cfg := opts.Config
	defaults := DefaultPipelineConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = defaults.StageTimeout
	}
	if cfg.MinRefinedLength <= 0 {
		cfg.MinRefinedLength = defaults.MinRefinedLength
	}
	if cfg.ReviewParseRetries <= 0 {
		cfg.ReviewParseRetries = defaults.ReviewParseRetries
	}

	pub := opts.Progress
	if pub == nil {
		pub = progress.NopPublisher{}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "pipeline_service")
	}

	return &PipelineService{
		backend:  opts.Backend,
		research: opts.Research,
		progress: pub,
		logger:   logger,
		cfg:      cfg,
	}, nil
}

// MustNewPipelineService constructs a new PipelineService and panics on error.
func MustNewPipelineService(opts PipelineServiceOptions) *PipelineService {
	svc, err := NewPipelineService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create PipelineService: %v", err))
	}
	return svc
}

// RunInput describes one pipeline execution.
type RunInput struct {
	JobID       string
	Topic       string
	Keywords    string
	Format      model.OutputFormat
	Constraints *model.SearchConstraints
}

// Run executes the full pipeline for one topic. Research and drafting
// failures are fatal; review, refine and visualization degrade instead of
// failing, so every error-free run ends with shippable content.
func (s *PipelineService) Run(ctx context.Context, in RunInput) (*model.PipelineResult, error) {
	if in.Format == "" {
		in.Format = model.FormatBlogPost
	}
	var constraints model.SearchConstraints
	if in.Constraints != nil {
		constraints = *in.Constraints
	}

	s.publish(in.JobID, model.EventProgress, model.AgentResearcher, "Starting research phase...", nil)
	s.publish(in.JobID, model.EventProgress, model.AgentResearcher, "Scanning sources for data...", nil)

	research, err := s.research.Research(ctx, in.Topic, in.Keywords, constraints)
	if err != nil {
		return nil, s.fail(in.JobID, fmt.Errorf("research phase: %w", err))
	}
	s.publish(in.JobID, model.EventResearch, model.AgentResearcher, "Research completed", map[string]any{
		"sourceCount":   len(research.Sources),
		"contentLength": len(research.Content),
	})

	s.publish(in.JobID, model.EventProgress, model.AgentDrafter, "Creating initial draft...", nil)
	draft, err := s.draftStage(ctx, in, research)
	if err != nil {
		return nil, s.fail(in.JobID, err)
	}
	s.publish(in.JobID, model.EventDraft, model.AgentDrafter, "Draft v1 created", map[string]any{
		"draftLength": len(draft),
	})

	var (
		history        []model.ReviewFeedback
		previousScores []int
		lastCritique   string
		approved       bool
		iteration      int
	)
	for iteration < s.cfg.MaxIterations && !approved {
		if err := ctx.Err(); err != nil {
			return nil, s.fail(in.JobID, err)
		}
		iteration++

		s.publish(in.JobID, model.EventProgress, model.AgentReviewer,
			fmt.Sprintf("Review cycle %d/%d...", iteration, s.cfg.MaxIterations), nil)

		feedback := s.reviewStage(ctx, in, draft, iteration, previousScores, lastCritique)
		previousScores = append(previousScores, feedback.Score)
		lastCritique = feedback.Critique
		history = append(history, feedback)

		s.publish(in.JobID, model.EventReview, model.AgentReviewer,
			fmt.Sprintf("Score: %d/100", feedback.Score), map[string]any{
				"iteration": iteration,
				"score":     feedback.Score,
				"approved":  feedback.Approved,
				"critique":  feedback.Critique,
			})

		if feedback.Approved {
			approved = true
			s.publish(in.JobID, model.EventProgress, model.AgentReviewer,
				fmt.Sprintf("Content approved at iteration %d", iteration), nil)
			break
		}

		s.publish(in.JobID, model.EventProgress, model.AgentRefiner, "Refining draft based on feedback...", nil)
		draft = s.refineStage(ctx, in, draft, feedback)
		s.publish(in.JobID, model.EventRefine, model.AgentRefiner,
			fmt.Sprintf("Draft v%d ready", iteration+1), map[string]any{
				"iteration":   iteration + 1,
				"draftLength": len(draft),
			})
	}
	if !approved {
		s.publish(in.JobID, model.EventProgress, model.AgentSystem,
			fmt.Sprintf("Max iterations (%d) reached, proceeding with best draft", s.cfg.MaxIterations), nil)
	}

	var slides []model.Slide
	if in.Format.SlideCount() > 0 {
		s.publish(in.JobID, model.EventProgress, model.AgentVisualizer, "Generating visual assets...", nil)
		slides = s.visualizeStage(ctx, in.JobID, draft)
		s.publish(in.JobID, model.EventVisualize, model.AgentVisualizer,
			fmt.Sprintf("Generated %d visual assets", len(slides)), map[string]any{
				"slideCount": len(slides),
			})
	}

	result := &model.PipelineResult{
		Draft:      draft,
		Slides:     slides,
		Iterations: iteration,
		Feedback:   history,
		Sources:    research.Sources,
	}

	s.publish(in.JobID, model.EventComplete, model.AgentSystem, "Pipeline completed successfully!", map[string]any{
		"finalDraft":      draft,
		"finalSlides":     slides,
		"totalIterations": iteration,
		"feedbackHistory": feedbackHistory(history),
		"researchSources": research.Sources,
	})

	return result, nil
}

// fail publishes a terminal error event and passes the error through.
func (s *PipelineService) fail(jobID string, err error) error {
	s.publish(jobID, model.EventError, model.AgentSystem,
		fmt.Sprintf("Pipeline failed: %v", err), map[string]any{"error": err.Error()})
	return err
}

func (s *PipelineService) publish(jobID, kind, agent, message string, data map[string]any) {
	s.progress.Publish(model.ProgressEvent{
		JobID:   jobID,
		Event:   kind,
		Agent:   agent,
		Message: message,
		Data:    data,
	})
}

// feedbackHistory reduces review feedback to the fields streamed to clients.
func feedbackHistory(history []model.ReviewFeedback) []map[string]any {
	out := make([]map[string]any, 0, len(history))
	for _, f := range history {
		out = append(out, map[string]any{
			"iteration": f.Iteration,
			"score":     f.Score,
			"approved":  f.Approved,
			"critique":  f.Critique,
		})
	}
	return out
}

// draftStage produces the first draft. For slide formats the draft is a
// JSON array of slides; for articles it is markdown. A stage timeout here
// is fatal: without a draft there is nothing to converge on.
func (s *PipelineService) draftStage(ctx context.Context, in RunInput, research *model.ResearchResult) (string, error) {
	dctx, cancel := context.WithTimeout(ctx, s.cfg.StageTimeout)
	defer cancel()

	req := core.GenerateRequest{
		Model:     core.ModelPrimary,
		MaxTokens: 16000,
	}
	if in.Format == model.FormatBlogPost {
		req.Prompt = blogDrafterPrompt(research.Content)
	} else {
		req.Prompt = visualDrafterPrompt(in.Format, research.Content)
		req.Format = core.PayloadJSON
	}

	resp, err := s.backend.Generate(dctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", apperrors.Wrapf(err, apperrors.ErrCodeTimeout,
				"drafter timed out after %s", s.cfg.StageTimeout)
		}
		return "", fmt.Errorf("drafter: %w", err)
	}

	draft := resp.Text
	if draft == "" {
		if in.Format == model.FormatBlogPost {
			draft = "Drafting failed."
		} else {
			draft = "[]"
		}
	}
	if looksTruncated(draft) && s.logger != nil {
		s.logger.WarnContext(ctx, "draft may be truncated",
			"job_id", in.JobID, "draft_length", len(draft))
	}
	return draft, nil
}

// reviewStage obtains structured feedback, retrying unparseable responses.
// When every attempt fails the loop continues on conservative fallback
// feedback rather than aborting the run.
func (s *PipelineService) reviewStage(ctx context.Context, in RunInput, draft string, iteration int, previousScores []int, lastCritique string) model.ReviewFeedback {
	prompt := reviewerPrompt(iteration, previousScores, lastCritique, in.Format, draft)

	for attempt := 1; attempt <= s.cfg.ReviewParseRetries; attempt++ {
		resp, err := s.backend.Generate(ctx, core.GenerateRequest{
			Prompt: prompt,
			Model:  core.ModelPrimary,
			Format: core.PayloadJSON,
		})
		if err != nil {
			if s.logger != nil {
				s.logger.WarnContext(ctx, "review attempt failed",
					"job_id", in.JobID, "iteration", iteration, "attempt", attempt, "error", err)
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}

		feedback, err := parseReviewFeedback(resp.Text, iteration)
		if err != nil {
			if s.logger != nil {
				s.logger.WarnContext(ctx, "review response did not parse",
					"job_id", in.JobID, "iteration", iteration, "attempt", attempt, "error", err)
			}
			continue
		}
		return feedback
	}

	if s.logger != nil {
		s.logger.ErrorContext(ctx, "all review attempts failed, continuing with fallback feedback",
			"job_id", in.JobID, "iteration", iteration)
	}
	return fallbackReviewFeedback(iteration)
}

// fallbackReviewFeedback keeps the loop moving when the reviewer is
// unusable: below every approval threshold, with a generic critique.
func fallbackReviewFeedback(iteration int) model.ReviewFeedback {
	return model.ReviewFeedback{
		Iteration: iteration,
		Score:     70,
		Approved:  false,
		Summary:   "Review encountered parsing issues.",
		Issues:    []model.ReviewIssue{},
		Critique:  "Review encountered parsing issues. Please refine for clarity.",
	}
}

// refineStage applies review feedback to the draft. Every failure mode
// keeps the previous draft: a bad refinement must never lose a good draft.
func (s *PipelineService) refineStage(ctx context.Context, in RunInput, draft string, feedback model.ReviewFeedback) string {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.StageTimeout)
	defer cancel()

	req := core.GenerateRequest{
		Prompt:    refinerPrompt(feedback.Critique, draft),
		Model:     core.ModelPrimary,
		MaxTokens: 32000,
	}
	if in.Format != model.FormatBlogPost {
		req.Format = core.PayloadJSON
	}

	resp, err := s.backend.Generate(rctx, req)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "refiner failed, keeping previous draft",
				"job_id", in.JobID, "iteration", feedback.Iteration, "error", err)
		}
		return draft
	}
	if resp.Text == "" {
		return draft
	}

	revised, status := extractRevisedDraft(resp.Text)
	if status != MarkerPair && s.logger != nil {
		s.logger.WarnContext(ctx, "refiner response missing draft markers",
			"job_id", in.JobID, "iteration", feedback.Iteration, "marker_status", string(status))
	}
	if looksTruncated(revised) && s.logger != nil {
		s.logger.WarnContext(ctx, "refined draft may be truncated",
			"job_id", in.JobID, "iteration", feedback.Iteration, "draft_length", len(revised))
	}
	if len(revised) < s.cfg.MinRefinedLength {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "refiner returned suspiciously short content, keeping previous draft",
				"job_id", in.JobID, "iteration", feedback.Iteration, "draft_length", len(revised))
		}
		return draft
	}
	return revised
}

// visualizeStage parses the slide JSON and renders one image per slide
// concurrently. A failed slide keeps its text and simply has no image;
// unparseable slide JSON yields no slides at all.
func (s *PipelineService) visualizeStage(ctx context.Context, jobID, draftJSON string) []model.Slide {
	var slides []model.Slide
	if err := json.Unmarshal([]byte(stripWrappingCodeFence(draftJSON)), &slides); err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to parse slide JSON for visualization",
				"job_id", jobID, "error", err)
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range slides {
		g.Go(func() error {
			prompt := slides[i].ImagePrompt + " high quality, photorealistic, 4k, no text in image"
			uri, err := s.backend.GenerateImage(gctx, prompt)
			if err != nil {
				if s.logger != nil {
					s.logger.WarnContext(gctx, "image generation failed for slide",
						"job_id", jobID, "slide", slides[i].Number, "error", err)
				}
				return nil
			}
			slides[i].ImageURL = uri
			return nil
		})
	}
	//nolint:errcheck // goroutines never return errors; per-slide failures degrade in place
	_ = g.Wait()
	return slides
}
