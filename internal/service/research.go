package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"

	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/domain/model"
)

// noResearchDataContent stands in for merged research when every stream
// came back empty, so the drafter always has something to work from.
const noResearchDataContent = "No research data found based on the provided constraints."

const defaultResearchFocus = "General Technical"

// ResearchConfig tunes the research fan-out.
type ResearchConfig struct {
	// MaxAttempts is the per-category retry budget. Each attempt issues one
	// web search generation call; the stream stops early once an attempt
	// passes the quality gate.
	MaxAttempts int `json:"max_attempts"`
}

// DefaultResearchConfig returns a ResearchConfig with sensible defaults.
func DefaultResearchConfig() ResearchConfig {
	return ResearchConfig{MaxAttempts: 5}
}

// ResearchServiceOptions groups dependencies for ResearchService.
type ResearchServiceOptions struct {
	Backend core.GenerationBackend     // Required: text generation with web search
	Cache   *core.ResearchCacheService // Optional: research result cache
	Logger  *slog.Logger               // Optional: structured logger
	Config  ResearchConfig             // Optional: zero value takes defaults
}

// ResearchService gathers source material for a topic by fanning out one
// research stream per allowed source category and merging the results.
type ResearchService struct {
	backend core.GenerationBackend
	cache   *core.ResearchCacheService
	logger  *slog.Logger
	cfg     ResearchConfig
}

// NewResearchService constructs a new ResearchService.
func NewResearchService(opts ResearchServiceOptions) (*ResearchService, error) {
	if opts.Backend == nil {
		return nil, errors.New("GenerationBackend is required")
	}

	cfg := opts.Config
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultResearchConfig()
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "research_service")
	}

	return &ResearchService{
		backend: opts.Backend,
		cache:   opts.Cache,
		logger:  logger,
		cfg:     cfg,
	}, nil
}

// MustNewResearchService constructs a new ResearchService and panics on error.
func MustNewResearchService(opts ResearchServiceOptions) *ResearchService {
	svc, err := NewResearchService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create ResearchService: %v", err))
	}
	return svc
}

type categoryResearch struct {
	category model.SourceCategory
	content  string
	sources  []model.Source
}

// Research runs one stream per allowed category concurrently and merges
// their output. A stream that never passes the quality gate contributes its
// best attempt; a stream that produced nothing contributes nothing. Only
// context cancellation fails the whole call.
func (s *ResearchService) Research(ctx context.Context, topic, keywords string, constraints model.SearchConstraints) (*model.ResearchResult, error) {
	constraints.Normalize()

	if cached, err := s.cache.GetResearch(ctx, topic, constraints); err == nil && cached != nil {
		if s.logger != nil {
			s.logger.InfoContext(ctx, "research cache hit", "topic", truncate(topic, 50))
		}
		return cached, nil
	}

	modifiers := buildQueryModifiers(constraints)
	categories := constraints.AllowedCategories

	results := make([]categoryResearch, len(categories))
	g, gctx := errgroup.WithContext(ctx)
	for i, category := range categories {
		g.Go(func() error {
			results[i] = s.runStream(gctx, category, topic, keywords, constraints.Focus, modifiers)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("research fan-out: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var b strings.Builder
	var allSources []model.Source
	for _, r := range results {
		if r.content != "" {
			fmt.Fprintf(&b, "\n# SECTION: %s ANALYSIS\n%s\n\n", r.category, r.content)
		}
		allSources = append(allSources, r.sources...)
	}
	content := b.String()
	if strings.TrimSpace(content) == "" {
		content = noResearchDataContent
	}

	result := &model.ResearchResult{
		Content: content,
		Sources: model.DedupeSources(allSources),
	}

	if err := s.cache.PutResearch(ctx, topic, constraints, result); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to cache research result", "error", err)
	}

	return result, nil
}

// runStream retries one category until an attempt passes the quality gate
// or the budget runs out, keeping the best attempt seen so far.
func (s *ResearchService) runStream(ctx context.Context, category model.SourceCategory, topic, keywords, focus, modifiers string) categoryResearch {
	if focus == "" {
		focus = defaultResearchFocus
	}

	out := categoryResearch{category: category}
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return out
		}

		resp, err := s.backend.Generate(ctx, core.GenerateRequest{
			Prompt:    researchPrompt(attempt, category, topic, keywords, focus, modifiers),
			Model:     core.ModelPrimary,
			WebSearch: true,
		})
		if err != nil {
			if s.logger != nil {
				s.logger.WarnContext(ctx, "research attempt failed",
					"category", string(category), "attempt", attempt, "error", err)
			}
			continue
		}
		if resp.Text == "" {
			continue
		}

		out.content = resp.Text
		out.sources = attributeSources(resp.Sources, category)

		if s.validateQuality(ctx, topic, resp.Text) {
			break
		}
	}
	return out
}

// validateQuality asks the backend whether a research pass has enough depth
// to draft from. Any error counts as a failed gate so the stream retries.
func (s *ResearchService) validateQuality(ctx context.Context, topic, content string) bool {
	prompt := fmt.Sprintf(`Analyze the following research notes about %q.
Determine if they are high-quality, relevant, and provide enough technical depth to write a blog post.
Return JSON: { "isGood": boolean }

NOTES:
%s`, topic, truncate(content, 5000))

	resp, err := s.backend.Generate(ctx, core.GenerateRequest{
		Prompt: prompt,
		Model:  core.ModelPrimary,
		Format: core.PayloadJSON,
	})
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "research quality validation failed", "error", err)
		}
		return false
	}

	var verdict struct {
		IsGood bool `json:"isGood"`
	}
	if err := json.Unmarshal([]byte(resp.Text), &verdict); err != nil {
		return false
	}
	return verdict.IsGood
}

func attributeSources(sources []model.Source, category model.SourceCategory) []model.Source {
	out := make([]model.Source, 0, len(sources))
	for _, src := range sources {
		if src.URI == "" || src.Title == "" {
			continue
		}
		src.Category = category
		out = append(out, src)
	}
	return out
}

// buildQueryModifiers renders constraint domains into search operators.
// Domains collapse to their registrable form so "www.arxiv.org" and
// "arxiv.org" produce the same operator.
func buildQueryModifiers(constraints model.SearchConstraints) string {
	var b strings.Builder
	if len(constraints.PreferredDomains) > 0 {
		ops := make([]string, 0, len(constraints.PreferredDomains))
		for _, d := range constraints.PreferredDomains {
			ops = append(ops, "site:"+registrableDomain(d))
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(ops, " OR "))
	}
	if len(constraints.ExcludedDomains) > 0 {
		for _, d := range constraints.ExcludedDomains {
			fmt.Fprintf(&b, " -site:%s", registrableDomain(d))
		}
	}
	return b.String()
}

// registrableDomain reduces a host to its eTLD+1. Inputs that do not parse
// as a public-suffix host pass through unchanged.
func registrableDomain(domain string) string {
	host := strings.TrimPrefix(strings.TrimPrefix(domain, "https://"), "http://")
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	host = strings.TrimSuffix(host, ".")
	etld, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return etld
}
