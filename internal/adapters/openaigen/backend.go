package openaigen

// Package openaigen implements the generation backend port on the OpenAI
// chat completions and images APIs. Any OpenAI-compatible endpoint works
// through the BaseURL override.

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/domain/model"
)

// Config holds connection settings and the model names behind each tier.
type Config struct {
	// APIKey authenticates against the API.
	APIKey string
	// BaseURL overrides the API endpoint for OpenAI-compatible providers.
	BaseURL string
	// PrimaryModel handles drafting, review and refinement.
	PrimaryModel string
	// FastModel handles classification and other cheap calls.
	FastModel string
	// SearchModel handles web search requests. It must support the
	// web_search_options parameter.
	SearchModel string
	// ImageModel renders slide visuals.
	ImageModel string
}

func (c *Config) applyDefaults() {
	if c.PrimaryModel == "" {
		c.PrimaryModel = "gpt-4o"
	}
	if c.FastModel == "" {
		c.FastModel = "gpt-4o-mini"
	}
	if c.SearchModel == "" {
		c.SearchModel = "gpt-4o-search-preview"
	}
	if c.ImageModel == "" {
		c.ImageModel = "dall-e-3"
	}
}

// Backend is the OpenAI-backed core.GenerationBackend implementation.
type Backend struct {
	client openai.Client
	cfg    Config
}

// New creates a Backend from the given configuration.
func New(cfg Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("APIKey is required")
	}
	cfg.applyDefaults()
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Backend{client: openai.NewClient(opts...), cfg: cfg}, nil
}

// modelFor maps a request to a concrete model name. Web search wins over
// the tier because search only works on search-enabled models.
func (b *Backend) modelFor(req core.GenerateRequest) string {
	if req.WebSearch {
		return b.cfg.SearchModel
	}
	if req.Model == core.ModelFast {
		return b.cfg.FastModel
	}
	return b.cfg.PrimaryModel
}

// Generate runs one chat completion and collects any web search citations
// from the response annotations.
func (b *Backend) Generate(ctx context.Context, req core.GenerateRequest) (*core.GenerateResult, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(b.modelFor(req)),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.Format == core.PayloadJSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	if req.WebSearch {
		params.WebSearchOptions = openai.ChatCompletionNewParamsWebSearchOptions{}
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}
	message := resp.Choices[0].Message
	return &core.GenerateResult{
		Text:    message.Content,
		Sources: citedSources(message),
	}, nil
}

// GenerateImage renders the prompt and returns the image as a data URI so
// it can be embedded directly in mail and slide payloads.
func (b *Backend) GenerateImage(ctx context.Context, prompt string) (string, error) {
	resp, err := b.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(b.cfg.ImageModel),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
		Size:           openai.ImageGenerateParamsSize1024x1024,
	})
	if err != nil {
		return "", fmt.Errorf("image generation: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return "", errors.New("image generation returned no data")
	}
	return "data:image/png;base64," + resp.Data[0].B64JSON, nil
}

// citedSources extracts deduplicated url_citation annotations.
func citedSources(message openai.ChatCompletionMessage) []model.Source {
	var sources []model.Source
	seen := make(map[string]bool)
	for _, ann := range message.Annotations {
		if ann.Type != "url_citation" {
			continue
		}
		citation := ann.URLCitation
		if citation.URL == "" || seen[citation.URL] {
			continue
		}
		seen[citation.URL] = true
		title := citation.Title
		if title == "" {
			title = citation.URL
		}
		sources = append(sources, model.Source{Title: title, URI: citation.URL})
	}
	return sources
}
