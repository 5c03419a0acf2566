// Package core defines the ports and shared service logic for the draftmill
// content system. The core declares interfaces and the adapter layer provides
// implementations, keeping services free of transport and vendor concerns.
package core

import (
	"context"

	"github.com/draftmill/draftmill/internal/domain/model"
)

// ModelTier selects which backend model handles a request.
type ModelTier string

const (
	// ModelPrimary is the strong model used for drafting, review and refinement.
	ModelPrimary ModelTier = "primary"
	// ModelFast is the cheap model used for research passes and classification.
	ModelFast ModelTier = "fast"
)

// PayloadFormat requests plain text or strict JSON output from the backend.
type PayloadFormat string

const (
	PayloadText PayloadFormat = "text"
	PayloadJSON PayloadFormat = "json"
)

// GenerateRequest describes one text generation call.
type GenerateRequest struct {
	// Prompt is the user-role content of the request.
	Prompt string
	// System is an optional system-role instruction.
	System string
	// Model picks the tier; the adapter maps it to a concrete model name.
	Model ModelTier
	// Format requests JSON mode when set to PayloadJSON.
	Format PayloadFormat
	// WebSearch enables the backend's search tool so results carry citations.
	WebSearch bool
	// MaxTokens caps the response length. Zero means the backend default.
	MaxTokens int
	// Temperature overrides the sampling temperature. Zero means the backend default.
	Temperature float64
}

// GenerateResult is the outcome of one generation call.
type GenerateResult struct {
	Text string
	// Sources lists citations collected during a web search pass.
	// Category is left unset; callers attribute sources to their own pass.
	Sources []model.Source
}

// GenerationBackend is the port to the external text and image generation
// service. Implementations must honor context cancellation.
type GenerationBackend interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
	// GenerateImage renders a prompt to an image and returns it as a data URI.
	GenerateImage(ctx context.Context, prompt string) (string, error)
}
