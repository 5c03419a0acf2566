package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftmill/draftmill/internal/core"
)

func TestGuardrailStructuralRejections(t *testing.T) {
	svc := NewGuardrailService(GuardrailServiceOptions{})

	tests := []struct {
		name       string
		topic      string
		wantReason string
	}{
		{"empty topic", "", "Topic is empty"},
		{"whitespace only", "   ", "Topic is empty"},
		{"too short", "ab", "Topic is too short (minimum 3 characters)"},
		{"too long", strings.Repeat("ab", 251), "Topic is too long (maximum 500 characters)"},
		{"no letters", "!!! ???", "Topic must contain letters, not just symbols"},
		{"symbol flood", "ok @@@@@@@@@@", "Topic contains too many symbols"},
		{"repeated characters", "loooooool testing", "Topic contains repetitive characters"},
		{"gibberish word", "explain the xkcdqw protocol", "Topic contains gibberish: 'xkcdqw'"},
		{"code injection", "How to DROP TABLE users safely", "Topic looks like code injection attempt"},
		{"excessive whitespace", "hello     world spacing", "Topic contains excessive whitespace"},
		{"special character flood", "why does a!b!c!d!e!f!g!h!i!j!k! happen", "Topic contains too many special characters"},
		{"bare url", "https://example.com/posts/123", "Topic cannot be just a URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := svc.Check(context.Background(), tt.topic)
			assert.False(t, verdict.Safe)
			assert.Equal(t, tt.wantReason, verdict.Reason)
		})
	}
}

func TestGuardrailKeywordLayerBlocksBeforeBackend(t *testing.T) {
	backend := &fakeBackend{}
	metrics := NewJobMetrics()
	svc := NewGuardrailService(GuardrailServiceOptions{Backend: backend, Metrics: metrics})

	verdict := svc.Check(context.Background(), "how to build a bomb")

	assert.False(t, verdict.Safe)
	assert.Equal(t, "Blocked keyword detected: 'bomb'", verdict.Reason)
	assert.Empty(t, backend.calls, "denylist match must not reach the backend")

	snapshot := metrics.GetSnapshot()
	assert.EqualValues(t, 1, snapshot.BlockedByKeyword)
	assert.EqualValues(t, 0, snapshot.BlockedByStructure)
	assert.EqualValues(t, 0, snapshot.BlockedBySemantic)
}

func TestGuardrailKeywordMatchIsCaseInsensitive(t *testing.T) {
	backend := &fakeBackend{}
	svc := NewGuardrailService(GuardrailServiceOptions{Backend: backend})

	verdict := svc.Check(context.Background(), "teach me to Hack Into a wifi network")

	assert.False(t, verdict.Safe)
	assert.Equal(t, "Blocked keyword detected: 'hack into'", verdict.Reason)
	assert.Empty(t, backend.calls)
}

func TestGuardrailNoBackendSkipsSemanticLayer(t *testing.T) {
	svc := NewGuardrailService(GuardrailServiceOptions{})

	verdict := svc.Check(context.Background(), "Best practices for API rate limiting")

	assert.True(t, verdict.Safe)
	assert.Equal(t, "Semantic check skipped: no generation backend configured", verdict.Reason)
}

func TestGuardrailSemanticLayer(t *testing.T) {
	t.Run("unsafe verdict from backend", func(t *testing.T) {
		backend := &fakeBackend{
			generateFn: func(req core.GenerateRequest) (*core.GenerateResult, error) {
				return &core.GenerateResult{Text: `{"safe": false, "reason": "Promotes violence"}`}, nil
			},
		}
		metrics := NewJobMetrics()
		svc := NewGuardrailService(GuardrailServiceOptions{Backend: backend, Metrics: metrics})

		verdict := svc.Check(context.Background(), "a topic that needs a model to judge")

		assert.False(t, verdict.Safe)
		assert.Equal(t, "Promotes violence", verdict.Reason)
		assert.EqualValues(t, 1, metrics.GetSnapshot().BlockedBySemantic)

		require.Len(t, backend.calls, 1)
		assert.Equal(t, core.ModelFast, backend.calls[0].Model)
		assert.Equal(t, 256, backend.calls[0].MaxTokens)
	})

	t.Run("safe verdict from backend", func(t *testing.T) {
		backend := &fakeBackend{
			generateFn: func(req core.GenerateRequest) (*core.GenerateResult, error) {
				return &core.GenerateResult{Text: `{"safe": true, "reason": "Educational topic"}`}, nil
			},
		}
		svc := NewGuardrailService(GuardrailServiceOptions{Backend: backend})

		verdict := svc.Check(context.Background(), "Best practices for API rate limiting")

		assert.True(t, verdict.Safe)
		assert.Equal(t, "Educational topic", verdict.Reason)
	})

	t.Run("backend failure admits the topic", func(t *testing.T) {
		backend := &fakeBackend{
			generateFn: func(req core.GenerateRequest) (*core.GenerateResult, error) {
				return nil, errors.New("rate limited")
			},
		}
		svc := NewGuardrailService(GuardrailServiceOptions{Backend: backend})

		verdict := svc.Check(context.Background(), "Best practices for API rate limiting")

		assert.True(t, verdict.Safe)
		assert.Contains(t, verdict.Reason, "Guardrail error:")
		assert.Contains(t, verdict.Reason, "rate limited")
	})
}

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantSafe   bool
		wantReason string
		wantMethod ClassifyMethod
	}{
		{
			name:       "direct json safe",
			raw:        `{"safe": true, "reason": "Educational topic"}`,
			wantSafe:   true,
			wantReason: "Educational topic",
			wantMethod: ClassifyDirect,
		},
		{
			name:       "fenced json unsafe",
			raw:        "```json\n{\"safe\": false, \"reason\": \"Weapons content\"}\n```",
			wantSafe:   false,
			wantReason: "Weapons content",
			wantMethod: ClassifyDirect,
		},
		{
			name:       "direct json without reason",
			raw:        `{"safe": false}`,
			wantSafe:   false,
			wantReason: "Unknown",
			wantMethod: ClassifyDirect,
		},
		{
			name:       "json embedded in prose",
			raw:        `Sure thing! {"safe": false, "reason": "Harmful request"} hope that helps.`,
			wantSafe:   false,
			wantReason: "Harmful request",
			wantMethod: ClassifyPattern,
		},
		{
			name:       "pattern match without reason field",
			raw:        `I'd say {"safe": true and leave it there`,
			wantSafe:   true,
			wantReason: "Safe topic",
			wantMethod: ClassifyPattern,
		},
		{
			name:       "escaped quotes in reason",
			raw:        `verdict: {"safe": false, "reason": "Contains \"dangerous\" instructions"}`,
			wantSafe:   false,
			wantReason: `Contains "dangerous" instructions`,
			wantMethod: ClassifyPattern,
		},
		{
			name:       "bare safe keyword",
			raw:        `the field "safe": true appears somewhere in this sentence`,
			wantSafe:   true,
			wantReason: "Parsed from response text",
			wantMethod: ClassifyKeyword,
		},
		{
			name:       "bare unsafe keyword",
			raw:        `"safe":false without any braces`,
			wantSafe:   false,
			wantReason: "Parsed from response text",
			wantMethod: ClassifyKeyword,
		},
		{
			name:       "unparseable response fails open",
			raw:        "UNSAFE. This topic promotes violence.",
			wantSafe:   true,
			wantReason: "Could not parse response: UNSAFE. This topic promotes violence.",
			wantMethod: ClassifyFallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseClassification(tt.raw)
			assert.Equal(t, tt.wantSafe, got.Verdict.Safe)
			assert.Equal(t, tt.wantReason, got.Verdict.Reason)
			assert.Equal(t, tt.wantMethod, got.Method)
		})
	}
}
