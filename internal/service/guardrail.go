package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/domain/model"
)

// Guardrail layer names used in logs and metrics.
const (
	guardrailLayerStructure = "structure"
	guardrailLayerKeyword   = "keyword"
	guardrailLayerSemantic  = "semantic"
)

// GuardrailServiceOptions groups dependencies for GuardrailService.
type GuardrailServiceOptions struct {
	Backend core.GenerationBackend // Optional: semantic layer is skipped when nil
	Logger  *slog.Logger           // Optional: structured logger
	Metrics *JobMetrics            // Optional: per-layer block counters
}

// GuardrailService screens topics before the expensive pipeline runs.
//
// Checks are layered cheapest first:
//  1. structural validation, pure string inspection
//  2. a blocked keyword filter
//  3. a semantic classification call to the generation backend
//
// The first two layers always run. The semantic layer fails open: a backend
// outage must not take content generation down with it, so errors there
// admit the topic and record the reason.
type GuardrailService struct {
	backend core.GenerationBackend
	logger  *slog.Logger
	metrics *JobMetrics
}

// NewGuardrailService constructs a new GuardrailService.
func NewGuardrailService(opts GuardrailServiceOptions) *GuardrailService {
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "guardrail_service")
	}
	return &GuardrailService{
		backend: opts.Backend,
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// Check runs every guardrail layer against the topic. It never returns an
// error; an unsafe verdict carries the reason from the layer that tripped.
func (s *GuardrailService) Check(ctx context.Context, topic string) model.SafetyVerdict {
	topic = strings.TrimSpace(topic)

	if ok, reason := validateTopicShape(topic); !ok {
		s.reject(ctx, guardrailLayerStructure, topic, reason)
		return model.SafetyVerdict{Safe: false, Reason: reason}
	}

	if ok, reason := checkBlockedKeywords(topic); !ok {
		s.reject(ctx, guardrailLayerKeyword, topic, reason)
		return model.SafetyVerdict{Safe: false, Reason: reason}
	}

	if s.backend == nil {
		return model.SafetyVerdict{Safe: true, Reason: "Semantic check skipped: no generation backend configured"}
	}

	resp, err := s.backend.Generate(ctx, core.GenerateRequest{
		Prompt:      guardrailPrompt(topic),
		Model:       core.ModelFast,
		MaxTokens:   256,
		Temperature: 0.1,
	})
	if err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "guardrail check failed, admitting topic",
				"topic", truncate(topic, 50), "error", err)
		}
		return model.SafetyVerdict{Safe: true, Reason: fmt.Sprintf("Guardrail error: %v", err)}
	}

	cls := parseClassification(resp.Text)
	if s.logger != nil {
		s.logger.InfoContext(ctx, "guardrail check completed",
			"topic", truncate(topic, 50),
			"safe", cls.Verdict.Safe,
			"reason", cls.Verdict.Reason,
			"parse_method", string(cls.Method))
	}
	if !cls.Verdict.Safe {
		s.reject(ctx, guardrailLayerSemantic, topic, cls.Verdict.Reason)
	}
	return cls.Verdict
}

func (s *GuardrailService) reject(ctx context.Context, layer, topic, reason string) {
	if s.logger != nil {
		s.logger.WarnContext(ctx, "topic rejected by guardrail",
			"layer", layer, "topic", truncate(topic, 50), "reason", reason)
	}
	if s.metrics != nil {
		s.metrics.GuardrailBlocked(layer)
	}
}

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)onclick=`),
	regexp.MustCompile(`(?i)onerror=`),
	regexp.MustCompile(`(?i)\{\{.*\}\}`),
	regexp.MustCompile(`(?i)\$\{.*\}`),
	regexp.MustCompile(`(?i)SELECT.*FROM`),
	regexp.MustCompile(`(?i)DROP\s+TABLE`),
	regexp.MustCompile(`(?i)--\s*$`),
	regexp.MustCompile(`(?i);\s*DELETE`),
}

var (
	hasLetterRe            = regexp.MustCompile(`[a-zA-Z]`)
	excessiveWhitespaceRe  = regexp.MustCompile(`\s{5,}`)
	urlOnlyRe              = regexp.MustCompile(`^https?://\S+$`)
	asciiWordRe            = regexp.MustCompile(`^[a-zA-Z]+$`)
	vowelRe                = regexp.MustCompile(`[aeiouAEIOU]`)
	specialCharSet         = "!@#$%^&*()_+=[]{}|\\:\";'<>?,./~`"
	maxSpecialChars        = 10
	minTopicLen            = 3
	maxTopicLen            = 500
	repeatedRunLimit       = 5
	symbolRatioDenominator = 2 // at least half the runes must be alphanumeric or space
)

// validateTopicShape is the structural layer. The caller trims the topic.
func validateTopicShape(topic string) (bool, string) {
	if topic == "" {
		return false, "Topic is empty"
	}

	runeCount := utf8.RuneCountInString(topic)
	if runeCount < minTopicLen {
		return false, "Topic is too short (minimum 3 characters)"
	}
	if runeCount > maxTopicLen {
		return false, "Topic is too long (maximum 500 characters)"
	}

	if !hasLetterRe.MatchString(topic) {
		return false, "Topic must contain letters, not just symbols"
	}

	plain := 0
	for _, r := range topic {
		if isPlainRune(r) {
			plain++
		}
	}
	if plain*symbolRatioDenominator < runeCount {
		return false, "Topic contains too many symbols"
	}

	if hasRepeatedRun(topic, repeatedRunLimit) {
		return false, "Topic contains repetitive characters"
	}

	for _, word := range strings.Fields(topic) {
		if len(word) > 4 && asciiWordRe.MatchString(word) && !vowelRe.MatchString(word) {
			return false, fmt.Sprintf("Topic contains gibberish: '%s'", word)
		}
	}

	if digitsOnly(topic) {
		return false, "Topic cannot be only numbers"
	}

	for _, pattern := range injectionPatterns {
		if pattern.MatchString(strings.ToLower(topic)) {
			return false, "Topic looks like code injection attempt"
		}
	}

	if excessiveWhitespaceRe.MatchString(topic) {
		return false, "Topic contains excessive whitespace"
	}

	special := 0
	for _, r := range topic {
		if strings.ContainsRune(specialCharSet, r) {
			special++
		}
	}
	if special > maxSpecialChars {
		return false, "Topic contains too many special characters"
	}

	if urlOnlyRe.MatchString(topic) {
		return false, "Topic cannot be just a URL"
	}

	return true, "Input validation passed"
}

func isPlainRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	default:
		return unicode.IsSpace(r)
	}
}

// hasRepeatedRun reports whether any rune repeats more than limit times in
// a row. Backreferences are not available in RE2, so this is a plain scan.
func hasRepeatedRun(s string, limit int) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev {
			run++
			if run > limit {
				return true
			}
		} else {
			prev = r
			run = 1
		}
	}
	return false
}

func digitsOnly(s string) bool {
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// blockedKeywords is the exact-phrase denylist. Matching is simple
// case-insensitive substring containment.
var blockedKeywords = []string{
	// Violence
	"kill", "murder", "assassinate", "bomb", "terrorist", "terrorism",
	"mass shooting", "genocide", "torture",

	// Sexual
	"porn", "xxx", "nude", "naked", "sex video", "onlyfans hack",

	// Illegal
	"hack into", "crack password", "steal credit card", "identity theft",
	"counterfeit", "money laundering", "tax evasion", "drug dealing",

	// Weapons
	"make a bomb", "build explosive", "gun silencer", "3d print gun",

	// Hate
	"white supremacy", "nazi", "racial slur",

	// Self-harm
	"how to suicide", "kill myself", "self harm methods",

	// Drugs
	"cook meth", "make cocaine", "grow marijuana illegally",
}

func checkBlockedKeywords(topic string) (bool, string) {
	lower := strings.ToLower(topic)
	for _, keyword := range blockedKeywords {
		if strings.Contains(lower, keyword) {
			return false, fmt.Sprintf("Blocked keyword detected: '%s'", keyword)
		}
	}
	return true, "Passed keyword check"
}

// ClassifyMethod names the parse strategy that produced a classification.
type ClassifyMethod string

const (
	// ClassifyDirect means the response parsed as JSON directly.
	ClassifyDirect ClassifyMethod = "json"
	// ClassifyPattern means the verdict was pulled out with a regex.
	ClassifyPattern ClassifyMethod = "pattern"
	// ClassifyKeyword means only a verdict substring could be located.
	ClassifyKeyword ClassifyMethod = "keyword"
	// ClassifyFallback means nothing parsed and the check failed open.
	ClassifyFallback ClassifyMethod = "fallback"
)

// Classification pairs the verdict with how it was recovered from the raw
// response, so callers can tell a clean parse from a fail-open guess.
type Classification struct {
	Verdict model.SafetyVerdict
	Method  ClassifyMethod
}

var (
	codeFenceRe    = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")
	safeFieldRe    = regexp.MustCompile(`(?i)\{\s*"safe"\s*:\s*(true|false)`)
	reasonFieldRe  = regexp.MustCompile(`"reason"\s*:\s*"((?:[^"\\]|\\.)*)"\s*\}`)
	classifyTarget = struct{ safe, unsafe []string }{
		safe:   []string{`"safe": true`, `"safe":true`},
		unsafe: []string{`"safe": false`, `"safe":false`},
	}
)

// parseClassification recovers a verdict from a moderation response,
// trying progressively looser strategies before failing open.
func parseClassification(raw string) Classification {
	text := strings.TrimSpace(raw)
	if strings.Contains(text, "```") {
		if m := codeFenceRe.FindStringSubmatch(text); m != nil {
			text = strings.TrimSpace(m[1])
		}
	}

	var direct struct {
		Safe   bool   `json:"safe"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(text), &direct); err == nil {
		reason := direct.Reason
		if reason == "" {
			reason = "Unknown"
		}
		return Classification{
			Verdict: model.SafetyVerdict{Safe: direct.Safe, Reason: reason},
			Method:  ClassifyDirect,
		}
	}

	if m := safeFieldRe.FindStringSubmatch(text); m != nil {
		safe := strings.EqualFold(m[1], "true")
		reason := "Unsafe topic"
		if safe {
			reason = "Safe topic"
		}
		if rm := reasonFieldRe.FindStringSubmatch(text); rm != nil {
			reason = strings.ReplaceAll(rm[1], `\"`, `"`)
		}
		return Classification{
			Verdict: model.SafetyVerdict{Safe: safe, Reason: reason},
			Method:  ClassifyPattern,
		}
	}

	lower := strings.ToLower(text)
	for _, needle := range classifyTarget.safe {
		if strings.Contains(lower, needle) {
			return Classification{
				Verdict: model.SafetyVerdict{Safe: true, Reason: "Parsed from response text"},
				Method:  ClassifyKeyword,
			}
		}
	}
	for _, needle := range classifyTarget.unsafe {
		if strings.Contains(lower, needle) {
			return Classification{
				Verdict: model.SafetyVerdict{Safe: false, Reason: "Parsed from response text"},
				Method:  ClassifyKeyword,
			}
		}
	}

	return Classification{
		Verdict: model.SafetyVerdict{
			Safe:   true,
			Reason: fmt.Sprintf("Could not parse response: %s", truncate(text, 50)),
		},
		Method: ClassifyFallback,
	}
}
