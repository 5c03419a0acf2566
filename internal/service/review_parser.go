package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/draftmill/draftmill/internal/domain/model"
)

// Markers the refiner is instructed to wrap its revised draft in.
const (
	revisedDraftStartMarker = "---REVISED_DRAFT_START---"
	revisedDraftEndMarker   = "---REVISED_DRAFT_END---"
	fixPlanHeading          = "## FIX PLAN:"
)

// parseReviewFeedback decodes a reviewer response into structured feedback.
// The approved flag is recomputed locally from score, iteration and issue
// priorities; whatever the model claimed is ignored.
func parseReviewFeedback(raw string, iteration int) (model.ReviewFeedback, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return model.ReviewFeedback{}, fmt.Errorf("reviewer returned empty response")
	}

	// The model sometimes wraps JSON in a markdown code block.
	if strings.HasPrefix(text, "```") {
		parts := strings.SplitN(text, "```", 3)
		if len(parts) > 1 {
			text = parts[1]
		}
		text = strings.TrimPrefix(text, "json")
		text = strings.TrimSpace(text)
	}

	var wire struct {
		Score   *float64          `json:"score"`
		Summary string            `json:"summary"`
		Issues  []json.RawMessage `json:"issues"`
	}
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return model.ReviewFeedback{}, fmt.Errorf("parse review response: %w", err)
	}

	score := 75
	if wire.Score != nil {
		score = int(*wire.Score)
	}

	issues := make([]model.ReviewIssue, 0, len(wire.Issues))
	for _, rawIssue := range wire.Issues {
		issue, ok := parseReviewIssue(rawIssue)
		if !ok {
			continue
		}
		issues = append(issues, issue)
	}

	feedback := model.ReviewFeedback{
		Iteration: iteration,
		Score:     score,
		Summary:   wire.Summary,
		Issues:    issues,
	}
	feedback.Approved = approvalDecision(score, iteration, feedback.HasCriticalIssue())
	feedback.Critique = buildCritique(wire.Summary, issues)
	return feedback, nil
}

// parseReviewIssue decodes one issue, tolerating a missing or unknown type
// and missing fields. A structurally broken issue is dropped rather than
// failing the whole review.
func parseReviewIssue(raw json.RawMessage) (model.ReviewIssue, bool) {
	var wire struct {
		Type        string   `json:"type"`
		Location    string   `json:"location"`
		Description string   `json:"description"`
		Action      string   `json:"action"`
		Priority    *float64 `json:"priority"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return model.ReviewIssue{}, false
	}

	issueType := model.IssueType(wire.Type)
	if !issueType.Valid() {
		issueType = model.IssueStyle
	}
	location := wire.Location
	if location == "" {
		location = "unknown"
	}
	priority := 3
	if wire.Priority != nil {
		priority = int(*wire.Priority)
	}

	return model.ReviewIssue{
		Type:        issueType,
		Location:    location,
		Description: wire.Description,
		Action:      wire.Action,
		Priority:    priority,
	}, true
}

// approvalDecision is the local approval rule: an excellent score passes
// outright, and a good score passes once the loop has run long enough.
// A critical issue blocks approval regardless of score.
func approvalDecision(score, iteration int, hasCriticalIssues bool) bool {
	if hasCriticalIssues {
		return false
	}
	return score > 90 || (score >= 85 && iteration >= 3)
}

// buildCritique renders issues into the block the refiner prompt consumes,
// most critical first. With no issues the summary stands in.
func buildCritique(summary string, issues []model.ReviewIssue) string {
	if len(issues) == 0 {
		return summary
	}

	sorted := make([]model.ReviewIssue, len(issues))
	copy(sorted, issues)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	formatted := make([]string, 0, len(sorted))
	for _, issue := range sorted {
		formatted = append(formatted, fmt.Sprintf("[P%d] %s @ %s\n    Problem: %s\n    Action: %s",
			issue.Priority, issue.Type, issue.Location, issue.Description, issue.Action))
	}
	return strings.Join(formatted, "\n\n")
}

// DraftMarkerStatus tags how the revised draft was located in a refiner
// response.
type DraftMarkerStatus string

const (
	// MarkerPair means both start and end markers were present.
	MarkerPair DraftMarkerStatus = "markers"
	// MarkerFixPlan means only the fix-plan heading was found and the draft
	// was recovered heuristically.
	MarkerFixPlan DraftMarkerStatus = "fix_plan"
	// MarkerAbsent means the response carried no recognizable structure and
	// was taken whole.
	MarkerAbsent DraftMarkerStatus = "absent"
)

// extractRevisedDraft pulls the revised draft out of a refiner response.
// The preferred path is the explicit marker pair; the fallback scans past
// the fix-plan checklist for the first content line. In both cases a
// wrapping code fence is stripped afterwards.
func extractRevisedDraft(raw string) (string, DraftMarkerStatus) {
	result := raw
	status := MarkerAbsent

	startIdx := strings.Index(result, revisedDraftStartMarker)
	endIdx := strings.Index(result, revisedDraftEndMarker)
	switch {
	case startIdx >= 0 && endIdx >= 0:
		status = MarkerPair
		content := ""
		if from := startIdx + len(revisedDraftStartMarker); endIdx > from {
			content = result[from:endIdx]
		}
		result = strings.TrimSpace(content)
	case strings.Contains(result, fixPlanHeading):
		status = MarkerFixPlan
		lines := strings.Split(result, "\n")
		contentStart := 0
		inFixPlan := false
		for i, line := range lines {
			if strings.Contains(line, "## FIX PLAN") {
				inFixPlan = true
				continue
			}
			if !inFixPlan {
				continue
			}
			trimmed := strings.TrimSpace(line)
			upper := strings.ToUpper(line)
			if strings.HasPrefix(trimmed, "#") && !strings.Contains(upper, "FIX") {
				contentStart = i
				break
			}
			if strings.HasPrefix(trimmed, "---") && !strings.Contains(upper, "DRAFT") && !strings.Contains(upper, "FIX") {
				contentStart = i + 1
				break
			}
		}
		if contentStart > 0 {
			result = strings.TrimSpace(strings.Join(lines[contentStart:], "\n"))
		}
	}

	return stripWrappingCodeFence(result), status
}

// stripWrappingCodeFence removes a code fence that wraps the entire text.
func stripWrappingCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) > 2 {
		return strings.Join(lines[1:len(lines)-1], "\n")
	}
	return s
}

// looksTruncated reports whether generated text appears cut off mid-thought.
func looksTruncated(s string) bool {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return false
	}
	last := trimmed[len(trimmed)-1]
	return !strings.ContainsRune(`.!?")']`, rune(last))
}
