package model

// IssueType classifies a problem the reviewer found in a draft.
type IssueType string

const (
	IssueMissingContent    IssueType = "MISSING_CONTENT"
	IssueIncompleteContent IssueType = "INCOMPLETE_CONTENT"
	IssueInaccurateData    IssueType = "INACCURATE_DATA"
	IssueWeakArgument      IssueType = "WEAK_ARGUMENT"
	IssuePoorStructure     IssueType = "POOR_STRUCTURE"
	IssueStyle             IssueType = "STYLE_ISSUE"
	IssueFormatting        IssueType = "FORMATTING_ERROR"
)

// Valid reports whether t is a known issue type.
func (t IssueType) Valid() bool {
	switch t {
	case IssueMissingContent, IssueIncompleteContent, IssueInaccurateData,
		IssueWeakArgument, IssuePoorStructure, IssueStyle, IssueFormatting:
		return true
	}
	return false
}

// ReviewIssue is one actionable defect in a draft. Priority runs 1 to 3,
// where 1 is critical and blocks approval.
type ReviewIssue struct {
	Type        IssueType `json:"type"`
	Location    string    `json:"location"`
	Description string    `json:"description"`
	Action      string    `json:"action"`
	Priority    int       `json:"priority"`
}

// ReviewFeedback is the reviewer's verdict on one iteration of a draft.
type ReviewFeedback struct {
	Iteration int           `json:"iteration"`
	Score     int           `json:"score"`
	Approved  bool          `json:"approved"`
	Summary   string        `json:"summary"`
	Issues    []ReviewIssue `json:"issues"`
	Critique  string        `json:"critique,omitempty"`
}

// HasCriticalIssue reports whether any issue carries priority 1.
func (f ReviewFeedback) HasCriticalIssue() bool {
	for _, issue := range f.Issues {
		if issue.Priority == 1 {
			return true
		}
	}
	return false
}

// PipelineResult is everything a finished pipeline run produced.
type PipelineResult struct {
	Draft      string           `json:"draft,omitempty"`
	Slides     []Slide          `json:"slides,omitempty"`
	Iterations int              `json:"iterations"`
	Feedback   []ReviewFeedback `json:"feedback,omitempty"`
	Sources    []Source         `json:"sources,omitempty"`
}
