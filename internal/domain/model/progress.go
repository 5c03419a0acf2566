package model

// Progress event kinds, mirrored on the streaming API.
const (
	EventProgress  = "progress"
	EventResearch  = "research"
	EventDraft     = "draft"
	EventReview    = "review"
	EventRefine    = "refine"
	EventVisualize = "visualize"
	EventComplete  = "complete"
	EventError     = "error"
)

// Pipeline stage names reported alongside progress events.
const (
	AgentResearcher = "RESEARCHER"
	AgentDrafter    = "DRAFTER"
	AgentReviewer   = "REVIEWER"
	AgentRefiner    = "REFINER"
	AgentVisualizer = "VISUALIZER"
	AgentGuardrail  = "GUARDRAIL"
	AgentSystem     = "SYSTEM"
)

// ProgressEvent is one step notification emitted while a job runs.
type ProgressEvent struct {
	JobID   string         `json:"job_id,omitempty"`
	Event   string         `json:"event"`
	Agent   string         `json:"agent"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}
