package config

import "time"

// MonitorConfig contains inbox monitor configuration.
type MonitorConfig struct {
	// CheckInterval is the pause between inbox polls.
	CheckInterval time.Duration `env:"MONITOR_CHECK_INTERVAL" envDefault:"60s"`

	// AutoStart starts the monitor at boot instead of waiting for the
	// start endpoint. Ignored when mail is not configured.
	AutoStart bool `env:"MONITOR_AUTO_START" envDefault:"false"`
}

// Sanitize applies guardrails to monitor configuration values.
func (m *MonitorConfig) Sanitize() {
	// Enforce a minimum interval to prevent hammering the IMAP server
	if m.CheckInterval < time.Second {
		m.CheckInterval = 60 * time.Second
	}
}

// PipelineConfig contains content pipeline configuration.
type PipelineConfig struct {
	// MaxIterations is the review/refine budget per job.
	MaxIterations int `env:"PIPELINE_MAX_ITERATIONS" envDefault:"5"`

	// StageTimeout bounds a single draft or refine generation call.
	StageTimeout time.Duration `env:"PIPELINE_STAGE_TIMEOUT" envDefault:"180s"`

	// MinRefinedLength is the shortest revision accepted from the refiner.
	// Anything shorter keeps the previous draft.
	MinRefinedLength int `env:"PIPELINE_MIN_REFINED_LENGTH" envDefault:"500"`

	// ReviewParseRetries is how many malformed reviewer responses are
	// retried before the loop continues on fallback feedback.
	ReviewParseRetries int `env:"PIPELINE_REVIEW_PARSE_RETRIES" envDefault:"3"`

	// ResearchMaxAttempts is the per-category retry budget for research
	// generation calls.
	ResearchMaxAttempts int `env:"RESEARCH_MAX_ATTEMPTS" envDefault:"5"`
}

// Sanitize applies guardrails to pipeline configuration values.
func (p *PipelineConfig) Sanitize() {
	if p.MaxIterations < 1 {
		p.MaxIterations = 1
	}
	if p.StageTimeout < time.Second {
		p.StageTimeout = 180 * time.Second
	}
	if p.MinRefinedLength < 0 {
		p.MinRefinedLength = 0
	}
	if p.ReviewParseRetries < 1 {
		p.ReviewParseRetries = 1
	}
	if p.ResearchMaxAttempts < 1 {
		p.ResearchMaxAttempts = 1
	}
}
