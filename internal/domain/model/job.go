// Package model defines the domain types shared across the draftmill
// content pipeline. Types here carry no behavior beyond validation and
// small derivations so they can cross package boundaries freely.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a content job.
type JobStatus string

const (
	// JobStatusPending marks a job that is registered but not yet picked up.
	JobStatusPending JobStatus = "pending"
	// JobStatusProcessing marks a job the pipeline is currently running.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted marks a job that finished with a result attached.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed marks a job that stopped on an unrecoverable error.
	JobStatusFailed JobStatus = "failed"
	// JobStatusBlocked marks a job whose topic was rejected by the guardrail.
	JobStatusBlocked JobStatus = "blocked"
)

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusBlocked:
		return true
	}
	return false
}

// Terminal reports whether a job in this status will never change again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusBlocked:
		return true
	}
	return false
}

// OutputFormat selects the shape of the generated content.
//
//nolint:recvcheck // UnmarshalText needs a pointer receiver, the rest are value receivers.
type OutputFormat string

const (
	// FormatBlogPost produces a long-form markdown article.
	FormatBlogPost OutputFormat = "BLOG_POST"
	// FormatLinkedInCarousel produces an eight-slide professional carousel.
	FormatLinkedInCarousel OutputFormat = "LINKEDIN_CAROUSEL"
	// FormatInstagramCards produces a five-card visual set.
	FormatInstagramCards OutputFormat = "INSTAGRAM_CARDS"
)

// Valid reports whether f is a known output format.
func (f OutputFormat) Valid() bool {
	switch f {
	case FormatBlogPost, FormatLinkedInCarousel, FormatInstagramCards:
		return true
	}
	return false
}

// SlideCount returns how many visual slides the format calls for.
// Zero means the format is text only.
func (f OutputFormat) SlideCount() int {
	switch f {
	case FormatLinkedInCarousel:
		return 8
	case FormatInstagramCards:
		return 5
	default:
		return 0
	}
}

// UnmarshalText parses an output format from env or JSON input.
func (f *OutputFormat) UnmarshalText(text []byte) error {
	v := OutputFormat(strings.ToUpper(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid output format %q", string(text))
	}
	*f = v
	return nil
}

// Job is a single unit of content work, from intake to terminal state.
// The orchestrator owns all mutation; everyone else sees copies.
type Job struct {
	ID          string          `json:"id"`
	Sender      string          `json:"sender,omitempty"`
	Subject     string          `json:"subject,omitempty"`
	Topic       string          `json:"topic"`
	Keywords    string          `json:"keywords,omitempty"`
	Format      OutputFormat    `json:"format"`
	Status      JobStatus       `json:"status"`
	Result      *PipelineResult `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	ReceivedAt  time.Time       `json:"received_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// NewJobID returns a time-ordered identifier with a random suffix so ids
// stay unique when jobs are created in the same second.
func NewJobID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("job-%s-%s", now.UTC().Format("20060102150405"), suffix)
}

// NewJob builds a pending job from a validated request.
func NewJob(req JobRequest, now time.Time) *Job {
	req.Normalize()
	return &Job{
		ID:         NewJobID(now),
		Sender:     req.Recipient,
		Subject:    req.Subject,
		Topic:      req.Topic,
		Keywords:   req.Keywords,
		Format:     req.Format,
		Status:     JobStatusPending,
		ReceivedAt: now,
	}
}

// Clone returns a deep enough copy for read-only consumers. Result and
// CompletedAt are shared pointers but are never mutated after being set.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	return &cp
}

// JobRequest describes a job to create, either distilled from an inbound
// mail message or posted directly to the trigger endpoint.
type JobRequest struct {
	Topic       string             `json:"topic"`
	Recipient   string             `json:"recipient,omitempty"`
	Subject     string             `json:"subject,omitempty"`
	Keywords    string             `json:"keywords,omitempty"`
	Format      OutputFormat       `json:"format,omitempty"`
	Constraints *SearchConstraints `json:"constraints,omitempty"`
}

// Normalize trims the topic and fills in defaults for omitted fields.
func (r *JobRequest) Normalize() {
	r.Topic = strings.TrimSpace(r.Topic)
	if r.Format == "" {
		r.Format = FormatBlogPost
	}
	if r.Subject == "" {
		r.Subject = r.Topic
	}
}

// Validate checks the request before a job is created from it.
func (r *JobRequest) Validate() error {
	topic := strings.TrimSpace(r.Topic)
	if topic == "" {
		return errors.New("topic is required")
	}
	if len(topic) > 500 {
		return errors.New("topic must be at most 500 characters")
	}
	if r.Format != "" && !r.Format.Valid() {
		return fmt.Errorf("invalid output format %q", r.Format)
	}
	return nil
}

// MonitorStatus is a point-in-time snapshot of the background monitor.
type MonitorStatus struct {
	Running              bool       `json:"running"`
	LastPoll             *time.Time `json:"last_poll,omitempty"`
	JobsProcessed        int        `json:"jobs_processed"`
	ActiveJobs           int        `json:"active_jobs"`
	TerminalJobs         int        `json:"terminal_jobs"`
	CheckIntervalSeconds int        `json:"check_interval_seconds"`
}

// ErrMonitorRunning is returned when Start is called on a running monitor.
var ErrMonitorRunning = errors.New("monitor already running")

// ErrMonitorNotRunning is returned when Stop is called on a stopped monitor.
var ErrMonitorNotRunning = errors.New("monitor not running")

// ErrJobNotFound is returned when a job id is not present in the registry.
var ErrJobNotFound = errors.New("job not found")
