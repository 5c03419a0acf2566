package service

import (
	"sync"
	"time"

	"github.com/draftmill/draftmill/internal/domain/model"
	obserrors "github.com/draftmill/draftmill/internal/observability/errors"
)

// JobMetrics tracks counters for intake, guardrail and pipeline processing.
type JobMetrics struct {
	mu sync.RWMutex

	// Intake metrics
	MessagesFetched   int64 `json:"messages_fetched"`
	MessagesDiscarded int64 `json:"messages_discarded"`
	JobsCreated       int64 `json:"jobs_created"`

	// Outcome metrics
	JobsCompleted int64 `json:"jobs_completed"`
	JobsFailed    int64 `json:"jobs_failed"`
	JobsBlocked   int64 `json:"jobs_blocked"`

	// Guardrail metrics, split by the layer that tripped
	BlockedByStructure int64 `json:"blocked_by_structure"`
	BlockedByKeyword   int64 `json:"blocked_by_keyword"`
	BlockedBySemantic  int64 `json:"blocked_by_semantic"`

	// Pipeline metrics
	ReviewIterations int64 `json:"review_iterations"`

	// Performance metrics
	AvgPipelineTime time.Duration `json:"avg_pipeline_time"`
	LastCompletedAt time.Time     `json:"last_completed_at"`

	// Internal tracking
	totalPipelineTime time.Duration
	pipelineCount     int64
	sink              metricsSink
}

type metricsSink interface {
	Count(name string, value int64, tags map[string]string)
	Timing(name string, value time.Duration, tags map[string]string)
}

// NewJobMetrics creates a new metrics tracker.
func NewJobMetrics() *JobMetrics {
	return &JobMetrics{}
}

// SetSink wires a metrics sink used to emit external metrics (e.g., StatsD).
func (m *JobMetrics) SetSink(sink metricsSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

// RecordIntake records one inbox poll's outcome.
func (m *JobMetrics) RecordIntake(fetched, discarded, created int) {
	m.mu.Lock()
	m.MessagesFetched += int64(fetched)
	m.MessagesDiscarded += int64(discarded)
	m.JobsCreated += int64(created)
	sink := m.sink
	m.mu.Unlock()

	if sink == nil || fetched == 0 {
		return
	}
	sink.Count("intake.messages", int64(fetched), nil)
	if created > 0 {
		sink.Count("intake.jobs_created", int64(created), nil)
	}
}

// RecordJobOutcome records a job reaching a terminal status. A non-nil
// cause tags the emitted metrics with the failure's error class.
func (m *JobMetrics) RecordJobOutcome(status model.JobStatus, elapsed time.Duration, iterations int, cause error) {
	m.mu.Lock()
	switch status {
	case model.JobStatusCompleted:
		m.JobsCompleted++
	case model.JobStatusFailed:
		m.JobsFailed++
	case model.JobStatusBlocked:
		m.JobsBlocked++
	}
	m.ReviewIterations += int64(iterations)
	m.LastCompletedAt = time.Now()

	m.totalPipelineTime += elapsed
	m.pipelineCount++
	if m.pipelineCount > 0 {
		m.AvgPipelineTime = m.totalPipelineTime / time.Duration(m.pipelineCount)
	}
	sink := m.sink
	m.mu.Unlock()

	if sink == nil {
		return
	}
	tags := map[string]string{"status": string(status)}
	if cause != nil {
		tags["error_class"] = obserrors.Classify(cause)
	}
	sink.Count("jobs.finished", 1, tags)
	sink.Timing("jobs.duration", elapsed, tags)
}

// GuardrailBlocked records a rejection by one guardrail layer.
func (m *JobMetrics) GuardrailBlocked(layer string) {
	m.mu.Lock()
	switch layer {
	case guardrailLayerStructure:
		m.BlockedByStructure++
	case guardrailLayerKeyword:
		m.BlockedByKeyword++
	case guardrailLayerSemantic:
		m.BlockedBySemantic++
	}
	sink := m.sink
	m.mu.Unlock()

	if sink == nil {
		return
	}
	sink.Count("guardrail.blocked", 1, map[string]string{"layer": layer})
}

// GetSnapshot returns a copy of current metrics.
func (m *JobMetrics) GetSnapshot() JobMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Copy fields explicitly to avoid copying the mutex.
	return JobMetrics{
		MessagesFetched:    m.MessagesFetched,
		MessagesDiscarded:  m.MessagesDiscarded,
		JobsCreated:        m.JobsCreated,
		JobsCompleted:      m.JobsCompleted,
		JobsFailed:         m.JobsFailed,
		JobsBlocked:        m.JobsBlocked,
		BlockedByStructure: m.BlockedByStructure,
		BlockedByKeyword:   m.BlockedByKeyword,
		BlockedBySemantic:  m.BlockedBySemantic,
		ReviewIterations:   m.ReviewIterations,
		AvgPipelineTime:    m.AvgPipelineTime,
		LastCompletedAt:    m.LastCompletedAt,
		totalPipelineTime:  m.totalPipelineTime,
		pipelineCount:      m.pipelineCount,
	}
}

// Reset zeroes all counters without replacing the mutex.
func (m *JobMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.MessagesFetched = 0
	m.MessagesDiscarded = 0
	m.JobsCreated = 0
	m.JobsCompleted = 0
	m.JobsFailed = 0
	m.JobsBlocked = 0
	m.BlockedByStructure = 0
	m.BlockedByKeyword = 0
	m.BlockedBySemantic = 0
	m.ReviewIterations = 0
	m.AvgPipelineTime = 0
	m.LastCompletedAt = time.Time{}
	m.totalPipelineTime = 0
	m.pipelineCount = 0
}
