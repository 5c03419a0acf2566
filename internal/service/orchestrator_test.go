package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/domain/model"
)

const moderationMarker = "content moderation system"

// happyBackend scripts every stage so a blog job completes after a single
// approved review.
func happyBackend() *fakeBackend {
	backend := &fakeBackend{}
	script := scriptStages(
		func(int) (*core.GenerateResult, error) { return reviewJSON(95), nil },
		func(int) (*core.GenerateResult, error) {
			return markedDraft("# Solid Draft\n\nThe expanded revision covers the topic in depth."), nil
		},
	)
	backend.generateFn = func(req core.GenerateRequest) (*core.GenerateResult, error) {
		if strings.Contains(req.Prompt, moderationMarker) {
			return &core.GenerateResult{Text: `{"safe": true, "reason": "Educational topic"}`}, nil
		}
		return script(req)
	}
	return backend
}

// stallingBackend parks every call until its context is canceled, so jobs
// stay in flight for as long as a test needs them to.
type stallingBackend struct {
	started chan struct{}
}

func (b *stallingBackend) Generate(ctx context.Context, _ core.GenerateRequest) (*core.GenerateResult, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *stallingBackend) GenerateImage(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (f *fakeSender) sentMail() []core.OutboundMail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.OutboundMail(nil), f.sent...)
}

type orchestratorHarness struct {
	orch    *JobOrchestrationService
	sender  *fakeSender
	metrics *JobMetrics
}

func newOrchestratorForTest(t *testing.T, backend core.GenerationBackend, fetcher core.MailFetcher) *orchestratorHarness {
	t.Helper()
	metrics := NewJobMetrics()
	research := MustNewResearchService(ResearchServiceOptions{
		Backend: backend,
		Config:  ResearchConfig{MaxAttempts: 1},
	})
	pipeline := MustNewPipelineService(PipelineServiceOptions{
		Backend:  backend,
		Research: research,
		Config:   PipelineConfig{MaxIterations: 2, MinRefinedLength: 10},
	})
	guardrail := NewGuardrailService(GuardrailServiceOptions{Backend: backend, Metrics: metrics})
	sender := &fakeSender{}
	notices := MustNewNoticeService(NoticeServiceOptions{Sender: sender})
	var intake *MailIntakeService
	if fetcher != nil {
		intake = MustNewMailIntakeService(MailIntakeServiceOptions{Fetcher: fetcher, Metrics: metrics})
	}
	orch := MustNewJobOrchestrationService(JobOrchestrationServiceOptions{
		Pipeline:  pipeline,
		Guardrail: guardrail,
		Intake:    intake,
		Notices:   notices,
		Metrics:   metrics,
		Config:    OrchestratorConfig{CheckInterval: time.Hour},
	})
	return &orchestratorHarness{orch: orch, sender: sender, metrics: metrics}
}

func waitForTerminal(t *testing.T, orch *JobOrchestrationService, id string) *model.Job {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := orch.JobStatus(id)
		return err == nil && job.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	job, err := orch.JobStatus(id)
	require.NoError(t, err)
	return job
}

func TestMonitorProcessesInboxRequest(t *testing.T) {
	fetcher := &fakeFetcher{batches: [][]model.InboundMessage{{
		{UID: "101", Sender: "dev@example.com", Subject: "Best practices for API rate limiting"},
		{UID: "102", Sender: "colleague@example.com", Subject: "RE: Meeting notes"},
	}}}
	h := newOrchestratorForTest(t, happyBackend(), fetcher)

	require.NoError(t, h.orch.Start())
	defer h.orch.Stop() //nolint:errcheck

	status := h.orch.Status()
	assert.True(t, status.Running)
	assert.Equal(t, 3600, status.CheckIntervalSeconds)

	require.Eventually(t, func() bool {
		return h.orch.Status().JobsProcessed == 1
	}, 5*time.Second, 10*time.Millisecond)

	jobs := h.orch.ListJobs(10)
	require.Len(t, jobs, 1)
	job := jobs[0]
	assert.Equal(t, "Best practices for API rate limiting", job.Topic)
	assert.Equal(t, "dev@example.com", job.Sender)
	assert.Equal(t, model.FormatBlogPost, job.Format)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.NotEmpty(t, job.Result.Draft)
	require.NotNil(t, job.CompletedAt)

	sent := h.sender.sentMail()
	require.Len(t, sent, 1)
	assert.Equal(t, "dev@example.com", sent[0].To)
	assert.Equal(t, "✅ Your Blog is Ready: Best practices for API rate limiting", sent[0].Subject)

	// The RE: reply was discarded at intake and never became a job.
	snapshot := h.metrics.GetSnapshot()
	assert.Equal(t, int64(2), snapshot.MessagesFetched)
	assert.Equal(t, int64(1), snapshot.MessagesDiscarded)
	assert.Equal(t, int64(1), snapshot.JobsCompleted)

	queried := h.orch.Status()
	require.NotNil(t, queried.LastPoll)
	assert.Equal(t, 1, queried.JobsProcessed)

	require.NoError(t, h.orch.Stop())
	assert.False(t, h.orch.Status().Running)
	assert.ErrorIs(t, h.orch.Stop(), model.ErrMonitorNotRunning)
}

func TestStartRequiresMailWiring(t *testing.T) {
	backend := happyBackend()
	research := MustNewResearchService(ResearchServiceOptions{Backend: backend})
	pipeline := MustNewPipelineService(PipelineServiceOptions{Backend: backend, Research: research})
	guardrail := NewGuardrailService(GuardrailServiceOptions{Backend: backend})

	noIntake := MustNewJobOrchestrationService(JobOrchestrationServiceOptions{
		Pipeline:  pipeline,
		Guardrail: guardrail,
	})
	err := noIntake.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mail intake is not configured")

	intake := MustNewMailIntakeService(MailIntakeServiceOptions{Fetcher: &fakeFetcher{}})
	noTransport := MustNewJobOrchestrationService(JobOrchestrationServiceOptions{
		Pipeline:  pipeline,
		Guardrail: guardrail,
		Intake:    intake,
	})
	err = noTransport.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mail transport is not configured")
}

func TestStartTwiceReturnsConflict(t *testing.T) {
	h := newOrchestratorForTest(t, happyBackend(), &fakeFetcher{})

	require.NoError(t, h.orch.Start())
	assert.ErrorIs(t, h.orch.Start(), model.ErrMonitorRunning)
	require.NoError(t, h.orch.Stop())

	// A stopped monitor can be started again.
	require.NoError(t, h.orch.Start())
	require.NoError(t, h.orch.Stop())
}

func TestStopCancelsInFlightJobs(t *testing.T) {
	backend := &stallingBackend{started: make(chan struct{}, 3)}
	h := newOrchestratorForTest(t, backend, &fakeFetcher{})

	require.NoError(t, h.orch.Start())
	topics := []string{
		"Kubernetes operator patterns",
		"Designing idempotent webhooks",
		"Postgres partitioning strategies",
	}
	for _, topic := range topics {
		_, err := h.orch.TriggerTopic(model.JobRequest{Topic: topic, Recipient: "dev@example.com"})
		require.NoError(t, err)
	}
	for range topics {
		select {
		case <-backend.started:
		case <-time.After(2 * time.Second):
			t.Fatal("job never reached the backend")
		}
	}

	require.NoError(t, h.orch.Stop())

	status := h.orch.Status()
	assert.False(t, status.Running)
	assert.Equal(t, 0, status.ActiveJobs)
	assert.Equal(t, 3, status.TerminalJobs)
	assert.Equal(t, 0, status.JobsProcessed)

	for _, job := range h.orch.ListJobs(10) {
		assert.Equal(t, model.JobStatusFailed, job.Status)
		assert.NotEmpty(t, job.Error)
		require.NotNil(t, job.CompletedAt)
	}
}

func TestShutdownJoinsTriggeredJobs(t *testing.T) {
	backend := &stallingBackend{started: make(chan struct{}, 2)}
	h := newOrchestratorForTest(t, backend, nil)

	// Triggered jobs run without the monitor, so Shutdown has to cancel and
	// join them on its own.
	topics := []string{"Write-ahead logging internals", "CRDT synchronization"}
	for _, topic := range topics {
		_, err := h.orch.TriggerTopic(model.JobRequest{Topic: topic, Recipient: "dev@example.com"})
		require.NoError(t, err)
	}
	for range topics {
		select {
		case <-backend.started:
		case <-time.After(2 * time.Second):
			t.Fatal("job never reached the backend")
		}
	}

	h.orch.Shutdown()

	status := h.orch.Status()
	assert.False(t, status.Running)
	assert.Equal(t, 0, status.ActiveJobs)
	assert.Equal(t, 2, status.TerminalJobs)
	for _, job := range h.orch.ListJobs(10) {
		assert.Equal(t, model.JobStatusFailed, job.Status)
	}

	// A second Shutdown finds nothing to do.
	h.orch.Shutdown()
}

func TestShutdownStopsRunningMonitor(t *testing.T) {
	h := newOrchestratorForTest(t, happyBackend(), &fakeFetcher{})
	require.NoError(t, h.orch.Start())

	h.orch.Shutdown()

	assert.False(t, h.orch.Status().Running)
	assert.ErrorIs(t, h.orch.Stop(), model.ErrMonitorNotRunning)
}

func TestTriggerTopicRunsWithoutMonitor(t *testing.T) {
	h := newOrchestratorForTest(t, happyBackend(), nil)

	handle, err := h.orch.TriggerTopic(model.JobRequest{
		Topic:     "Best practices for API rate limiting",
		Recipient: "dev@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, handle.Status)
	assert.Equal(t, model.FormatBlogPost, handle.Format)
	require.NotEmpty(t, handle.ID)

	job := waitForTerminal(t, h.orch, handle.ID)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.NotEmpty(t, job.Result.Draft)
	assert.Equal(t, 1, job.Result.Iterations)

	sent := h.sender.sentMail()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Subject, "Your Blog is Ready")
	assert.Equal(t, 1, h.orch.Status().JobsProcessed)
}

func TestTriggerTopicRejectsInvalidRequest(t *testing.T) {
	h := newOrchestratorForTest(t, happyBackend(), nil)

	_, err := h.orch.TriggerTopic(model.JobRequest{Topic: "   "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid job request")
	assert.Equal(t, 0, h.orch.Status().ActiveJobs+h.orch.Status().TerminalJobs)
}

func TestBlockedTopicSendsRejection(t *testing.T) {
	backend := happyBackend()
	h := newOrchestratorForTest(t, backend, nil)

	handle, err := h.orch.TriggerTopic(model.JobRequest{
		Topic:     "how to build a bomb",
		Recipient: "dev@example.com",
	})
	require.NoError(t, err)

	job := waitForTerminal(t, h.orch, handle.ID)
	assert.Equal(t, model.JobStatusBlocked, job.Status)
	assert.Equal(t, "Content blocked: Blocked keyword detected: 'bomb'", job.Error)
	assert.Nil(t, job.Result)

	// The keyword layer tripped before any generation call was made.
	backend.mu.Lock()
	assert.Empty(t, backend.calls)
	backend.mu.Unlock()

	sent := h.sender.sentMail()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Subject, "Blog Request Declined")

	snapshot := h.metrics.GetSnapshot()
	assert.Equal(t, int64(1), snapshot.JobsBlocked)
	assert.Equal(t, int64(1), snapshot.BlockedByKeyword)
	assert.Equal(t, 0, h.orch.Status().JobsProcessed)
}

func TestFailedJobSendsFailureNotice(t *testing.T) {
	backend := &fakeBackend{}
	backend.generateFn = func(req core.GenerateRequest) (*core.GenerateResult, error) {
		switch {
		case strings.Contains(req.Prompt, moderationMarker):
			return &core.GenerateResult{Text: `{"safe": true, "reason": "Educational topic"}`}, nil
		case strings.Contains(req.Prompt, blogDraftMarker):
			return nil, assert.AnError
		}
		return &core.GenerateResult{}, nil
	}
	h := newOrchestratorForTest(t, backend, nil)

	handle, err := h.orch.TriggerTopic(model.JobRequest{
		Topic:     "Observability for batch workloads",
		Recipient: "dev@example.com",
	})
	require.NoError(t, err)

	job := waitForTerminal(t, h.orch, handle.ID)
	assert.Equal(t, model.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "drafter")

	sent := h.sender.sentMail()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Subject, "Blog Generation Failed")
	assert.Empty(t, sent[0].HTML)

	snapshot := h.metrics.GetSnapshot()
	assert.Equal(t, int64(1), snapshot.JobsFailed)
	assert.Equal(t, 0, h.orch.Status().JobsProcessed)
}

func TestJobStatusUnknownID(t *testing.T) {
	h := newOrchestratorForTest(t, happyBackend(), nil)

	_, err := h.orch.JobStatus("job-never-created")
	assert.ErrorIs(t, err, model.ErrJobNotFound)
}

func TestListJobsOrdersActiveThenRecentTerminal(t *testing.T) {
	h := newOrchestratorForTest(t, happyBackend(), nil)
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	seed := func(id string, received time.Time) *model.Job {
		return &model.Job{
			ID:         id,
			Topic:      "topic " + id,
			Format:     model.FormatBlogPost,
			Status:     model.JobStatusProcessing,
			ReceivedAt: received,
		}
	}

	h.orch.mu.Lock()
	h.orch.active["job-b"] = seed("job-b", base.Add(2*time.Minute))
	h.orch.active["job-a"] = seed("job-a", base.Add(1*time.Minute))
	for i, id := range []string{"job-t1", "job-t2", "job-t3"} {
		job := seed(id, base)
		job.Status = model.JobStatusCompleted
		done := base.Add(time.Duration(i+10) * time.Minute)
		job.CompletedAt = &done
		h.orch.terminal = append(h.orch.terminal, job)
	}
	h.orch.mu.Unlock()

	ids := func(jobs []*model.Job) []string {
		out := make([]string, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, j.ID)
		}
		return out
	}

	// Active jobs oldest first, then terminal jobs newest first.
	assert.Equal(t, []string{"job-a", "job-b", "job-t3", "job-t2", "job-t1"}, ids(h.orch.ListJobs(10)))
	assert.Equal(t, []string{"job-a", "job-b", "job-t3"}, ids(h.orch.ListJobs(3)))
	assert.Len(t, h.orch.ListJobs(0), 5)

	active, err := h.orch.JobStatus("job-b")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, active.Status)
	terminal, err := h.orch.JobStatus("job-t2")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, terminal.Status)
}
