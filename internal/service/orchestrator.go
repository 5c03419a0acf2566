package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/draftmill/draftmill/internal/domain/model"
	"github.com/draftmill/draftmill/internal/domain/progress"
	apperrors "github.com/draftmill/draftmill/internal/errors"
)

// defaultListLimit caps ListJobs when the caller passes no limit.
const defaultListLimit = 20

// OrchestratorConfig holds tunables for the background monitor.
type OrchestratorConfig struct {
	// CheckInterval is the pause between inbox polls.
	CheckInterval time.Duration `json:"check_interval"`
}

// DefaultOrchestratorConfig returns an OrchestratorConfig with sensible defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{CheckInterval: 60 * time.Second}
}

// JobOrchestrationServiceOptions groups dependencies for JobOrchestrationService.
type JobOrchestrationServiceOptions struct {
	Pipeline  *PipelineService    // Required: content generation pipeline
	Guardrail *GuardrailService   // Required: topic safety screening
	Intake    *MailIntakeService  // Optional: inbox polling, needed to start the monitor
	Notices   *NoticeService      // Optional: outbound mail, needed to start the monitor
	Progress  progress.Publisher  // Optional: sink for terminal events of jobs that never reach the pipeline
	Logger    *slog.Logger        // Optional: structured logger
	Metrics   *JobMetrics         // Optional: job outcome counters
	Config    OrchestratorConfig  // Optional: zero value takes defaults
	Now       func() time.Time    // Optional: clock, defaults to time.Now
}

// JobOrchestrationService owns the job registry and the background monitor
// loop. Each accepted request becomes a Job processed by its own goroutine;
// the owning goroutine is the only writer of its job and moves it from the
// active map to the terminal list exactly once. Stop cancels the monitor and
// every in-flight job, then waits for all of them to land in a terminal
// state before returning.
type JobOrchestrationService struct {
	pipeline  *PipelineService
	guardrail *GuardrailService
	intake    *MailIntakeService
	notices   *NoticeService
	progress  progress.Publisher
	logger    *slog.Logger
	metrics   *JobMetrics
	cfg       OrchestratorConfig
	now       func() time.Time

	mu            sync.Mutex
	running       bool
	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
	active        map[string]*model.Job
	terminal      []*model.Job
	cancels       map[string]context.CancelFunc
	jobsProcessed int
	lastPoll      *time.Time
	tasks         sync.WaitGroup
}

// NewJobOrchestrationService constructs a new JobOrchestrationService.
func NewJobOrchestrationService(opts JobOrchestrationServiceOptions) (*JobOrchestrationService, error) {
	if opts.Pipeline == nil {
		return nil, errors.New("Pipeline is required")
	}
	if opts.Guardrail == nil {
		return nil, errors.New("Guardrail is required")
	}
	cfg := opts.Config
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultOrchestratorConfig().CheckInterval
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_orchestrator")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	pub := opts.Progress
	if pub == nil {
		pub = progress.NopPublisher{}
	}
	return &JobOrchestrationService{
		pipeline:  opts.Pipeline,
		guardrail: opts.Guardrail,
		intake:    opts.Intake,
		notices:   opts.Notices,
		progress:  pub,
		logger:    logger,
		metrics:   opts.Metrics,
		cfg:       cfg,
		now:       now,
		active:    make(map[string]*model.Job),
		cancels:   make(map[string]context.CancelFunc),
	}, nil
}

// MustNewJobOrchestrationService constructs a new JobOrchestrationService or
// panics on invalid options.
func MustNewJobOrchestrationService(opts JobOrchestrationServiceOptions) *JobOrchestrationService {
	s, err := NewJobOrchestrationService(opts)
	if err != nil {
		panic(err) //nolint:forbidigo // fail fast on construction
	}
	return s
}

// Start launches the background monitor loop. It fails when the monitor is
// already running or when the mail side is not wired up.
func (s *JobOrchestrationService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return model.ErrMonitorRunning
	}
	if s.intake == nil {
		return apperrors.Validation("mail intake is not configured")
	}
	if s.notices == nil {
		return apperrors.Validation("mail transport is not configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.running = true
	s.monitorCancel = cancel
	s.monitorDone = done
	go func() {
		defer close(done)
		s.monitorLoop(ctx)
	}()

	if s.logger != nil {
		s.logger.Info("monitor started", "check_interval", s.cfg.CheckInterval)
	}
	return nil
}

// Stop shuts the monitor down: it stops the poll loop, cancels every
// in-flight job and waits for all job goroutines to finish. Canceled jobs
// end up failed in the terminal list; none are left behind in the active
// map. Stop itself never fails for a running monitor.
func (s *JobOrchestrationService) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return model.ErrMonitorNotRunning
	}
	s.running = false
	cancelMonitor := s.monitorCancel
	done := s.monitorDone
	s.monitorCancel = nil
	s.monitorDone = nil
	s.mu.Unlock()

	cancelMonitor()
	<-done

	s.mu.Lock()
	inFlight := len(s.cancels)
	cancels := make([]context.CancelFunc, 0, inFlight)
	for _, cancel := range s.cancels {
		cancels = append(cancels, cancel)
	}
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	s.tasks.Wait()

	if s.logger != nil {
		s.logger.Info("monitor stopped", "canceled_jobs", inFlight)
	}
	return nil
}

// Shutdown prepares the service for process exit: it stops the monitor when
// one is running, then cancels and joins any jobs triggered while the monitor
// was down. No job goroutine survives the call.
func (s *JobOrchestrationService) Shutdown() {
	if err := s.Stop(); err != nil && !errors.Is(err, model.ErrMonitorNotRunning) && s.logger != nil {
		s.logger.Error("stop monitor", "error", err)
	}

	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.cancels))
	for _, cancel := range s.cancels {
		cancels = append(cancels, cancel)
	}
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	s.tasks.Wait()
}

// Status reports a snapshot of the monitor and the job registry.
func (s *JobOrchestrationService) Status() model.MonitorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var lastPoll *time.Time
	if s.lastPoll != nil {
		t := *s.lastPoll
		lastPoll = &t
	}
	return model.MonitorStatus{
		Running:              s.running,
		LastPoll:             lastPoll,
		JobsProcessed:        s.jobsProcessed,
		ActiveJobs:           len(s.active),
		TerminalJobs:         len(s.terminal),
		CheckIntervalSeconds: int(s.cfg.CheckInterval / time.Second),
	}
}

// TriggerTopic creates a job for a direct request and starts processing it
// in the background. The returned snapshot is taken before processing
// begins, so its status is pending. The monitor does not need to be running.
func (s *JobOrchestrationService) TriggerTopic(req model.JobRequest) (*model.Job, error) {
	return s.launchJob(req)
}

// JobStatus looks a job up by id, checking active jobs before terminal ones.
func (s *JobOrchestrationService) JobStatus(id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.active[id]; ok {
		return job.Clone(), nil
	}
	for i := len(s.terminal) - 1; i >= 0; i-- {
		if s.terminal[i].ID == id {
			return s.terminal[i].Clone(), nil
		}
	}
	return nil, model.ErrJobNotFound
}

// ListJobs returns up to limit job snapshots: active jobs first, oldest
// first, then terminal jobs newest first. A non-positive limit uses the
// default.
func (s *JobOrchestrationService) ListJobs(limit int) []*model.Job {
	if limit <= 0 {
		limit = defaultListLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	actives := make([]*model.Job, 0, len(s.active))
	for _, job := range s.active {
		actives = append(actives, job)
	}
	sort.Slice(actives, func(i, j int) bool {
		if actives[i].ReceivedAt.Equal(actives[j].ReceivedAt) {
			return actives[i].ID < actives[j].ID
		}
		return actives[i].ReceivedAt.Before(actives[j].ReceivedAt)
	})

	jobs := make([]*model.Job, 0, limit)
	for _, job := range actives {
		if len(jobs) == limit {
			return jobs
		}
		jobs = append(jobs, job.Clone())
	}
	for i := len(s.terminal) - 1; i >= 0 && len(jobs) < limit; i-- {
		jobs = append(jobs, s.terminal[i].Clone())
	}
	return jobs
}

// monitorLoop polls the inbox until its context is canceled. The first poll
// happens immediately; errors are logged and the loop keeps going.
func (s *JobOrchestrationService) monitorLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		s.pollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.CheckInterval):
		}
	}
}

// pollOnce fetches pending requests from the inbox and launches a job for
// each. The poll timestamp only advances on a successful fetch.
func (s *JobOrchestrationService) pollOnce(ctx context.Context) {
	requests, err := s.intake.FetchRequests(ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("inbox poll failed", "error", err)
		}
		return
	}
	for _, req := range requests {
		if _, err := s.launchJob(req); err != nil && s.logger != nil {
			s.logger.Error("launch job", "topic", req.Topic, "error", err)
		}
	}
	now := s.now()
	s.mu.Lock()
	s.lastPoll = &now
	s.mu.Unlock()
}

// launchJob registers a new job and hands it to its own goroutine. Job
// contexts derive from the service, not the caller, so processing outlives
// the request that triggered it.
func (s *JobOrchestrationService) launchJob(req model.JobRequest) (*model.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job request")
	}
	job := model.NewJob(req, s.now())
	jobCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.active[job.ID] = job
	s.cancels[job.ID] = cancel
	snapshot := job.Clone()
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("job accepted", "job_id", job.ID, "topic", job.Topic, "format", job.Format)
	}

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		defer cancel()
		s.runJob(jobCtx, job, req.Constraints)
	}()
	return snapshot, nil
}

// runJob drives one job through guardrail, pipeline and notification. It is
// the only writer of the job and always moves it to a terminal state, even
// on panic.
func (s *JobOrchestrationService) runJob(ctx context.Context, job *model.Job, constraints *model.SearchConstraints) {
	started := s.now()
	defer func() {
		if r := recover(); r != nil {
			if s.logger != nil {
				s.logger.Error("job task panicked", "job_id", job.ID, "panic", r)
			}
			s.progress.Publish(model.ProgressEvent{
				JobID:   job.ID,
				Event:   model.EventError,
				Agent:   model.AgentSystem,
				Message: fmt.Sprintf("internal error: %v", r),
			})
			s.finishJob(job, model.JobStatusFailed, fmt.Sprintf("internal error: %v", r), started, 0, nil)
		}
	}()

	s.mu.Lock()
	job.Status = model.JobStatusProcessing
	s.mu.Unlock()

	verdict := s.guardrail.Check(ctx, job.Topic)
	if !verdict.Safe {
		if s.logger != nil {
			s.logger.Warn("job blocked", "job_id", job.ID, "reason", verdict.Reason)
		}
		s.notifyRejection(ctx, job, verdict.Reason)
		// The pipeline never runs for blocked jobs, so the terminal stream
		// event has to come from here.
		s.progress.Publish(model.ProgressEvent{
			JobID:   job.ID,
			Event:   model.EventError,
			Agent:   model.AgentGuardrail,
			Message: "Content blocked: " + verdict.Reason,
		})
		s.finishJob(job, model.JobStatusBlocked, "Content blocked: "+verdict.Reason, started, 0, nil)
		return
	}

	result, err := s.pipeline.Run(ctx, RunInput{
		JobID:       job.ID,
		Topic:       job.Topic,
		Keywords:    job.Keywords,
		Format:      job.Format,
		Constraints: constraints,
	})
	if err != nil {
		if s.logger != nil {
			s.logger.Error("job failed", "job_id", job.ID, "error", err)
		}
		s.notifyFailure(ctx, job, err.Error())
		s.finishJob(job, model.JobStatusFailed, err.Error(), started, 0, err)
		return
	}

	s.mu.Lock()
	job.Result = result
	s.mu.Unlock()

	// A lost result mail is logged but does not fail the finished job.
	s.notifyResult(ctx, job)
	s.finishJob(job, model.JobStatusCompleted, "", started, result.Iterations, nil)
}

// finishJob moves a job from the active map to the terminal list. The move
// happens at most once; a second call for the same job is a no-op.
func (s *JobOrchestrationService) finishJob(job *model.Job, status model.JobStatus, errMsg string, started time.Time, iterations int, cause error) {
	completedAt := s.now()
	s.mu.Lock()
	if _, ok := s.active[job.ID]; !ok {
		s.mu.Unlock()
		return
	}
	job.Status = status
	job.Error = errMsg
	job.CompletedAt = &completedAt
	delete(s.active, job.ID)
	delete(s.cancels, job.ID)
	s.terminal = append(s.terminal, job)
	if status == model.JobStatusCompleted {
		s.jobsProcessed++
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordJobOutcome(status, completedAt.Sub(started), iterations, cause)
	}
	if s.logger != nil {
		s.logger.Info("job finished", "job_id", job.ID, "status", status, "elapsed", completedAt.Sub(started))
	}
}

func (s *JobOrchestrationService) notifyResult(ctx context.Context, job *model.Job) {
	if s.notices == nil || job.Sender == "" {
		return
	}
	if err := s.notices.SendResult(ctx, job); err != nil && s.logger != nil {
		s.logger.Error("send result mail", "job_id", job.ID, "error", err)
	}
}

func (s *JobOrchestrationService) notifyRejection(ctx context.Context, job *model.Job, reason string) {
	if s.notices == nil || job.Sender == "" {
		return
	}
	if err := s.notices.SendRejection(ctx, job, reason); err != nil && s.logger != nil {
		s.logger.Error("send rejection mail", "job_id", job.ID, "error", err)
	}
}

func (s *JobOrchestrationService) notifyFailure(ctx context.Context, job *model.Job, errorMessage string) {
	if s.notices == nil || job.Sender == "" {
		return
	}
	if err := s.notices.SendFailure(ctx, job, errorMessage); err != nil && s.logger != nil {
		s.logger.Error("send failure mail", "job_id", job.ID, "error", err)
	}
}
