package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/draftmill/draftmill/config"
	"github.com/draftmill/draftmill/internal/adapters/imapmail"
	"github.com/draftmill/draftmill/internal/adapters/openaigen"
	"github.com/draftmill/draftmill/internal/adapters/smtpmail"
	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/data"
	"github.com/draftmill/draftmill/internal/domain/progress"
	apperrors "github.com/draftmill/draftmill/internal/errors"
	"github.com/draftmill/draftmill/internal/observability/statsd"
	"github.com/draftmill/draftmill/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Orchestrator  *service.JobOrchestrationService
	Pipeline      *service.PipelineService
	Research      *service.ResearchService
	Guardrail     *service.GuardrailService
	Intake        *service.MailIntakeService // nil until mail is configured
	Notices       *service.NoticeService     // nil until mail is configured
	Progress      *progress.Broker
	Cache         core.CacheRepository // nil when the cache is disabled
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	Metrics     *service.JobMetrics
	MetricsSink *statsd.Client
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	RedisClient redis.UniversalClient // nil when the cache is disabled
	Logger      *slog.Logger
}

// buildObservability configures job metrics and the optional StatsD sink.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	metrics := service.NewJobMetrics()

	var sink *statsd.Client
	if cfg.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.StatsdAddr,
			Prefix:  cfg.StatsdPrefix,
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			sink = client
			metrics.SetSink(sink)
		}
	}

	return ObservabilityContainer{
		Metrics:     metrics,
		MetricsSink: sink,
	}
}

// unconfiguredBackend stands in when no API key is set. The process still
// serves its API; every generation call fails with an unavailable error.
type unconfiguredBackend struct{}

func (unconfiguredBackend) Generate(context.Context, core.GenerateRequest) (*core.GenerateResult, error) {
	return nil, apperrors.Unavailable("generation backend is not configured, set OPENAI_API_KEY")
}

func (unconfiguredBackend) GenerateImage(context.Context, string) (string, error) {
	return "", apperrors.Unavailable("generation backend is not configured, set OPENAI_API_KEY")
}

// buildBackend constructs the generation backend from config.
//
//nolint:ireturn // callers program against the port, not the adapter.
func buildBackend(cfg config.BackendConfig, logger *slog.Logger) (core.GenerationBackend, error) {
	if !cfg.IsConfigured() {
		if logger != nil {
			logger.Warn("no generation API key set; jobs will fail until OPENAI_API_KEY is configured")
		}
		return unconfiguredBackend{}, nil
	}

	backend, err := openaigen.New(openaigen.Config{
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		PrimaryModel: cfg.PrimaryModel,
		FastModel:    cfg.FastModel,
		SearchModel:  cfg.SearchModel,
		ImageModel:   cfg.ImageModel,
	})
	if err != nil {
		return nil, fmt.Errorf("generation backend: %w", err)
	}
	return backend, nil
}

// mailBundle groups the two mail-facing services, which are wired together
// or not at all.
type mailBundle struct {
	intake  *service.MailIntakeService
	notices *service.NoticeService
}

// buildMailServices wires IMAP intake and SMTP notices. Both stay nil when
// mail credentials are missing; the monitor then refuses to start while the
// rest of the API keeps working.
func buildMailServices(cfg config.MailConfig, cache core.CacheRepository, metrics *service.JobMetrics, logger *slog.Logger) (mailBundle, error) {
	if !cfg.IsComplete() {
		return mailBundle{}, nil
	}

	fetcher, err := imapmail.NewFetcher(imapmail.Config{
		Server:   cfg.IMAPServer,
		Address:  cfg.Address,
		Password: cfg.Password,
		Mailbox:  cfg.Mailbox,
	}, logger)
	if err != nil {
		return mailBundle{}, fmt.Errorf("imap fetcher: %w", err)
	}

	sender, err := smtpmail.NewSender(smtpmail.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Address:  cfg.Address,
		Password: cfg.Password,
	})
	if err != nil {
		return mailBundle{}, fmt.Errorf("smtp sender: %w", err)
	}

	intake := service.MustNewMailIntakeService(service.MailIntakeServiceOptions{
		Fetcher: fetcher,
		Cache:   cache,
		Logger:  logger,
		Metrics: metrics,
		Config: service.IntakeConfig{
			AllowedSenders: cfg.AllowedSenders,
			DedupeTTL:      cfg.DedupeTTL,
		},
	})

	notices := service.MustNewNoticeService(service.NoticeServiceOptions{
		Sender: sender,
		Logger: logger,
	})

	return mailBundle{intake: intake, notices: notices}, nil
}

// DomainServicesOptions groups inputs for buildDomainServices.
type DomainServicesOptions struct {
	Backend       core.GenerationBackend
	CacheRepo     core.CacheRepository
	Observability ObservabilityContainer
	Config        *config.AppConfig
	Logger        *slog.Logger
}

// buildDomainServices wires the content services on top of the backend,
// cache and observability adapters.
func buildDomainServices(opts *DomainServicesOptions) (ServiceContainer, error) {
	svcLogger := opts.Logger
	if svcLogger == nil {
		svcLogger = slog.Default()
	}

	appCfg := opts.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	broker := progress.NewBroker()

	researchCache := core.NewResearchCacheService(core.ResearchCacheServiceOptions{
		Cache:  opts.CacheRepo,
		Config: core.ResearchCacheConfig{TTL: appCfg.Cache.ResearchTTL},
	})

	research := service.MustNewResearchService(service.ResearchServiceOptions{
		Backend: opts.Backend,
		Cache:   researchCache,
		Logger:  svcLogger,
		Config:  service.ResearchConfig{MaxAttempts: appCfg.Pipeline.ResearchMaxAttempts},
	})

	pipeline := service.MustNewPipelineService(service.PipelineServiceOptions{
		Backend:  opts.Backend,
		Research: research,
		Progress: broker,
		Logger:   svcLogger,
		Config: service.PipelineConfig{
			MaxIterations:      appCfg.Pipeline.MaxIterations,
			StageTimeout:       appCfg.Pipeline.StageTimeout,
			MinRefinedLength:   appCfg.Pipeline.MinRefinedLength,
			ReviewParseRetries: appCfg.Pipeline.ReviewParseRetries,
		},
	})

	guardrail := service.NewGuardrailService(service.GuardrailServiceOptions{
		Backend: opts.Backend,
		Logger:  svcLogger,
		Metrics: opts.Observability.Metrics,
	})

	mail, err := buildMailServices(appCfg.Mail, opts.CacheRepo, opts.Observability.Metrics, svcLogger)
	if err != nil {
		return ServiceContainer{}, err
	}

	orchestrator := service.MustNewJobOrchestrationService(service.JobOrchestrationServiceOptions{
		Pipeline:  pipeline,
		Guardrail: guardrail,
		Intake:    mail.intake,
		Notices:   mail.notices,
		Progress:  broker,
		Logger:    svcLogger,
		Metrics:   opts.Observability.Metrics,
		Config:    service.OrchestratorConfig{CheckInterval: appCfg.Monitor.CheckInterval},
	})

	return ServiceContainer{
		Orchestrator:  orchestrator,
		Pipeline:      pipeline,
		Research:      research,
		Guardrail:     guardrail,
		Intake:        mail.intake,
		Notices:       mail.notices,
		Progress:      broker,
		Cache:         opts.CacheRepo,
		Observability: opts.Observability,
	}, nil
}

// NewServices builds the full service graph from configuration and shared
// infrastructure.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil {
		return ServiceContainer{}, errors.New("service deps are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var obsCfg config.ObservabilityConfig
	var backendCfg config.BackendConfig
	if deps.Config != nil {
		obsCfg = deps.Config.Observability
		backendCfg = deps.Config.Backend
	}

	observability := buildObservability(logger, obsCfg)

	backend, err := buildBackend(backendCfg, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	var cacheRepo core.CacheRepository
	if deps.RedisClient != nil {
		cacheRepo = data.NewRedisCacheRepo(deps.RedisClient)
	}

	return buildDomainServices(&DomainServicesOptions{
		Backend:       backend,
		CacheRepo:     cacheRepo,
		Observability: observability,
		Config:        deps.Config,
		Logger:        logger,
	})
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// RunServicesWithShutdown starts the HTTP server and, when configured, the
// inbox monitor, then blocks until the context is canceled or the server
// fails. Shutdown is graceful: job processing stops before the process exits.
func RunServicesWithShutdown(ctx context.Context, cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	server, serverErr := StartHTTPServer(&HTTPServerConfig{
		Config:   cfg.Config,
		Services: cfg.Services,
		Logger:   logger,
	})

	if cfg.Config.Monitor.AutoStart {
		switch {
		case cfg.Services.Intake == nil:
			logger.Warn("monitor auto-start skipped, mail is not configured")
		default:
			if err := cfg.Services.Orchestrator.Start(); err != nil {
				logger.Error("monitor auto-start failed", "error", err)
			}
		}
	}

	return waitForShutdown(ctx, shutdownDeps{
		server:   server,
		errCh:    serverErr,
		services: cfg.Services,
		logger:   logger,
	})
}

// shutdownDeps contains dependencies for graceful shutdown.
type shutdownDeps struct {
	server   *http.Server
	errCh    <-chan error
	services ServiceContainer
	logger   *slog.Logger
}

// waitForShutdown blocks until the run context ends or the HTTP server
// fails, then stops everything.
func waitForShutdown(ctx context.Context, deps shutdownDeps) error {
	select {
	case <-ctx.Done():
		deps.logger.Info("shutting down services...")
		return gracefulStop(deps)
	case err := <-deps.errCh:
		deps.logger.Error("service error", "error", err)
		if stopErr := gracefulStop(deps); stopErr != nil {
			deps.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop stops job processing, ends open event streams, drains the
// HTTP server and releases the metrics sink.
func gracefulStop(deps shutdownDeps) error {
	if err := ShutdownHTTPServer(ShutdownConfig{
		Context:      context.Background(),
		Server:       deps.server,
		Orchestrator: deps.services.Orchestrator,
		Progress:     deps.services.Progress,
		Logger:       deps.logger,
	}); err != nil {
		return err
	}

	if sink := deps.services.Observability.MetricsSink; sink != nil {
		if err := sink.Close(); err != nil {
			deps.logger.Warn("close metrics sink", "error", err)
		}
	}

	return nil
}
