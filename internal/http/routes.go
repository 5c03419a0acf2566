package httpx

import (
	"net/http"

	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/domain/progress"
	"github.com/draftmill/draftmill/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Orchestrator *service.JobOrchestrationService
	Guardrail    *service.GuardrailService
	Progress     *progress.Broker
	// Optional: cache reachability is reported on the health endpoint.
	Cache core.CacheRepository
}

// NewRouter creates and configures the API router. Middleware is applied by
// the caller so servers can choose their own chain.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	monitor := &MonitorHandlers{Svc: services.Orchestrator}
	jobs := &JobHandlers{Svc: services.Orchestrator}
	streams := &StreamHandlers{Jobs: services.Orchestrator, Progress: services.Progress}
	guardrail := &GuardrailHandlers{Svc: services.Guardrail}
	health := &HealthHandlers{Cache: services.Cache}

	mux.HandleFunc("GET /health", health.Health)
	mux.HandleFunc("HEAD /health", health.Health)

	mux.HandleFunc("POST /api/monitor/start", monitor.Start)
	mux.HandleFunc("POST /api/monitor/stop", monitor.Stop)
	mux.HandleFunc("GET /api/monitor/status", monitor.Status)

	mux.HandleFunc("POST /api/jobs", jobs.Trigger)
	mux.HandleFunc("GET /api/jobs", jobs.List)
	mux.HandleFunc("GET /api/jobs/{id}", jobs.Get)
	mux.HandleFunc("GET /api/jobs/{id}/events", streams.JobEvents)

	mux.HandleFunc("POST /api/pipeline", streams.RunPipeline)
	mux.HandleFunc("POST /api/guardrail/check", guardrail.Check)

	return mux
}
