// This file is a documentation template and should not be compiled.
// It uses placeholder types (ExampleService, exampleCache, etc.) that don't exist.
// Use this as a reference when creating new services.
//
//go:build ignore

package service

// TEMPLATE.go - Service Layer Pattern Template
//
// This file demonstrates the standard pattern for all services in the service layer.
// Use this as a reference when creating new services.
//
// KEY PRINCIPLES:
// 1. All services use Options struct pattern for dependency injection
// 2. Tunables live in a Config struct with a DefaultXConfig(); the zero value takes defaults
// 3. Services with required dependencies have two constructors:
//    NewXService(opts) (*XService, error) and MustNewXService(opts) *XService
// 4. Services depend on port interfaces from internal/core, not concrete implementations
// 5. Optional dependencies (logger, cache, metrics) are checked for nil before use
// 6. Loggers are scoped with logger.With("component", "x_service")
// 7. All methods accept context.Context as first parameter
// 8. Errors are wrapped with context using fmt.Errorf("operation: %w", err)
// 9. Business logic and orchestration belong in the service layer
// 10. Services never import from internal/data, internal/mail, internal/httpx,
//     or internal/bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/domain/model"
)

// ═══════════════════════════════════════════════════════════════════════════
// PATTERN 1: Config Struct with Defaults
// ═══════════════════════════════════════════════════════════════════════════

// ExampleConfig tunes the example service.
//
// RULES:
// - Group tunables here, not as loose Options fields
// - Provide DefaultExampleConfig() with working values
// - Treat invalid or zero values as "use the default" in the constructor
type ExampleConfig struct {
	// MaxAttempts is the per-call retry budget.
	MaxAttempts int `json:"max_attempts"`
}

// DefaultExampleConfig returns an ExampleConfig with sensible defaults.
func DefaultExampleConfig() ExampleConfig {
	return ExampleConfig{MaxAttempts: 3}
}

// ═══════════════════════════════════════════════════════════════════════════
// PATTERN 2: Options Struct
// ═══════════════════════════════════════════════════════════════════════════

// ExampleServiceOptions groups dependencies for ExampleService.
//
// RULES:
// - One field per dependency, annotated Required or Optional
// - Required dependencies are port interfaces from internal/core
// - Optional dependencies must be safe to leave nil
type ExampleServiceOptions struct {
	Backend core.GenerationBackend // Required: text generation
	Cache   exampleCache           // Optional: result cache
	Logger  *slog.Logger           // Optional: structured logger
	Config  ExampleConfig          // Optional: zero value takes defaults
}

// ═══════════════════════════════════════════════════════════════════════════
// PATTERN 3: Optional Interface Dependencies
// ═══════════════════════════════════════════════════════════════════════════

// exampleCache defines the minimal behavior required from a cache.
// Define small interfaces for optional dependencies to avoid tight coupling.
type exampleCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// ═══════════════════════════════════════════════════════════════════════════
// PATTERN 4: Service Struct (private fields)
// ═══════════════════════════════════════════════════════════════════════════

// ExampleService provides business logic for example domain operations.
//
// RESPONSIBILITIES:
// - Orchestration across ports (backend calls, caching, notification)
// - Retry and quality-gate loops
// - Business rule enforcement
//
// DOES NOT:
// - Import from internal/data or internal/mail (depends on interfaces only)
// - Import from internal/httpx (transport layer depends on service, not vice versa)
// - Import from internal/bootstrap (the composition root depends on services)
type ExampleService struct {
	backend core.GenerationBackend
	cache   exampleCache
	logger  *slog.Logger
	cfg     ExampleConfig
}

// ═══════════════════════════════════════════════════════════════════════════
// PATTERN 5: Paired Constructors with Validation
// ═══════════════════════════════════════════════════════════════════════════

// NewExampleService constructs a new ExampleService.
//
// RULES:
// - Return an error when a required dependency is missing
// - Fall back to defaults for zero-value config
// - Scope the logger with a component attribute
// - Keep the constructor simple (no I/O, no goroutines)
func NewExampleService(opts ExampleServiceOptions) (*ExampleService, error) {
	if opts.Backend == nil {
		return nil, errors.New("GenerationBackend is required")
	}

	cfg := opts.Config
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultExampleConfig()
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "example_service")
	}

	return &ExampleService{
		backend: opts.Backend,
		cache:   opts.Cache,
		logger:  logger,
		cfg:     cfg,
	}, nil
}

// MustNewExampleService constructs a new ExampleService and panics on error.
// The composition root uses Must constructors so a misconfigured process
// dies at startup instead of limping along.
func MustNewExampleService(opts ExampleServiceOptions) *ExampleService {
	svc, err := NewExampleService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create ExampleService: %v", err))
	}
	return svc
}

// ═══════════════════════════════════════════════════════════════════════════
// PATTERN 6: Operations
// ═══════════════════════════════════════════════════════════════════════════

// Process runs the example workflow for a topic.
//
// RULES:
// - Accept context.Context as first parameter
// - Check optional dependencies for nil before use
// - Wrap errors with operation context: fmt.Errorf("operation: %w", err)
// - Log with the context-aware slog methods (InfoContext and friends)
func (s *ExampleService) Process(ctx context.Context, topic string) (*model.Article, error) {
	// Optional: check the cache first; a cache error is a miss, not a failure
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, topic); err == nil && cached != nil {
			return s.decode(cached)
		}
	}

	resp, err := s.backend.Generate(ctx, core.GenerateRequest{
		Prompt: "...",
		Model:  core.ModelFast,
	})
	if err != nil {
		return nil, fmt.Errorf("generate example content: %w", err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "example processed", "topic", truncate(topic, 50))
	}

	// Optional: best-effort cache write, never fails the call
	if s.cache != nil {
		_ = s.cache.Set(ctx, topic, []byte(resp.Text))
	}

	return &model.Article{Content: resp.Text}, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// PATTERN 7: Private Helper Methods
// ═══════════════════════════════════════════════════════════════════════════

// Private helpers are lowercase and focused on a single responsibility.
// They encapsulate implementation details and keep public methods readable.

func (s *ExampleService) decode(raw []byte) (*model.Article, error) {
	return nil, nil // Placeholder
}

// ═══════════════════════════════════════════════════════════════════════════
// NOTES FOR NEW SERVICES
// ═══════════════════════════════════════════════════════════════════════════
//
// When adding a service:
//
// 1. Define any new port interfaces in internal/core, next to the existing ones
// 2. Follow the Options + Config + paired-constructor pattern above
// 3. Wire the service in internal/bootstrap/services.go
// 4. Add unit tests with hand-rolled fakes (see TEMPLATE_test.go)
// 5. Long-running work takes a context and honors cancellation
//
// Common pitfalls:
// - Returning a nil service together with a nil error
// - Not wrapping errors with operation context
// - Calling an optional dependency without a nil check
// - Logging with the non-context slog methods inside request paths
// - Holding a lock across a backend call
