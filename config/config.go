package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - backend.go: Generation backend configuration
//   - cache.go: Cache configuration
//   - http.go: HTTP server configuration
//   - mail.go: Mail transport configuration
//   - services.go: Monitor and pipeline configuration
type AppConfig struct {
	// IsDev controls development mode behavior (log level, .env loading).
	// Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Generation backend configuration
	Backend BackendConfig `envPrefix:"OPENAI_"`

	// Mail transport configuration
	Mail MailConfig `envPrefix:"MAIL_"`

	// Cache configuration
	Cache CacheConfig

	// HTTP server configuration
	HTTP HTTPConfig

	// Monitor configuration
	Monitor MonitorConfig

	// Pipeline configuration
	Pipeline PipelineConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.Mail.Sanitize()
	c.Cache.Sanitize()
	c.Monitor.Sanitize()
	c.Pipeline.Sanitize()
	c.Observability.Sanitize()

	// Check NODE_ENV for dev mode
	c.detectDevMode()
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// This is called by Sanitize() to ensure IsDev is set correctly.
// NODE_ENV is checked as a fallback (common in frontend tooling).
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}
