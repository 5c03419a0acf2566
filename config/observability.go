package config

import "strings"

// ObservabilityConfig controls emission of metrics to external sinks such
// as StatsD. Metrics are disabled unless an address is set.
type ObservabilityConfig struct {
	// StatsdAddr is the host:port of a StatsD-compatible UDP endpoint.
	StatsdAddr string `env:"OBSERVABILITY_STATSD_ADDR"`

	// StatsdPrefix is prepended to every metric name.
	StatsdPrefix string `env:"OBSERVABILITY_STATSD_PREFIX" envDefault:"draftmill"`
}

// Sanitize normalises derived fields and enforces safe defaults.
func (c *ObservabilityConfig) Sanitize() {
	c.StatsdAddr = strings.TrimSpace(c.StatsdAddr)
	c.StatsdPrefix = strings.TrimSpace(c.StatsdPrefix)
	if c.StatsdPrefix == "" {
		c.StatsdPrefix = "draftmill"
	}
}

// IsEnabled returns true when metrics emission is active after sanitisation.
func (c *ObservabilityConfig) IsEnabled() bool {
	return c.StatsdAddr != ""
}
