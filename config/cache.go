package config

import (
	"strings"
	"time"
)

// CacheConfig contains cache configuration (Redis-based). The cache is
// optional: with it disabled the service still runs, it just re-researches
// repeated topics and loses cross-restart message dedupe.
type CacheConfig struct {
	// Enabled turns the Redis cache on.
	Enabled bool `env:"CACHE_ENABLED" envDefault:"false"`

	// Redis connection settings for cache.
	RedisAddr     string `env:"CACHE_REDIS_ADDR"     envDefault:"localhost:6379"`
	RedisPassword string `env:"CACHE_REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"CACHE_REDIS_DB"       envDefault:"0"`

	// ResearchTTL is the TTL for cached research results.
	ResearchTTL time.Duration `env:"CACHE_RESEARCH_TTL" envDefault:"30m"`
}

// Sanitize applies guardrails to cache configuration values.
func (c *CacheConfig) Sanitize() {
	c.RedisAddr = strings.TrimSpace(c.RedisAddr)
	if c.RedisAddr == "" {
		c.Enabled = false
	}
	if c.ResearchTTL <= 0 {
		c.ResearchTTL = 30 * time.Minute
	}
}
