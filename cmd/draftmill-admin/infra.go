package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/draftmill/draftmill/config"
	"github.com/draftmill/draftmill/internal/bootstrap"
)

var errCacheNotConfigured = errors.New("cache not configured")

// connectCache returns a connected Redis client when a cache address is
// configured. The Enabled flag is not consulted: keys stay reachable for
// inspection and cleanup after CACHE_ENABLED is switched off.
//
//nolint:ireturn // returning redis.UniversalClient keeps the scan/delete helpers testable.
func connectCache(logger *slog.Logger, cfg *config.AppConfig) (redis.UniversalClient, error) {
	if !hasCacheConfig(&cfg.Cache) {
		return nil, errCacheNotConfigured
	}
	client, err := bootstrap.ConnectRedis(cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

func hasCacheConfig(cfg *config.CacheConfig) bool {
	if cfg == nil {
		return false
	}
	return cfg.RedisAddr != ""
}
