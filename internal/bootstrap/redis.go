package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/draftmill/draftmill/config"
	"github.com/draftmill/draftmill/internal/data"
)

// redisPingTimeout bounds the connection check at startup.
const redisPingTimeout = 5 * time.Second

// ConnectRedis establishes a connection to the cache Redis and verifies it
// with a ping. The caller owns the returned client and must close it.
func ConnectRedis(cfg config.CacheConfig, logger *slog.Logger) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("redis configuration requires an address")
	}

	client := data.NewRedisClient(data.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()

	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		if closeErr := client.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close redis client: %w", closeErr))
		}
		return nil, fmt.Errorf("ping redis: %w", pingErr)
	}

	if logger != nil {
		logger.Info("redis connected", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	}

	return client, nil
}
