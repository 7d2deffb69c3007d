// Package cache keeps hot room metadata and execution rate counters in redis.
// Every type here degrades to a pass-through when redis is unavailable.
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects to redis. It returns nil, not an error, when redis is
// not configured or unreachable; the service keeps running without it.
func NewClient(ctx context.Context, cfg Config) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		slog.Warn("redis unavailable, continuing without cache", "addr", cfg.Addr, "err", err)
		_ = rdb.Close()
		return nil
	}
	slog.Info("redis connection established", "addr", cfg.Addr)
	return rdb
}
