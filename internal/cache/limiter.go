package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cwrk-planet/coderoom/internal/domain"
)

// Limiter is a fixed-window counter on judge calls per participant and room.
// It fails open: a nil client or a redis error allows the call.
type Limiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

func NewLimiter(rdb *redis.Client, limit int, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{rdb: rdb, limit: limit, window: window}
}

// Allow counts one call and returns domain.ErrRateLimited once the window is full.
func (l *Limiter) Allow(ctx context.Context, roomCode string, pid domain.ParticipantID) error {
	if l == nil || l.rdb == nil || l.limit <= 0 {
		return nil
	}
	key := fmt.Sprintf("coderoom:ratelimit:exec:%s:%s", roomCode, pid)

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		slog.Warn("ratelimit: redis error, allowing", "key", key, "err", err)
		return nil
	}
	if count == 1 {
		l.rdb.Expire(ctx, key, l.window)
	}
	if int(count) > l.limit {
		return domain.ErrRateLimited
	}
	return nil
}
