package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cwrk-planet/coderoom/internal/domain"
)

type RoomSource interface {
	GetByCode(ctx context.Context, code string) (*domain.Room, error)
}

// Rooms is a read-through cache in front of the room table.
type Rooms struct {
	rdb  *redis.Client
	next RoomSource
	ttl  time.Duration
}

func NewRooms(rdb *redis.Client, next RoomSource, ttl time.Duration) *Rooms {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Rooms{rdb: rdb, next: next, ttl: ttl}
}

func roomKey(code string) string { return "coderoom:room:" + code }

func (c *Rooms) GetByCode(ctx context.Context, code string) (*domain.Room, error) {
	if c.rdb == nil {
		return c.next.GetByCode(ctx, code)
	}

	raw, err := c.rdb.Get(ctx, roomKey(code)).Bytes()
	switch {
	case err == nil:
		var r domain.Room
		if jerr := json.Unmarshal(raw, &r); jerr == nil {
			return &r, nil
		}
		slog.Warn("cache: dropping undecodable room", "room", code)
		c.rdb.Del(ctx, roomKey(code))
	case !errors.Is(err, redis.Nil):
		slog.Warn("cache: room lookup failed", "room", code, "err", err)
	}

	r, err := c.next.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	c.Put(ctx, r)
	return r, nil
}

// Put stores r. Failures are logged and ignored.
func (c *Rooms) Put(ctx context.Context, r *domain.Room) {
	if c.rdb == nil || r == nil {
		return
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, roomKey(r.Code), raw, c.ttl).Err(); err != nil {
		slog.Warn("cache: room store failed", "room", r.Code, "err", err)
	}
}

func (c *Rooms) Invalidate(ctx context.Context, code string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, roomKey(code)).Err(); err != nil {
		slog.Warn("cache: room invalidate failed", "room", code, "err", err)
	}
}
