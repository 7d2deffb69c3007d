package domain

import (
	"strings"
	"time"
)

// Room is the durable metadata of a room. Live state is owned by the room session.
type Room struct {
	Code      string    `db:"code"`
	ProblemID int64     `db:"problem_id"`
	OwnerID   string    `db:"owner_id"`
	Language  string    `db:"language"`
	CreatedAt time.Time `db:"created_at"`
}

// NormalizeRoomCode upper-cases and trims a user supplied code.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
