package domain

import "time"

// ParticipantID is a stable identity (a username), not a connection.
type ParticipantID string

type Participant struct {
	RoomCode string        `db:"room_code"`
	ID       ParticipantID `db:"participant_id"`
	JoinedAt time.Time     `db:"joined_at"`
	LastSeen time.Time     `db:"last_seen"`

	// transient, never stored
	ConnID string `db:"-"`
	Online bool   `db:"-"`
}
