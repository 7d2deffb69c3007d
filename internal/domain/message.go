package domain

import "time"

const MaxChatMessageLen = 4000

// ChatMessage is append-only; Order is monotonic per room and starts at 1.
type ChatMessage struct {
	RoomCode  string
	SenderID  ParticipantID
	Text      string
	Order     int64
	CreatedAt time.Time
}
