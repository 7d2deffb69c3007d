package http

import (
	"time"

	"github.com/cwrk-planet/coderoom/pkg/protocol"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type CreateRoomRequest struct {
	ProblemID int64  `json:"problem_id"`
	OwnerID   string `json:"owner_id"`
}

type RoomItem struct {
	Code      string    `json:"code"`
	ProblemID int64     `json:"problem_id"`
	OwnerID   string    `json:"owner_id"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at"`
}

type RoomsResponse struct {
	Items []RoomItem `json:"items"`
}

type ParticipantItem struct {
	ParticipantID string    `json:"participant_id"`
	Online        bool      `json:"online"`
	JoinedAt      time.Time `json:"joined_at"`
	LastSeen      time.Time `json:"last_seen"`
}

type ParticipantsResponse struct {
	Items []ParticipantItem `json:"items"`
}

type CodeResponse struct {
	Room          string `json:"room"`
	ParticipantID string `json:"participant_id"`
	Code          string `json:"code"`
}

type RunRequest struct {
	Code       string `json:"code"`
	Language   string `json:"language"`
	SampleOnly bool   `json:"sample_only"`
	Share      bool   `json:"share"`
}

type SubmitRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type ProblemItem struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Difficulty   string `json:"difficulty"`
	SampleInput  string `json:"sample_input"`
	SampleOutput string `json:"sample_output"`
}

type SubmissionsResponse struct {
	Items      []protocol.SubmissionItem `json:"items"`
	NextCursor string                    `json:"next_cursor,omitempty"`
}
