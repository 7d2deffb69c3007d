// Package protocol holds the realtime wire types shared by the gateway and its clients.
package protocol

import "encoding/json"

// Event types carried in the envelope.
const (
	TypeJoinRoom       = "join_room"
	TypeRoomState      = "room_state" // snapshot sent to the joiner only
	TypeLeaveRoom      = "leave_room"
	TypeLeft           = "left" // ack to the leaving connection
	TypeCodeUpdate     = "code_update"
	TypeLanguageUpdate = "language_update"
	TypeChatMessage    = "chat_message"
	TypeCodeExecuted   = "code_executed"
	TypeCodeSubmitted  = "code_submitted"
	TypeRoomSubmission = "room_submission"
	TypeUserJoined     = "user_joined"
	TypeUserLeft       = "user_left"
	TypePing           = "ping"
	TypePong           = "pong"
	TypeError          = "error"
)

// Error codes sent in ErrorPayload.Code.
const (
	ErrCodeBadPayload          = "bad_payload"
	ErrCodeRoomNotFound        = "room_not_found"
	ErrCodeNotJoined           = "not_joined"
	ErrCodeNotInRoom           = "not_in_room"
	ErrCodeEmptyMessage        = "empty_message"
	ErrCodeMessageTooLong      = "message_too_long"
	ErrCodeUnsupportedLanguage = "unsupported_language"
	ErrCodeRoomClosed          = "room_closed"
	ErrCodeSuperseded          = "superseded"
	ErrCodeUnknownType         = "unknown_type"
	ErrCodeInternal            = "internal"
)

// Message is the outbound envelope.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Envelope is the inbound envelope; the payload is decoded once the type is known.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (e Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), dst)
	}
	return json.Unmarshal(e.Payload, dst)
}

type JoinRoomPayload struct {
	Room          string `json:"room"`
	ParticipantID string `json:"participant_id"`
}

type LeaveRoomPayload struct {
	Room string `json:"room"`
}

type RoomStatePayload struct {
	Room      string            `json:"room"`
	ProblemID int64             `json:"problem_id"`
	Language  string            `json:"language"`
	Code      map[string]string `json:"code"`
	Chat      []ChatPayload     `json:"chat"`
	Online    []string          `json:"online"`
}

type CodeUpdatePayload struct {
	Room          string `json:"room"`
	ParticipantID string `json:"participant_id,omitempty"`
	Code          string `json:"code"`
}

type LanguageUpdatePayload struct {
	Room          string `json:"room"`
	ParticipantID string `json:"participant_id,omitempty"`
	Language      string `json:"language"`
}

type ChatPayload struct {
	Room          string `json:"room"`
	ParticipantID string `json:"participant_id,omitempty"`
	Message       string `json:"message"`

	Order  int64 `json:"order,omitempty"`
	TSUnix int64 `json:"ts_unix,omitempty"`
}

type PresencePayload struct {
	Room          string `json:"room"`
	ParticipantID string `json:"participant_id"`
}

type TestCaseItem struct {
	Input         string  `json:"input"`
	Expected      string  `json:"expected"`
	Output        string  `json:"output,omitempty"`
	Passed        bool    `json:"passed"`
	ExecutionTime float64 `json:"execution_time"`
	Error         string  `json:"error,omitempty"`
}

type RunResultItem struct {
	OverallStatus   string         `json:"overall_status"`
	Passed          bool           `json:"passed"`
	TestCaseResults []TestCaseItem `json:"test_case_results"`
	ExecutionTime   float64        `json:"execution_time"`
	MemoryUsage     float64        `json:"memory_usage"`
	ErrorMessage    string         `json:"error_message,omitempty"`
}

// CodeExecutedPayload never carries Result unless Shared is true.
type CodeExecutedPayload struct {
	ParticipantID string         `json:"participant_id"`
	SampleOnly    bool           `json:"sample_only"`
	Shared        bool           `json:"shared"`
	Passed        bool           `json:"passed"`
	Result        *RunResultItem `json:"result,omitempty"`
}

type CodeSubmittedPayload struct {
	ParticipantID string `json:"participant_id"`
	Passed        bool   `json:"passed"`
}

type SubmissionItem struct {
	ID              int64          `json:"id"`
	Room            string         `json:"room"`
	ProblemID       int64          `json:"problem_id"`
	ParticipantID   string         `json:"participant_id"`
	Code            string         `json:"code"`
	Language        string         `json:"language"`
	Passed          bool           `json:"passed"`
	OverallStatus   string         `json:"overall_status"`
	ExecutionTime   float64        `json:"execution_time"`
	MemoryUsage     float64        `json:"memory_usage"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	TestCaseResults []TestCaseItem `json:"test_case_results"`
	CreatedAtUnix   int64          `json:"created_at_unix"`
}

type RoomSubmissionPayload struct {
	Submission SubmissionItem `json:"submission"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
