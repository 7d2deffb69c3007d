package domain

import "errors"

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomClosed          = errors.New("room session closed")
	ErrNotInRoom           = errors.New("participant not in the room")
	ErrEmptyMessage        = errors.New("empty message")
	ErrMessageTooLong      = errors.New("message too long")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrProblemNotFound     = errors.New("problem not found")
	ErrInvalidParticipant  = errors.New("invalid participant id")
	ErrRoomCodeTaken       = errors.New("room code already taken")
	ErrRateLimited         = errors.New("rate limit exceeded")

	// ErrExecutionFailure wraps every judge error: timeouts, 5xx, crashed runners.
	ErrExecutionFailure = errors.New("execution failed")
	// ErrTransportDisconnect is reported once a socket dropped.
	ErrTransportDisconnect = errors.New("transport disconnected")
	// ErrStaleBroadcast marks an event whose room or participant is gone.
	ErrStaleBroadcast = errors.New("stale broadcast")
)

