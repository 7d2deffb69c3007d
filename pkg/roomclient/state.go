package roomclient

import "fmt"

// State is the connection lifecycle seen by a client.
type State int

const (
	Disconnected State = iota
	Connecting
	ConnectedUnjoined
	Joined
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case ConnectedUnjoined:
		return "connected_unjoined"
	case Joined:
		return "joined"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CanTransition reports whether from -> to is allowed. A transport drop
// moves any state to Disconnected; switching rooms is Joined -> Joined.
func CanTransition(from, to State) bool {
	if to == Disconnected {
		return true
	}
	switch from {
	case Disconnected:
		return to == Connecting
	case Connecting:
		return to == ConnectedUnjoined
	case ConnectedUnjoined:
		return to == Joined
	case Joined:
		return to == Joined || to == ConnectedUnjoined
	}
	return false
}

type transitionError struct {
	from, to State
}

func (e *transitionError) Error() string {
	return fmt.Sprintf("roomclient: invalid transition %s -> %s", e.from, e.to)
}
