package roomclient

import (
	"sync"
	"time"

	"github.com/cwrk-planet/coderoom/pkg/protocol"
)

type Notification struct {
	Kind          string // one of the protocol event types
	ParticipantID ParticipantID
	Passed        bool
	SampleOnly    bool
	Shared        bool
	At            time.Time
}

// NotificationRelay keeps every notification from other participants and
// surfaces only the latest one as the current toast.
type NotificationRelay struct {
	self ParticipantID
	now  func() time.Time

	mu      sync.Mutex
	log     []Notification
	current *Notification
}

func NewNotificationRelay(self ParticipantID) *NotificationRelay {
	return &NotificationRelay{self: self, now: time.Now}
}

// Observe turns a room event into a notification. It returns false for
// event types that do not notify, undecodable payloads and the participant's
// own events.
func (r *NotificationRelay) Observe(env protocol.Envelope) (Notification, bool) {
	n := Notification{Kind: env.Type}
	switch env.Type {
	case protocol.TypeUserJoined, protocol.TypeUserLeft:
		var p protocol.PresencePayload
		if env.Decode(&p) != nil {
			return Notification{}, false
		}
		n.ParticipantID = ParticipantID(p.ParticipantID)
	case protocol.TypeCodeExecuted:
		var p protocol.CodeExecutedPayload
		if env.Decode(&p) != nil {
			return Notification{}, false
		}
		n.ParticipantID = ParticipantID(p.ParticipantID)
		n.Passed, n.SampleOnly, n.Shared = p.Passed, p.SampleOnly, p.Shared
	case protocol.TypeCodeSubmitted:
		var p protocol.CodeSubmittedPayload
		if env.Decode(&p) != nil {
			return Notification{}, false
		}
		n.ParticipantID = ParticipantID(p.ParticipantID)
		n.Passed = p.Passed
	default:
		return Notification{}, false
	}
	return n, r.Push(n)
}

// Push appends n and replaces the current toast. Self-originated entries are dropped.
func (r *NotificationRelay) Push(n Notification) bool {
	if n.ParticipantID == r.self {
		return false
	}
	if n.At.IsZero() {
		n.At = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, n)
	cur := n
	r.current = &cur
	return true
}

func (r *NotificationRelay) Current() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return Notification{}, false
	}
	return *r.current, true
}

// Dismiss clears the toast; the log keeps the entry.
func (r *NotificationRelay) Dismiss() {
	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()
}

func (r *NotificationRelay) Log() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.log...)
}
