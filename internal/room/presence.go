package room

import "github.com/cwrk-planet/coderoom/internal/domain"

// Presence tracks who is online and through which connection.
// It belongs to the session loop and is not safe for concurrent use.
type Presence struct {
	conns map[domain.ParticipantID]string
	order []domain.ParticipantID
}

func NewPresence() *Presence {
	return &Presence{conns: make(map[domain.ParticipantID]string)}
}

// Connect binds pid to connID and reports whether pid was offline before.
// A reconnect replaces the previous connection without an offline step.
func (p *Presence) Connect(pid domain.ParticipantID, connID string) bool {
	_, was := p.conns[pid]
	p.conns[pid] = connID
	if !was {
		p.order = append(p.order, pid)
	}
	return !was
}

// Disconnect flips pid offline. A non-empty connID must match the current
// connection, so a superseded socket cannot take a newer one offline.
func (p *Presence) Disconnect(pid domain.ParticipantID, connID string) bool {
	cur, ok := p.conns[pid]
	if !ok {
		return false
	}
	if connID != "" && cur != connID {
		return false
	}
	delete(p.conns, pid)
	for i, id := range p.order {
		if id == pid {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

func (p *Presence) IsOnline(pid domain.ParticipantID) bool {
	_, ok := p.conns[pid]
	return ok
}

func (p *Presence) ConnID(pid domain.ParticipantID) (string, bool) {
	id, ok := p.conns[pid]
	return id, ok
}

// Online returns the online participants in the order they came online.
func (p *Presence) Online() []domain.ParticipantID {
	out := make([]domain.ParticipantID, len(p.order))
	copy(out, p.order)
	return out
}

func (p *Presence) Len() int { return len(p.order) }
