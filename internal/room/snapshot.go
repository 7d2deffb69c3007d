package room

import (
	"github.com/cwrk-planet/coderoom/internal/domain"
	"github.com/cwrk-planet/coderoom/internal/wire"
	"github.com/cwrk-planet/coderoom/pkg/protocol"
)

// Snapshot is a copy of the live room state taken inside the session loop.
type Snapshot struct {
	Room      string
	ProblemID int64
	Language  string
	Code      map[domain.ParticipantID]string
	Chat      []domain.ChatMessage
	Online    []domain.ParticipantID
}

// Others lists the online participants except self.
func (s Snapshot) Others(self domain.ParticipantID) []domain.ParticipantID {
	out := make([]domain.ParticipantID, 0, len(s.Online))
	for _, id := range s.Online {
		if id != self {
			out = append(out, id)
		}
	}
	return out
}

func (s Snapshot) Payload() protocol.RoomStatePayload {
	code := make(map[string]string, len(s.Code))
	for id, c := range s.Code {
		code[string(id)] = c
	}
	chat := make([]protocol.ChatPayload, 0, len(s.Chat))
	for _, m := range s.Chat {
		chat = append(chat, wire.ChatFromDomain(m))
	}
	online := make([]string, 0, len(s.Online))
	for _, id := range s.Online {
		online = append(online, string(id))
	}
	return protocol.RoomStatePayload{
		Room:      s.Room,
		ProblemID: s.ProblemID,
		Language:  s.Language,
		Code:      code,
		Chat:      chat,
		Online:    online,
	}
}
