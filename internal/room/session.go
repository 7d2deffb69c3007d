package room

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cwrk-planet/coderoom/internal/domain"
	"github.com/cwrk-planet/coderoom/internal/wire"
	"github.com/cwrk-planet/coderoom/pkg/protocol"
)

// Conn is the session's view of a client connection.
// Send must not block: it enqueues or fails.
type Conn interface {
	ID() string
	Send(msg protocol.Message) error
	Close() error
}

// Superseder is implemented by connections that must stop acting for a
// participant once a newer connection took over.
type Superseder interface {
	Superseded()
}

type Options struct {
	DefaultLanguage string
	Languages       []string // empty allows any language
	InboxSize       int
	Now             func() time.Time
}

func (o Options) withDefaults() Options {
	if o.InboxSize <= 0 {
		o.InboxSize = 64
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.DefaultLanguage == "" && len(o.Languages) > 0 {
		o.DefaultLanguage = o.Languages[0]
	}
	return o
}

// SupportsLanguage reports whether lang is one of the configured languages.
func (o Options) SupportsLanguage(lang string) bool {
	if lang == "" {
		return false
	}
	if len(o.Languages) == 0 {
		return true
	}
	for _, l := range o.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

type member struct {
	domain.Participant
	conn Conn
}

// Session is the single writer of one room's live state. Every mutation runs
// on its loop goroutine in arrival order.
type Session struct {
	room domain.Room
	opts Options

	inbox    chan func()
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	online     atomic.Int32
	lastActive atomic.Int64

	// loop-owned
	language string
	members  map[domain.ParticipantID]*member
	code     map[domain.ParticipantID]string
	chat     []domain.ChatMessage
	presence *Presence
}

func NewSession(r domain.Room, opts Options) *Session {
	opts = opts.withDefaults()
	s := &Session{
		room:     r,
		opts:     opts,
		inbox:    make(chan func(), opts.InboxSize),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		language: r.Language,
		members:  make(map[domain.ParticipantID]*member),
		code:     make(map[domain.ParticipantID]string),
		presence: NewPresence(),
	}
	if s.language == "" {
		s.language = opts.DefaultLanguage
	}
	s.lastActive.Store(opts.Now().UnixNano())
	go s.run()
	return s
}

func (s *Session) run() {
	defer close(s.stopped)
	for {
		// quit wins over queued ops once it is closed
		select {
		case <-s.quit:
			return
		default:
		}
		select {
		case op := <-s.inbox:
			op()
		case <-s.quit:
			return
		}
	}
}

// do runs fn on the loop and waits for it. Once enqueued the op is always
// applied, even if ctx is cancelled meanwhile.
func (s *Session) do(ctx context.Context, fn func() error) error {
	select {
	case <-s.quit:
		return domain.ErrRoomClosed
	default:
	}

	var err error
	done := make(chan struct{})
	op := func() {
		err = fn()
		close(done)
	}

	select {
	case s.inbox <- op:
	case <-s.quit:
		return domain.ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return err
	case <-s.stopped:
		select {
		case <-done:
			return err
		default:
			return domain.ErrRoomClosed
		}
	}
}

// post enqueues fn without waiting. Used by completions that arrive from
// outside the loop after the originating request is gone.
func (s *Session) post(fn func()) error {
	select {
	case <-s.quit:
		return domain.ErrStaleBroadcast
	default:
	}
	select {
	case s.inbox <- fn:
		return nil
	case <-s.quit:
		return domain.ErrStaleBroadcast
	}
}

func (s *Session) Room() domain.Room { return s.room }
func (s *Session) Code() string      { return s.room.Code }

func (s *Session) SupportsLanguage(lang string) bool { return s.opts.SupportsLanguage(lang) }

// OnlineCount is safe to call from any goroutine.
func (s *Session) OnlineCount() int { return int(s.online.Load()) }

// IdleSince is the last time anything happened in the room.
func (s *Session) IdleSince() time.Time { return time.Unix(0, s.lastActive.Load()) }

func (s *Session) Close() {
	s.stopOnce.Do(func() { close(s.quit) })
	<-s.stopped
}

// retireIfIdle stops the session when nobody is online and nothing happened
// for ttl. The check and the stop run on the loop, so a join queued behind
// it fails with ErrRoomClosed instead of landing on a dead room.
func (s *Session) retireIfIdle(now time.Time, ttl time.Duration) bool {
	retired := false
	err := s.do(context.Background(), func() error {
		if s.presence.Len() == 0 && now.Sub(s.IdleSince()) >= ttl {
			s.stopOnce.Do(func() { close(s.quit) })
			retired = true
		}
		return nil
	})
	if err != nil {
		return false
	}
	if retired {
		<-s.stopped
	}
	return retired
}

func (s *Session) Done() <-chan struct{} { return s.stopped }

// Join registers pid online on conn, sends the snapshot to conn and tells the
// others. A rejoin from a new connection takes over: the old connection gets a
// superseded error and, if it is a Superseder, is told to stop acting for pid.
func (s *Session) Join(ctx context.Context, pid domain.ParticipantID, conn Conn) (Snapshot, error) {
	if strings.TrimSpace(string(pid)) == "" {
		return Snapshot{}, domain.ErrInvalidParticipant
	}
	var snap Snapshot
	err := s.do(ctx, func() error {
		now := s.opts.Now()
		m, ok := s.members[pid]
		if !ok {
			m = &member{Participant: domain.Participant{RoomCode: s.room.Code, ID: pid, JoinedAt: now}}
			s.members[pid] = m
		}
		if prev, online := s.presence.ConnID(pid); online && prev != conn.ID() && m.conn != nil {
			slog.Debug("room: connection superseded", "room", s.room.Code, "participant", pid, "old_conn", prev, "conn", conn.ID())
			s.supersede(m)
		}
		m.conn = conn
		m.ConnID = conn.ID()
		m.Online = true
		m.LastSeen = now

		cameOnline := s.presence.Connect(pid, conn.ID())
		s.touch(now)

		snap = s.snapshot()
		s.send(m, protocol.Message{Type: protocol.TypeRoomState, Payload: snap.Payload()})
		if cameOnline {
			s.broadcast(pid, protocol.Message{
				Type:    protocol.TypeUserJoined,
				Payload: protocol.PresencePayload{Room: s.room.Code, ParticipantID: string(pid)},
			})
		}
		return nil
	})
	return snap, err
}

// Leave marks pid offline. Leaving twice, or leaving while offline, is a
// no-op. A non-empty connID must be pid's current connection.
func (s *Session) Leave(ctx context.Context, pid domain.ParticipantID, connID string) error {
	return s.do(ctx, func() error {
		s.goOffline(pid, connID)
		return nil
	})
}

// Disconnect is Leave for a dropped transport. It only applies while connID
// is still pid's current connection.
func (s *Session) Disconnect(ctx context.Context, pid domain.ParticipantID, connID string) error {
	return s.do(ctx, func() error {
		s.goOffline(pid, connID)
		return nil
	})
}

// Remove drops pid's record and code slot entirely.
func (s *Session) Remove(ctx context.Context, pid domain.ParticipantID) error {
	return s.do(ctx, func() error {
		s.goOffline(pid, "")
		delete(s.members, pid)
		delete(s.code, pid)
		return nil
	})
}

func (s *Session) goOffline(pid domain.ParticipantID, connID string) {
	m, ok := s.members[pid]
	if !ok {
		return
	}
	if !s.presence.Disconnect(pid, connID) {
		return
	}
	now := s.opts.Now()
	m.conn = nil
	m.ConnID = ""
	m.Online = false
	m.LastSeen = now
	s.touch(now)

	s.broadcast(pid, protocol.Message{
		Type:    protocol.TypeUserLeft,
		Payload: protocol.PresencePayload{Room: s.room.Code, ParticipantID: string(pid)},
	})
}

// UpdateCode overwrites pid's slot and sends it to everyone else.
func (s *Session) UpdateCode(ctx context.Context, pid domain.ParticipantID, code string) error {
	return s.do(ctx, func() error {
		if _, ok := s.members[pid]; !ok {
			return domain.ErrNotInRoom
		}
		s.code[pid] = code
		s.touch(s.opts.Now())
		s.broadcast(pid, protocol.Message{
			Type:    protocol.TypeCodeUpdate,
			Payload: protocol.CodeUpdatePayload{Room: s.room.Code, ParticipantID: string(pid), Code: code},
		})
		return nil
	})
}

// UpdateLanguage sets the room-wide language and sends it to everyone else.
func (s *Session) UpdateLanguage(ctx context.Context, pid domain.ParticipantID, lang string) error {
	if !s.opts.SupportsLanguage(lang) {
		return domain.ErrUnsupportedLanguage
	}
	return s.do(ctx, func() error {
		if _, ok := s.members[pid]; !ok {
			return domain.ErrNotInRoom
		}
		s.language = lang
		s.touch(s.opts.Now())
		s.broadcast(pid, protocol.Message{
			Type:    protocol.TypeLanguageUpdate,
			Payload: protocol.LanguageUpdatePayload{Room: s.room.Code, ParticipantID: string(pid), Language: lang},
		})
		return nil
	})
}

// SendChat appends a message and delivers it to every online participant,
// the sender included, exactly once.
func (s *Session) SendChat(ctx context.Context, pid domain.ParticipantID, text string) (domain.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChatMessage{}, domain.ErrEmptyMessage
	}
	if len(text) > domain.MaxChatMessageLen {
		return domain.ChatMessage{}, domain.ErrMessageTooLong
	}

	var out domain.ChatMessage
	err := s.do(ctx, func() error {
		if _, ok := s.members[pid]; !ok {
			return domain.ErrNotInRoom
		}
		now := s.opts.Now()
		out = domain.ChatMessage{
			RoomCode:  s.room.Code,
			SenderID:  pid,
			Text:      text,
			Order:     int64(len(s.chat)) + 1,
			CreatedAt: now,
		}
		s.chat = append(s.chat, out)
		s.touch(now)
		s.broadcast("", protocol.Message{Type: protocol.TypeChatMessage, Payload: wire.ChatFromDomain(out)})
		return nil
	})
	return out, err
}

// CodeOf returns pid's code slot for read-only display.
func (s *Session) CodeOf(ctx context.Context, pid domain.ParticipantID) (string, bool, error) {
	var (
		code string
		ok   bool
	)
	err := s.do(ctx, func() error {
		code, ok = s.code[pid]
		if !ok {
			_, ok = s.members[pid]
		}
		return nil
	})
	return code, ok, err
}

func (s *Session) Language(ctx context.Context) (string, error) {
	var lang string
	err := s.do(ctx, func() error {
		lang = s.language
		return nil
	})
	return lang, err
}

func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() error {
		snap = s.snapshot()
		return nil
	})
	return snap, err
}

func (s *Session) IsMember(ctx context.Context, pid domain.ParticipantID) (bool, error) {
	var ok bool
	err := s.do(ctx, func() error {
		_, ok = s.members[pid]
		return nil
	})
	return ok, err
}

// Participants returns every known participant, online or not.
func (s *Session) Participants(ctx context.Context) ([]domain.Participant, error) {
	var out []domain.Participant
	err := s.do(ctx, func() error {
		out = make([]domain.Participant, 0, len(s.members))
		for _, m := range s.members {
			p := m.Participant
			p.Online = s.presence.IsOnline(m.ID)
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

// PublishExecution announces a finished run to everyone but the runner.
func (s *Session) PublishExecution(o domain.ExecutionOutcome) error {
	payload := protocol.CodeExecutedPayload{
		ParticipantID: string(o.ParticipantID),
		SampleOnly:    o.SampleOnly,
		Shared:        o.Shared,
		Passed:        o.Passed,
	}
	if o.Shared {
		payload.Result = wire.RunResultFromDomain(o.Result)
	}
	return s.post(func() {
		if !s.isMember(o.ParticipantID) {
			return
		}
		s.broadcast(o.ParticipantID, protocol.Message{Type: protocol.TypeCodeExecuted, Payload: payload})
	})
}

// PublishSubmitted announces a submit verdict to everyone but the submitter.
func (s *Session) PublishSubmitted(pid domain.ParticipantID, passed bool) error {
	return s.post(func() {
		if !s.isMember(pid) {
			return
		}
		s.broadcast(pid, protocol.Message{
			Type:    protocol.TypeCodeSubmitted,
			Payload: protocol.CodeSubmittedPayload{ParticipantID: string(pid), Passed: passed},
		})
	})
}

// PublishSubmission pushes the stored record to everyone, the submitter included.
func (s *Session) PublishSubmission(sub domain.Submission) error {
	payload := protocol.RoomSubmissionPayload{Submission: wire.SubmissionFromDomain(sub)}
	return s.post(func() {
		if !s.isMember(sub.ParticipantID) {
			return
		}
		s.broadcast("", protocol.Message{Type: protocol.TypeRoomSubmission, Payload: payload})
	})
}

// --- loop helpers ---

func (s *Session) isMember(pid domain.ParticipantID) bool {
	_, ok := s.members[pid]
	if !ok {
		slog.Debug("room: dropping event for departed participant", "room", s.room.Code, "participant", pid)
	}
	return ok
}

// supersede tells m's current connection it no longer speaks for m.
func (s *Session) supersede(m *member) {
	old := m.conn
	s.send(m, protocol.Message{
		Type:    protocol.TypeError,
		Payload: protocol.ErrorPayload{Code: protocol.ErrCodeSuperseded, Message: "joined from another connection"},
	})
	if sp, ok := old.(Superseder); ok {
		sp.Superseded()
	}
}

func (s *Session) snapshot() Snapshot {
	code := make(map[domain.ParticipantID]string, len(s.code))
	for id, c := range s.code {
		code[id] = c
	}
	chat := make([]domain.ChatMessage, len(s.chat))
	copy(chat, s.chat)
	return Snapshot{
		Room:      s.room.Code,
		ProblemID: s.room.ProblemID,
		Language:  s.language,
		Code:      code,
		Chat:      chat,
		Online:    s.presence.Online(),
	}
}

func (s *Session) touch(now time.Time) {
	s.online.Store(int32(s.presence.Len()))
	s.lastActive.Store(now.UnixNano())
}

// broadcast sends msg to every online participant except except ("" sends to all).
func (s *Session) broadcast(except domain.ParticipantID, msg protocol.Message) {
	for _, id := range s.presence.Online() {
		if id == except {
			continue
		}
		if m, ok := s.members[id]; ok {
			s.send(m, msg)
		}
	}
}

// send never blocks the loop. A connection that cannot take the message is
// closed; its read loop reports the disconnect.
func (s *Session) send(m *member, msg protocol.Message) {
	if m.conn == nil {
		return
	}
	if err := m.conn.Send(msg); err != nil {
		slog.Warn("room: closing slow connection", "room", s.room.Code, "participant", m.ID, "conn", m.ConnID, "type", msg.Type, "err", err)
		_ = m.conn.Close()
	}
}
