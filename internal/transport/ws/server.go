package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cwrk-planet/coderoom/internal/domain"
	"github.com/cwrk-planet/coderoom/internal/room"
	"github.com/cwrk-planet/coderoom/pkg/protocol"
)

type MemberSvc interface {
	JoinRoom(ctx context.Context, code string, pid domain.ParticipantID) error
	TouchHeartbeat(ctx context.Context, code string, pid domain.ParticipantID) error
}

type Options struct {
	PingEvery   time.Duration
	WriteWait   time.Duration
	SendQueue   int
	ReadLimit   int64
	CheckOrigin func(r *http.Request) bool
}

// Server is the realtime gateway: it owns sockets and routes events to room
// sessions; it never touches room state itself.
type Server struct {
	upgrader  websocket.Upgrader
	hub       *Hub
	dir       *room.Directory
	memberSvc MemberSvc

	pingEvery time.Duration
	writeWait time.Duration
	sendQueue int
	readLimit int64
}

func NewServer(hub *Hub, dir *room.Directory, member MemberSvc, opts Options) *Server {
	if opts.PingEvery <= 0 {
		opts.PingEvery = 15 * time.Second
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 5 * time.Second
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = 256
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 1 << 20
	}
	if opts.CheckOrigin == nil {
		opts.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return &Server{
		hub:       hub,
		dir:       dir,
		memberSvc: member,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		pingEvery: opts.PingEvery,
		writeWait: opts.WriteWait,
		sendQueue: opts.SendQueue,
		readLimit: opts.ReadLimit,
	}
}

// WS endpoint: GET /ws. The room and identity come with join_room.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "err", err)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	c := newWsConn(conn, s.sendQueue)
	s.hub.Add(c)
	slog.Debug("ws connected", "conn", c.ID(), "remote", r.RemoteAddr)

	go s.writeLoop(c)
	s.readLoop(ctx, c)

	if c.joined() {
		if err := c.sess.Disconnect(ctx, c.pid, c.ID()); err != nil && !errors.Is(err, domain.ErrRoomClosed) {
			slog.Debug("ws disconnect failed", "room", c.roomCode, "participant", c.pid, "err", err)
		}
	}
	s.hub.Remove(c)
	if err := c.Close(); err != nil {
		slog.Debug("ws close failed", "conn", c.ID(), "err", err)
	}
	slog.Debug("ws disconnected", "conn", c.ID(), "room", c.roomCode, "participant", c.pid)
}

// Shutdown closes every socket. Rooms see ordinary disconnects.
func (s *Server) Shutdown() {
	slog.Info("ws shutdown", "connections", s.hub.Count())
	s.hub.CloseAll()
}

func (s *Server) readLoop(ctx context.Context, c *wsConn) {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(s.readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
		if c.joined() {
			_ = s.memberSvc.TouchHeartbeat(ctx, c.roomCode, c.pid)
		}
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.sendError(c, protocol.ErrCodeBadPayload, "invalid json")
			continue
		}
		s.handle(ctx, c, env)
	}
}

func (s *Server) writeLoop(c *wsConn) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg, s.writeWait); err != nil {
				slog.Debug("ws write failed", "conn", c.ID(), "err", err)
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeWait)); err != nil {
				_ = c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (s *Server) handle(ctx context.Context, c *wsConn, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeJoinRoom:
		var p protocol.JoinRoomPayload
		if env.Decode(&p) != nil {
			s.sendError(c, protocol.ErrCodeBadPayload, "invalid join_room payload")
			return
		}
		s.join(ctx, c, p)

	case protocol.TypeLeaveRoom:
		var p protocol.LeaveRoomPayload
		if env.Decode(&p) != nil {
			s.sendError(c, protocol.ErrCodeBadPayload, "invalid leave_room payload")
			return
		}
		sess, ok := s.routed(c, p.Room)
		if !ok {
			return
		}
		code := c.roomCode
		if err := sess.Leave(ctx, c.pid, c.ID()); err != nil && !errors.Is(err, domain.ErrRoomClosed) {
			s.sendErr(c, err)
			return
		}
		c.unbind()
		_ = c.Send(protocol.Message{Type: protocol.TypeLeft, Payload: protocol.LeaveRoomPayload{Room: code}})

	case protocol.TypeCodeUpdate:
		var p protocol.CodeUpdatePayload
		if env.Decode(&p) != nil {
			s.sendError(c, protocol.ErrCodeBadPayload, "invalid code_update payload")
			return
		}
		if sess, ok := s.routed(c, p.Room); ok {
			s.apply(c, sess.UpdateCode(ctx, c.pid, p.Code))
		}

	case protocol.TypeLanguageUpdate:
		var p protocol.LanguageUpdatePayload
		if env.Decode(&p) != nil {
			s.sendError(c, protocol.ErrCodeBadPayload, "invalid language_update payload")
			return
		}
		if sess, ok := s.routed(c, p.Room); ok {
			s.apply(c, sess.UpdateLanguage(ctx, c.pid, strings.TrimSpace(p.Language)))
		}

	case protocol.TypeChatMessage:
		var p protocol.ChatPayload
		if env.Decode(&p) != nil {
			s.sendError(c, protocol.ErrCodeBadPayload, "invalid chat_message payload")
			return
		}
		if sess, ok := s.routed(c, p.Room); ok {
			_, err := sess.SendChat(ctx, c.pid, p.Message)
			s.apply(c, err)
		}

	case protocol.TypePing:
		_ = c.Send(protocol.Message{Type: protocol.TypePong, Payload: struct{}{}})

	default:
		s.sendError(c, protocol.ErrCodeUnknownType, "unknown type "+env.Type)
	}
}

// join binds the connection to a room, leaving the previous one first.
func (s *Server) join(ctx context.Context, c *wsConn, p protocol.JoinRoomPayload) {
	code := domain.NormalizeRoomCode(p.Room)
	pid := domain.ParticipantID(strings.TrimSpace(p.ParticipantID))
	if code == "" || pid == "" {
		s.sendError(c, protocol.ErrCodeBadPayload, "room and participant_id are required")
		return
	}

	if c.joined() && (c.roomCode != code || c.pid != pid) {
		if err := c.sess.Disconnect(ctx, c.pid, c.ID()); err != nil && !errors.Is(err, domain.ErrRoomClosed) {
			slog.Debug("ws leave previous room failed", "room", c.roomCode, "participant", c.pid, "err", err)
		}
		c.unbind()
	}

	b := c.newBinding()
	sess, err := s.dir.Resolve(ctx, code)
	if err == nil {
		_, err = sess.Join(ctx, pid, b)
		if errors.Is(err, domain.ErrRoomClosed) {
			// swept between resolve and join
			if sess, err = s.dir.Resolve(ctx, code); err == nil {
				_, err = sess.Join(ctx, pid, b)
			}
		}
	}
	if err != nil {
		s.sendErr(c, err)
		return
	}
	c.bind(code, pid, sess, b)

	if err := s.memberSvc.JoinRoom(ctx, code, pid); err != nil {
		slog.Warn("ws record membership failed", "room", code, "participant", pid, "err", err)
	}
	slog.Info("ws joined", "room", code, "participant", pid, "conn", c.ID())
}

// routed returns the session for an event addressed to room, or reports
// not_joined when the connection is not bound to it. A superseded binding is
// dropped here without touching the room.
func (s *Server) routed(c *wsConn, roomCode string) (*room.Session, bool) {
	if c.superseded() {
		slog.Debug("ws event on superseded connection", "conn", c.ID(), "room", c.roomCode, "participant", c.pid)
		c.unbind()
		s.sendError(c, protocol.ErrCodeSuperseded, "joined from another connection")
		return nil, false
	}
	code := domain.NormalizeRoomCode(roomCode)
	if !c.joined() || (code != "" && code != c.roomCode) {
		s.sendError(c, protocol.ErrCodeNotJoined, "join the room first")
		return nil, false
	}
	return c.sess, true
}

func (s *Server) apply(c *wsConn, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, domain.ErrRoomClosed) {
		c.unbind()
	}
	s.sendErr(c, err)
}

func (s *Server) sendErr(c *wsConn, err error) {
	code := errorCode(err)
	if code == protocol.ErrCodeInternal {
		slog.Error("ws event failed", "conn", c.ID(), "room", c.roomCode, "participant", c.pid, "err", err)
		s.sendError(c, code, "internal error")
		return
	}
	s.sendError(c, code, err.Error())
}

func (s *Server) sendError(c *wsConn, code, msg string) {
	_ = c.Send(protocol.Message{
		Type:    protocol.TypeError,
		Payload: protocol.ErrorPayload{Code: code, Message: msg},
	})
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return protocol.ErrCodeRoomNotFound
	case errors.Is(err, domain.ErrNotInRoom):
		return protocol.ErrCodeNotInRoom
	case errors.Is(err, domain.ErrEmptyMessage):
		return protocol.ErrCodeEmptyMessage
	case errors.Is(err, domain.ErrMessageTooLong):
		return protocol.ErrCodeMessageTooLong
	case errors.Is(err, domain.ErrUnsupportedLanguage):
		return protocol.ErrCodeUnsupportedLanguage
	case errors.Is(err, domain.ErrRoomClosed):
		return protocol.ErrCodeRoomClosed
	case errors.Is(err, domain.ErrInvalidParticipant):
		return protocol.ErrCodeBadPayload
	default:
		return protocol.ErrCodeInternal
	}
}
