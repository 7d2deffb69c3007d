// Package roomclient is a Go client for the coding-room realtime gateway.
// It owns the connection state machine, the local undo history and the
// notification relay.
package roomclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cwrk-planet/coderoom/pkg/logger"
	"github.com/cwrk-planet/coderoom/pkg/protocol"
)

var (
	ErrNotConnected  = errors.New("roomclient: not connected")
	ErrNotJoined     = errors.New("roomclient: not joined")
	ErrAlreadyJoined = errors.New("roomclient: already joined")
	ErrClosed        = errors.New("roomclient: closed")
)

// ParticipantID identifies the user the client speaks for.
type ParticipantID string

func normalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ServerError is an error event sent by the gateway.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("roomclient: server error %s: %s", e.Code, e.Message)
}

type Options struct {
	URL           string // ws://host/ws
	ParticipantID ParticipantID
	Dialer        *websocket.Dialer
	Header        http.Header
	WriteWait     time.Duration
	EventBuffer   int

	// AutoRejoin reconnects and rejoins the last room after a transport drop.
	AutoRejoin    bool
	RejoinBackoff time.Duration
	MaxBackoff    time.Duration
	MaxAttempts   int // 0 retries until Close

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 256
	}
	if o.RejoinBackoff <= 0 {
		o.RejoinBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logger.L()
	}
	return o
}

type Client struct {
	opts   Options
	log    *slog.Logger
	notes  *NotificationRelay
	events chan protocol.Envelope

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	writeMu sync.Mutex

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	room     string
	lastRoom string
	language string
	history  *UndoHistory
	peers    map[ParticipantID]string
	online   []ParticipantID
	chat     []protocol.ChatPayload

	pendingJoin  chan error
	pendingLeave chan error
	pongs        []chan error
}

func New(opts Options) *Client {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:    opts,
		log:     opts.Logger.With("participant", opts.ParticipantID),
		notes:   NewNotificationRelay(opts.ParticipantID),
		events:  make(chan protocol.Envelope, opts.EventBuffer),
		ctx:     ctx,
		cancel:  cancel,
		history: NewUndoHistory(""),
		peers:   make(map[ParticipantID]string),
	}
}

// Events delivers every inbound event after local state is updated. It is
// never closed; watch Done. Events are dropped when the buffer is full.
func (c *Client) Events() <-chan protocol.Envelope { return c.events }

// Done is closed by Close.
func (c *Client) Done() <-chan struct{} { return c.ctx.Done() }

func (c *Client) Notifications() *NotificationRelay { return c.notes }

// Connect dials the gateway. Allowed only from Disconnected.
func (c *Client) Connect(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	c.mu.Lock()
	if err := c.setStateLocked(Connecting); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, c.opts.Header)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = Disconnected
		return fmt.Errorf("roomclient: dial: %w", err)
	}
	if c.ctx.Err() != nil {
		c.state = Disconnected
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.state = ConnectedUnjoined
	go c.readLoop(conn)
	c.log.Debug("roomclient connected", "url", c.opts.URL)
	return nil
}

// Join sends join_room and waits for the room snapshot. Joining another
// room while joined switches rooms.
func (c *Client) Join(ctx context.Context, code string) error {
	code = normalizeRoomCode(code)

	c.mu.Lock()
	if c.state != ConnectedUnjoined && c.state != Joined {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.state == Joined && c.room == code {
		c.mu.Unlock()
		return ErrAlreadyJoined
	}
	wait := make(chan error, 1)
	if c.pendingJoin != nil {
		c.pendingJoin <- errors.New("roomclient: superseded by another join")
	}
	c.pendingJoin = wait
	conn := c.conn
	c.mu.Unlock()

	err := c.write(conn, protocol.TypeJoinRoom, protocol.JoinRoomPayload{
		Room:          code,
		ParticipantID: string(c.opts.ParticipantID),
	})
	if err != nil {
		c.clearPendingJoin(wait)
		return err
	}

	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		c.clearPendingJoin(wait)
		return ctx.Err()
	}
}

// Leave sends leave_room and waits for the ack. No rejoin happens afterwards.
func (c *Client) Leave(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Joined {
		c.mu.Unlock()
		return ErrNotJoined
	}
	wait := make(chan error, 1)
	c.pendingLeave = wait
	conn, code := c.conn, c.room
	c.mu.Unlock()

	if err := c.write(conn, protocol.TypeLeaveRoom, protocol.LeaveRoomPayload{Room: code}); err != nil {
		return err
	}
	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Edit broadcasts a local edit and records it in the undo history once the
// write went through.
func (c *Client) Edit(code string) error {
	c.mu.Lock()
	if c.state != Joined {
		c.mu.Unlock()
		return ErrNotJoined
	}
	conn, room := c.conn, c.room
	c.mu.Unlock()

	if err := c.write(conn, protocol.TypeCodeUpdate, protocol.CodeUpdatePayload{Room: room, Code: code}); err != nil {
		return err
	}
	c.mu.Lock()
	if c.state == Joined && c.room == room {
		c.history.Edit(code)
	}
	c.mu.Unlock()
	return nil
}

// Undo reverts the last local edit and broadcasts the result as an ordinary
// code_update. With nothing to undo it returns false and sends nothing.
func (c *Client) Undo() (bool, error) {
	return c.step((*UndoHistory).Undo, (*UndoHistory).Redo)
}

func (c *Client) Redo() (bool, error) {
	return c.step((*UndoHistory).Redo, (*UndoHistory).Undo)
}

// step applies op and sends the result; a failed write is reverted with back.
func (c *Client) step(op, back func(*UndoHistory) (string, bool)) (bool, error) {
	c.mu.Lock()
	if c.state != Joined {
		c.mu.Unlock()
		return false, ErrNotJoined
	}
	code, ok := op(c.history)
	conn, room := c.conn, c.room
	c.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := c.write(conn, protocol.TypeCodeUpdate, protocol.CodeUpdatePayload{Room: room, Code: code}); err != nil {
		c.mu.Lock()
		if c.room == room && c.history.Current() == code {
			back(c.history)
		}
		c.mu.Unlock()
		return false, err
	}
	return true, nil
}

func (c *Client) SetLanguage(lang string) error {
	c.mu.Lock()
	if c.state != Joined {
		c.mu.Unlock()
		return ErrNotJoined
	}
	conn, room := c.conn, c.room
	c.mu.Unlock()

	return c.write(conn, protocol.TypeLanguageUpdate, protocol.LanguageUpdatePayload{Room: room, Language: lang})
}

// SendChat sends a message. The sender sees it only once the broadcast arrives.
func (c *Client) SendChat(text string) error {
	c.mu.Lock()
	if c.state != Joined {
		c.mu.Unlock()
		return ErrNotJoined
	}
	conn, room := c.conn, c.room
	c.mu.Unlock()

	return c.write(conn, protocol.TypeChatMessage, protocol.ChatPayload{Room: room, Message: text})
}

// Ping round-trips an application ping. Events sent before it are processed
// by the time it returns.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	wait := make(chan error, 1)
	c.pongs = append(c.pongs, wait)
	conn := c.conn
	c.mu.Unlock()

	if err := c.write(conn, protocol.TypePing, struct{}{}); err != nil {
		return err
	}
	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconnect runs Disconnected -> Connecting -> ConnectedUnjoined -> Joined,
// rejoining the last joined room if there is one.
func (c *Client) Reconnect(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	room := c.lastRoom
	c.mu.Unlock()
	if room == "" {
		return nil
	}
	return c.Join(ctx, room)
}

// Close shuts the connection down and stops any rejoin loop.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.state = Disconnected
		c.room, c.lastRoom = "", ""
		c.failPendingLocked(ErrClosed)
		c.mu.Unlock()

		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(c.opts.WriteWait))
			c.writeMu.Unlock()
			err = conn.Close()
		}
	})
	return err
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Code is the participant's own slot as edited locally.
func (c *Client) Code() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Current()
}

// PeerCode is another participant's read-only slot.
func (c *Client) PeerCode(pid ParticipantID) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	code, ok := c.peers[pid]
	return code, ok
}

func (c *Client) Language() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.language
}

// Others lists online participants except this one, in join order.
func (c *Client) Others() []ParticipantID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ParticipantID, 0, len(c.online))
	for _, id := range c.online {
		if id != c.opts.ParticipantID {
			out = append(out, id)
		}
	}
	return out
}

func (c *Client) Chat() []protocol.ChatPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.ChatPayload(nil), c.chat...)
}

func (c *Client) setStateLocked(to State) error {
	if !CanTransition(c.state, to) {
		return &transitionError{from: c.state, to: to}
	}
	c.state = to
	return nil
}

func (c *Client) clearPendingJoin(wait chan error) {
	c.mu.Lock()
	if c.pendingJoin == wait {
		c.pendingJoin = nil
	}
	c.mu.Unlock()
}

func (c *Client) failPendingLocked(err error) {
	if c.pendingJoin != nil {
		c.pendingJoin <- err
		c.pendingJoin = nil
	}
	if c.pendingLeave != nil {
		c.pendingLeave <- err
		c.pendingLeave = nil
	}
	for _, w := range c.pongs {
		w <- err
	}
	c.pongs = nil
}

func (c *Client) write(conn *websocket.Conn, typ string, payload any) error {
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	if err := conn.WriteJSON(protocol.Message{Type: typ, Payload: payload}); err != nil {
		return fmt.Errorf("roomclient: write %s: %w", typ, err)
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.dropped(conn, err)
			return
		}
		c.dispatch(env)
		c.emit(env)
	}
}

// dropped handles a transport failure on conn. Stale connections are ignored.
func (c *Client) dropped(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = Disconnected
	c.room = ""
	c.failPendingLocked(ErrNotConnected)
	rejoin := c.opts.AutoRejoin && c.lastRoom != "" && c.ctx.Err() == nil
	c.mu.Unlock()

	_ = conn.Close()
	c.log.Info("roomclient disconnected", "err", cause, "rejoin", rejoin)
	if rejoin {
		go c.rejoinLoop()
	}
}

func (c *Client) rejoinLoop() {
	backoff := c.opts.RejoinBackoff
	for attempt := 1; c.opts.MaxAttempts == 0 || attempt <= c.opts.MaxAttempts; attempt++ {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(backoff):
		}

		err := c.Reconnect(c.ctx)
		if err == nil {
			c.log.Info("roomclient rejoined", "room", c.Room(), "attempt", attempt)
			return
		}
		var te *transitionError
		if errors.As(err, &te) || errors.Is(err, ErrClosed) {
			return
		}
		c.log.Warn("roomclient rejoin failed", "attempt", attempt, "err", err)
		if c.State() == ConnectedUnjoined {
			// connected but the room is gone; nothing left to retry
			return
		}

		backoff *= 2
		if backoff > c.opts.MaxBackoff {
			backoff = c.opts.MaxBackoff
		}
	}
}

func (c *Client) emit(env protocol.Envelope) {
	select {
	case c.events <- env:
	default:
		c.log.Debug("roomclient event dropped", "type", env.Type)
	}
}

func (c *Client) dispatch(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeRoomState:
		var p protocol.RoomStatePayload
		if err := env.Decode(&p); err != nil {
			c.log.Warn("roomclient bad room_state", "err", err)
			return
		}
		c.mu.Lock()
		if c.state == ConnectedUnjoined || c.state == Joined {
			c.state = Joined
		}
		c.room, c.lastRoom = p.Room, p.Room
		c.language = p.Language
		c.peers = make(map[ParticipantID]string, len(p.Code))
		for id, code := range p.Code {
			if ParticipantID(id) != c.opts.ParticipantID {
				c.peers[ParticipantID(id)] = code
			}
		}
		c.history.Reset(p.Code[string(c.opts.ParticipantID)])
		c.online = c.online[:0]
		for _, id := range p.Online {
			c.online = append(c.online, ParticipantID(id))
		}
		c.chat = append([]protocol.ChatPayload(nil), p.Chat...)
		if c.pendingJoin != nil {
			c.pendingJoin <- nil
			c.pendingJoin = nil
		}
		c.mu.Unlock()

	case protocol.TypeCodeUpdate:
		var p protocol.CodeUpdatePayload
		if env.Decode(&p) != nil {
			return
		}
		pid := ParticipantID(p.ParticipantID)
		c.mu.Lock()
		if pid != c.opts.ParticipantID {
			c.peers[pid] = p.Code
		}
		c.mu.Unlock()

	case protocol.TypeLanguageUpdate:
		var p protocol.LanguageUpdatePayload
		if env.Decode(&p) != nil {
			return
		}
		c.mu.Lock()
		c.language = p.Language
		c.mu.Unlock()

	case protocol.TypeChatMessage:
		var p protocol.ChatPayload
		if env.Decode(&p) != nil {
			return
		}
		c.mu.Lock()
		c.chat = append(c.chat, p)
		c.mu.Unlock()

	case protocol.TypeUserJoined, protocol.TypeUserLeft:
		var p protocol.PresencePayload
		if env.Decode(&p) != nil {
			return
		}
		pid := ParticipantID(p.ParticipantID)
		c.mu.Lock()
		c.online = removeID(c.online, pid)
		if env.Type == protocol.TypeUserJoined {
			c.online = append(c.online, pid)
		}
		c.mu.Unlock()
		c.notes.Observe(env)

	case protocol.TypeCodeExecuted, protocol.TypeCodeSubmitted:
		c.notes.Observe(env)

	case protocol.TypeLeft:
		c.mu.Lock()
		if c.state == Joined {
			c.state = ConnectedUnjoined
		}
		c.room, c.lastRoom = "", ""
		if c.pendingLeave != nil {
			c.pendingLeave <- nil
			c.pendingLeave = nil
		}
		c.mu.Unlock()

	case protocol.TypePong:
		c.mu.Lock()
		if len(c.pongs) > 0 {
			c.pongs[0] <- nil
			c.pongs = c.pongs[1:]
		}
		c.mu.Unlock()

	case protocol.TypeError:
		var p protocol.ErrorPayload
		if env.Decode(&p) != nil {
			return
		}
		serr := &ServerError{Code: p.Code, Message: p.Message}
		c.mu.Lock()
		switch p.Code {
		case protocol.ErrCodeRoomNotFound, protocol.ErrCodeRoomClosed, protocol.ErrCodeBadPayload, protocol.ErrCodeInternal:
			if c.pendingJoin != nil {
				c.pendingJoin <- serr
				c.pendingJoin = nil
			}
		case protocol.ErrCodeNotJoined, protocol.ErrCodeNotInRoom:
			if c.pendingLeave != nil {
				c.pendingLeave <- serr
				c.pendingLeave = nil
			}
		case protocol.ErrCodeSuperseded:
			// another connection speaks for this participant now; do not rejoin over it
			if c.pendingLeave != nil {
				c.pendingLeave <- serr
				c.pendingLeave = nil
			}
			if c.state == Joined {
				c.state = ConnectedUnjoined
			}
			c.room, c.lastRoom = "", ""
		}
		if p.Code == protocol.ErrCodeRoomClosed && c.state == Joined {
			c.state = ConnectedUnjoined
			c.room = ""
		}
		c.mu.Unlock()
		c.log.Debug("roomclient server error", "code", p.Code, "message", p.Message)
	}
}

func removeID(ids []ParticipantID, id ParticipantID) []ParticipantID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
