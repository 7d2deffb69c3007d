package ws

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cwrk-planet/coderoom/internal/domain"
	"github.com/cwrk-planet/coderoom/internal/room"
	"github.com/cwrk-planet/coderoom/pkg/protocol"
)

var ErrBackpressure = errors.New("send queue full")

type wsConn struct {
	id   string
	conn *websocket.Conn

	send      chan protocol.Message
	closed    chan struct{}
	closeOnce sync.Once

	// owned by the read loop
	roomCode string
	pid      domain.ParticipantID
	sess     *room.Session
	bound    *binding
}

// binding is what a room session holds for one join on a socket. A newer
// join of the same participant elsewhere marks it superseded.
type binding struct {
	*wsConn
	stale atomic.Bool
}

func (b *binding) Superseded() { b.stale.Store(true) }

func newWsConn(c *websocket.Conn, queue int) *wsConn {
	return &wsConn{
		id:     uuid.NewString(),
		conn:   c,
		send:   make(chan protocol.Message, queue),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send enqueues msg for the write loop and never blocks.
func (c *wsConn) Send(msg protocol.Message) error {
	select {
	case <-c.closed:
		return domain.ErrTransportDisconnect
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.closed:
		return domain.ErrTransportDisconnect
	default:
		return ErrBackpressure
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) joined() bool { return c.sess != nil }

// newBinding must be passed to the session join that bind later records.
func (c *wsConn) newBinding() *binding { return &binding{wsConn: c} }

func (c *wsConn) bind(code string, pid domain.ParticipantID, sess *room.Session, b *binding) {
	c.roomCode, c.pid, c.sess, c.bound = code, pid, sess, b
}

func (c *wsConn) unbind() {
	c.roomCode, c.pid, c.sess, c.bound = "", "", nil, nil
}

func (c *wsConn) superseded() bool { return c.bound != nil && c.bound.stale.Load() }

func (c *wsConn) write(msg protocol.Message, wait time.Duration) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(wait))
	return c.conn.WriteJSON(msg)
}
