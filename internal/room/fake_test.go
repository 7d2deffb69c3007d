package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/coderoom/internal/domain"
	"github.com/cwrk-planet/coderoom/pkg/protocol"
)

var errQueueFull = errors.New("queue full")

type fakeConn struct {
	id string

	mu     sync.Mutex
	msgs   []protocol.Message
	full   bool
	closed bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full || c.closed {
		return errQueueFull
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) ofType(typ string) []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Message
	for _, m := range c.msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

type memRooms map[string]domain.Room

func (m memRooms) GetByCode(_ context.Context, code string) (*domain.Room, error) {
	r, ok := m[code]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return &r, nil
}

func testOptions() Options {
	return Options{
		DefaultLanguage: "javascript",
		Languages:       []string{"javascript", "python", "java", "cpp"},
	}
}

func newTestSession(t *testing.T, code string, problemID int64) *Session {
	t.Helper()
	s := NewSession(domain.Room{Code: code, ProblemID: problemID}, testOptions())
	t.Cleanup(s.Close)
	return s
}

// flush waits until everything already queued on the loop has run.
func flush(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := s.Snapshot(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}
