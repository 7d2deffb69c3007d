package ws

import (
	"sync"
)

// Hub is the registry of open connections. Rooms do their own fan-out; the
// hub exists so shutdown can reach every socket.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*wsConn // conn id -> connection
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]*wsConn)}
}

func (h *Hub) Add(c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ID()] = c
}

func (h *Hub) Remove(c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.conns[c.ID()]; ok && cur == c {
		delete(h.conns, c.ID())
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll closes every registered connection; their read loops clean up.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	all := make([]*wsConn, 0, len(h.conns))
	for _, c := range h.conns {
		all = append(all, c)
	}
	h.mu.RUnlock()

	for _, c := range all {
		_ = c.Close()
	}
}
