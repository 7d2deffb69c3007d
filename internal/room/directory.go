package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cwrk-planet/coderoom/internal/domain"
)

// RoomStore loads durable room metadata. It returns domain.ErrRoomNotFound
// for unknown codes.
type RoomStore interface {
	GetByCode(ctx context.Context, code string) (*domain.Room, error)
}

type DirectoryOptions struct {
	Session    Options
	IdleTTL    time.Duration
	SweepEvery time.Duration
}

// Directory maps room codes to live sessions. The lock only guards the map;
// room state is never touched here.
type Directory struct {
	store RoomStore
	opts  DirectoryOptions

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewDirectory(store RoomStore, opts DirectoryOptions) *Directory {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 10 * time.Minute
	}
	if opts.SweepEvery <= 0 {
		opts.SweepEvery = time.Minute
	}
	opts.Session = opts.Session.withDefaults()
	return &Directory{
		store:    store,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Options returns the session options every room is started with.
func (d *Directory) Options() Options { return d.opts.Session }

// Resolve returns the live session for code, starting one from the store
// when needed.
func (d *Directory) Resolve(ctx context.Context, code string) (*Session, error) {
	if s, ok := d.Lookup(code); ok {
		return s, nil
	}

	r, err := d.store.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, fmt.Errorf("load room %s: %w", code, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sessions[code]; ok {
		return s, nil
	}
	s := NewSession(*r, d.opts.Session)
	d.sessions[code] = s
	slog.Info("room: session started", "room", code, "problem_id", r.ProblemID)
	return s, nil
}

func (d *Directory) Lookup(code string) (*Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[code]
	return s, ok
}

func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

// Evict stops the live session for code when nobody is online in it.
func (d *Directory) Evict(code string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[code]
	if !ok || !s.retireIfIdle(d.opts.Session.Now(), 0) {
		return false
	}
	delete(d.sessions, code)
	slog.Info("room: session evicted", "room", code)
	return true
}

// Sweep closes sessions nobody has been online in for longer than IdleTTL.
// Idleness is confirmed on each session's loop before it stops.
func (d *Directory) Sweep(now time.Time) int {
	n := 0
	d.mu.Lock()
	defer d.mu.Unlock()
	for code, s := range d.sessions {
		if s.OnlineCount() != 0 || now.Sub(s.IdleSince()) < d.opts.IdleTTL {
			continue
		}
		if s.retireIfIdle(now, d.opts.IdleTTL) {
			delete(d.sessions, code)
			slog.Info("room: idle session closed", "room", code)
			n++
		}
	}
	return n
}

// Run sweeps until ctx is done.
func (d *Directory) Run(ctx context.Context) {
	ticker := time.NewTicker(d.opts.SweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep(d.opts.Session.Now())
		}
	}
}

func (d *Directory) CloseAll() {
	d.mu.Lock()
	all := make([]*Session, 0, len(d.sessions))
	for code, s := range d.sessions {
		all = append(all, s)
		delete(d.sessions, code)
	}
	d.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}
