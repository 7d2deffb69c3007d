package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/cwrk-planet/coderoom/internal/domain"
	"github.com/cwrk-planet/coderoom/internal/room"
	"github.com/cwrk-planet/coderoom/pkg/protocol"
)

type memRoomRepo struct {
	rooms map[string]domain.Room
}

func newMemRoomRepo() *memRoomRepo { return &memRoomRepo{rooms: map[string]domain.Room{}} }

func (m *memRoomRepo) Create(_ context.Context, r *domain.Room) error {
	if _, ok := m.rooms[r.Code]; ok {
		return domain.ErrRoomCodeTaken
	}
	m.rooms[r.Code] = *r
	return nil
}

func (m *memRoomRepo) GetByCode(_ context.Context, code string) (*domain.Room, error) {
	r, ok := m.rooms[code]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return &r, nil
}

func (m *memRoomRepo) Put(context.Context, *domain.Room) {}

type memProblems map[int64]domain.Problem

func (m memProblems) Get(_ context.Context, id int64) (*domain.Problem, error) {
	p, ok := m[id]
	if !ok {
		return nil, domain.ErrProblemNotFound
	}
	return &p, nil
}

type memParticipants struct {
	rows map[string][]domain.Participant
}

func (m *memParticipants) Join(_ context.Context, code string, pid domain.ParticipantID) error {
	for _, p := range m.rows[code] {
		if p.ID == pid {
			return nil
		}
	}
	m.rows[code] = append(m.rows[code], domain.Participant{RoomCode: code, ID: pid})
	return nil
}

func (m *memParticipants) Leave(_ context.Context, code string, pid domain.ParticipantID) error {
	for i, p := range m.rows[code] {
		if p.ID == pid {
			m.rows[code] = append(m.rows[code][:i], m.rows[code][i+1:]...)
			return nil
		}
	}
	return domain.ErrNotInRoom
}

func (m *memParticipants) ListByRoom(_ context.Context, code string) ([]domain.Participant, error) {
	return append([]domain.Participant(nil), m.rows[code]...), nil
}

func (m *memParticipants) ListByParticipant(_ context.Context, pid domain.ParticipantID) ([]domain.Room, error) {
	var out []domain.Room
	for code, rows := range m.rows {
		for _, p := range rows {
			if p.ID == pid {
				out = append(out, domain.Room{Code: code})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memParticipants) TouchHeartbeat(context.Context, string, domain.ParticipantID) error {
	return nil
}

type nopConn struct{ id string }

func (c nopConn) ID() string { return c.id }
func (c nopConn) Send(protocol.Message) error { return nil }
func (c nopConn) Close() error { return nil }

func TestCreateRoom_RetriesOnCollision(t *testing.T) {
	repo := newMemRoomRepo()
	repo.rooms["AAAAAA"] = domain.Room{Code: "AAAAAA"}
	svc := NewRoomService(repo, repo, memProblems{7: {ID: 7}}, "python")

	codes := []string{"AAAAAA", "BBBBBB"}
	svc.newCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	r, err := svc.CreateRoom(context.Background(), 7, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.Code != "BBBBBB" || r.Language != "python" || r.OwnerID != "alice" {
		t.Fatalf("room = %+v", r)
	}
}

func TestCreateRoom_UnknownProblem(t *testing.T) {
	repo := newMemRoomRepo()
	svc := NewRoomService(repo, repo, memProblems{}, "python")
	if _, err := svc.CreateRoom(context.Background(), 99, "alice"); !errors.Is(err, domain.ErrProblemNotFound) {
		t.Fatalf("err = %v, want ErrProblemNotFound", err)
	}
	if _, err := svc.CreateRoom(context.Background(), 99, " "); !errors.Is(err, domain.ErrInvalidParticipant) {
		t.Fatalf("err = %v, want ErrInvalidParticipant", err)
	}
}

func TestGetRoom_NormalizesCode(t *testing.T) {
	repo := newMemRoomRepo()
	repo.rooms["AB12CD"] = domain.Room{Code: "AB12CD", ProblemID: 7}
	svc := NewRoomService(repo, repo, memProblems{}, "python")
	r, err := svc.GetRoom(context.Background(), " ab12cd ")
	if err != nil || r.ProblemID != 7 {
		t.Fatalf("get = %+v, %v", r, err)
	}
}

func TestNewRoomCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		c, err := NewRoomCode()
		if err != nil {
			t.Fatalf("code: %v", err)
		}
		if len(c) != 6 {
			t.Fatalf("code %q has length %d", c, len(c))
		}
		for _, r := range c {
			if !strings.ContainsRune(roomCodeAlphabet, r) {
				t.Fatalf("code %q has %q", c, r)
			}
		}
	}
}

func TestMemberService_ListAndLeave(t *testing.T) {
	ctx := context.Background()
	repo := newMemRoomRepo()
	repo.rooms["AB12CD"] = domain.Room{Code: "AB12CD", ProblemID: 7}
	dir := room.NewDirectory(repo, room.DirectoryOptions{})
	defer dir.CloseAll()
	parts := &memParticipants{rows: map[string][]domain.Participant{}}
	svc := NewMemberService(parts, repo, dir)

	sess, _ := dir.Resolve(ctx, "AB12CD")
	_ = svc.JoinRoom(ctx, "AB12CD", "alice")
	_ = svc.JoinRoom(ctx, "AB12CD", "bob")
	if _, err := sess.Join(ctx, "alice", nopConn{"c1"}); err != nil {
		t.Fatalf("join: %v", err)
	}

	list, err := svc.ListParticipants(ctx, "AB12CD")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || !list[0].Online || list[1].Online {
		t.Fatalf("list = %+v, want alice online and bob offline", list)
	}

	if err := svc.LeaveRoom(ctx, "AB12CD", "alice"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if ok, _ := sess.IsMember(ctx, "alice"); ok {
		t.Fatalf("alice still a live member")
	}
	if err := svc.LeaveRoom(ctx, "AB12CD", "alice"); !errors.Is(err, domain.ErrNotInRoom) {
		t.Fatalf("second leave err = %v, want ErrNotInRoom", err)
	}
	if err := svc.LeaveRoom(ctx, "NOPE00", "alice"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("err = %v, want ErrRoomNotFound", err)
	}
}

func TestMemberService_LastLeaveEvictsSession(t *testing.T) {
	ctx := context.Background()
	repo := newMemRoomRepo()
	repo.rooms["AB12CD"] = domain.Room{Code: "AB12CD"}
	dir := room.NewDirectory(repo, room.DirectoryOptions{})
	defer dir.CloseAll()
	svc := NewMemberService(&memParticipants{rows: map[string][]domain.Participant{}}, repo, dir)

	sess, _ := dir.Resolve(ctx, "AB12CD")
	_ = svc.JoinRoom(ctx, "AB12CD", "alice")
	_, _ = sess.Join(ctx, "alice", nopConn{"c1"})

	if err := svc.LeaveRoom(ctx, "AB12CD", "alice"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, ok := dir.Lookup("AB12CD"); ok {
		t.Fatalf("empty room kept its live session")
	}
}

func TestMemberService_ListRooms(t *testing.T) {
	ctx := context.Background()
	repo := newMemRoomRepo()
	dir := room.NewDirectory(repo, room.DirectoryOptions{})
	defer dir.CloseAll()
	svc := NewMemberService(&memParticipants{rows: map[string][]domain.Participant{}}, repo, dir)

	_ = svc.JoinRoom(ctx, "ZZ99ZZ", "alice")
	_ = svc.JoinRoom(ctx, "AB12CD", "alice")
	_ = svc.JoinRoom(ctx, "AB12CD", "bob")

	rooms, err := svc.ListRooms(ctx, "alice")
	if err != nil || len(rooms) != 2 || rooms[0].Code != "AB12CD" || rooms[1].Code != "ZZ99ZZ" {
		t.Fatalf("rooms = %+v, %v", rooms, err)
	}
	if _, err := svc.ListRooms(ctx, " "); !errors.Is(err, domain.ErrInvalidParticipant) {
		t.Fatalf("err = %v, want ErrInvalidParticipant", err)
	}
}

func TestMemberService_CodeOf(t *testing.T) {
	ctx := context.Background()
	repo := newMemRoomRepo()
	repo.rooms["AB12CD"] = domain.Room{Code: "AB12CD"}
	dir := room.NewDirectory(repo, room.DirectoryOptions{})
	defer dir.CloseAll()
	svc := NewMemberService(&memParticipants{rows: map[string][]domain.Participant{}}, repo, dir)

	sess, _ := dir.Resolve(ctx, "AB12CD")
	_, _ = sess.Join(ctx, "alice", nopConn{"c1"})
	_ = sess.UpdateCode(ctx, "alice", "print(1)")

	src, err := svc.CodeOf(ctx, "AB12CD", "alice")
	if err != nil || src != "print(1)" {
		t.Fatalf("code = %q, %v", src, err)
	}
	if _, err := svc.CodeOf(ctx, "AB12CD", "ghost"); !errors.Is(err, domain.ErrNotInRoom) {
		t.Fatalf("err = %v, want ErrNotInRoom", err)
	}
}
