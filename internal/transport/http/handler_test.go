package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/coderoom/internal/domain"
	"github.com/cwrk-planet/coderoom/internal/room"
	"github.com/cwrk-planet/coderoom/internal/service"
	httpmw "github.com/cwrk-planet/coderoom/internal/transport/http/middleware"
	"github.com/cwrk-planet/coderoom/internal/transport/ws"
	"github.com/cwrk-planet/coderoom/pkg/protocol"
)

type memRooms struct {
	mu    sync.Mutex
	rooms map[string]domain.Room
}

func (m *memRooms) Create(_ context.Context, r *domain.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[r.Code]; ok {
		return domain.ErrRoomCodeTaken
	}
	r.CreatedAt = time.Now()
	m.rooms[r.Code] = *r
	return nil
}

func (m *memRooms) GetByCode(_ context.Context, code string) (*domain.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[code]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return &r, nil
}

func (m *memRooms) Put(context.Context, *domain.Room) {}

type memProblems map[int64]domain.Problem

func (m memProblems) Get(_ context.Context, id int64) (*domain.Problem, error) {
	p, ok := m[id]
	if !ok {
		return nil, domain.ErrProblemNotFound
	}
	return &p, nil
}

type memParticipants struct {
	mu      sync.Mutex
	rows    map[string][]domain.Participant
	rooms   *memRooms
	touched int
}

func (m *memParticipants) Join(_ context.Context, code string, pid domain.ParticipantID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows[code] {
		if p.ID == pid {
			return nil
		}
	}
	m.rows[code] = append(m.rows[code], domain.Participant{RoomCode: code, ID: pid, JoinedAt: time.Now()})
	return nil
}

func (m *memParticipants) Leave(_ context.Context, code string, pid domain.ParticipantID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.rows[code]
	for i, p := range rows {
		if p.ID == pid {
			m.rows[code] = append(rows[:i], rows[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotInRoom
}

func (m *memParticipants) ListByRoom(_ context.Context, code string) ([]domain.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Participant(nil), m.rows[code]...), nil
}

func (m *memParticipants) ListByParticipant(ctx context.Context, pid domain.ParticipantID) ([]domain.Room, error) {
	m.mu.Lock()
	var codes []string
	for code, rows := range m.rows {
		for _, p := range rows {
			if p.ID == pid {
				codes = append(codes, code)
			}
		}
	}
	m.mu.Unlock()

	out := make([]domain.Room, 0, len(codes))
	for _, code := range codes {
		r, err := m.rooms.GetByCode(ctx, code)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

func (m *memParticipants) TouchHeartbeat(context.Context, string, domain.ParticipantID) error {
	m.mu.Lock()
	m.touched++
	m.mu.Unlock()
	return nil
}

type stubJudge struct{}

func (stubJudge) Run(_ context.Context, req domain.ExecutionRequest) (*domain.RunResult, error) {
	status := domain.StatusFail
	if req.Code == "ok" {
		status = domain.StatusPass
	}
	return &domain.RunResult{Passed: status == domain.StatusPass, OverallStatus: status}, nil
}

func (j stubJudge) Submit(ctx context.Context, req domain.ExecutionRequest) (*domain.RunResult, error) {
	return j.Run(ctx, req)
}

type memSubs struct {
	mu   sync.Mutex
	list []domain.Submission
}

func (m *memSubs) Save(_ context.Context, s *domain.Submission) error {
	m.mu.Lock()
	m.list = append(m.list, *s)
	m.mu.Unlock()
	return nil
}

func (m *memSubs) ListByRoom(_ context.Context, code, _ string, _ int) ([]domain.Submission, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Submission
	for _, s := range m.list {
		if s.RoomCode == code {
			out = append(out, s)
		}
	}
	return out, "", nil
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, domain.ParticipantID) error { return domain.ErrRateLimited }

type nopConn struct{ id string }

func (c nopConn) ID() string                  { return c.id }
func (c nopConn) Send(protocol.Message) error { return nil }
func (c nopConn) Close() error                { return nil }

type testEnv struct {
	srv   *httptest.Server
	rooms *memRooms
	parts *memParticipants
	subs  *memSubs
	dir   *room.Directory
	coord *room.Coordinator
}

func newTestEnv(t *testing.T, limiter service.Limiter) *testEnv {
	t.Helper()
	rooms := &memRooms{rooms: map[string]domain.Room{}}
	env := &testEnv{
		rooms: rooms,
		parts: &memParticipants{rows: map[string][]domain.Participant{}, rooms: rooms},
		subs:  &memSubs{},
	}
	problems := memProblems{1: {ID: 1, Title: "Two Sum", Difficulty: "easy"}}

	env.dir = room.NewDirectory(env.rooms, room.DirectoryOptions{
		Session: room.Options{DefaultLanguage: "python", Languages: []string{"python", "go"}},
	})
	env.coord = room.NewCoordinator(env.dir, stubJudge{}, env.subs)

	members := service.NewMemberService(env.parts, env.rooms, env.dir)
	h := NewHandler(
		service.NewRoomService(env.rooms, env.rooms, problems, "python"),
		members,
		service.NewExecutionService(env.coord, limiter, env.subs, env.rooms),
		service.NewProblemService(problems),
	)
	wsSrv := ws.NewServer(ws.NewHub(), env.dir, members, ws.Options{})
	env.srv = httptest.NewServer(NewRouter(h, members, wsSrv, RouterOptions{}))

	t.Cleanup(func() {
		env.srv.Close()
		env.coord.Wait()
		env.dir.CloseAll()
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, pid string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&rd).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if pid != "" {
		req.Header.Set(httpmw.HeaderParticipantID, pid)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func (e *testEnv) createRoom(t *testing.T) RoomItem {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/rooms", "alice", CreateRoomRequest{ProblemID: 1})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create room: status %d body %s", resp.StatusCode, body)
	}
	var item RoomItem
	if err := json.Unmarshal(body, &item); err != nil {
		t.Fatalf("decode room: %v", err)
	}
	return item
}

func (e *testEnv) joinLive(t *testing.T, code string, pid domain.ParticipantID) {
	t.Helper()
	sess, err := e.dir.Resolve(context.Background(), code)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := sess.Join(context.Background(), pid, nopConn{id: "c-" + string(pid)}); err != nil {
		t.Fatalf("join: %v", err)
	}
}

func TestCreateAndGetRoom(t *testing.T) {
	e := newTestEnv(t, nil)
	item := e.createRoom(t)

	if len(item.Code) != 6 || item.OwnerID != "alice" || item.Language != "python" {
		t.Fatalf("unexpected room: %+v", item)
	}

	resp, body := e.do(t, http.MethodGet, "/rooms/"+item.Code, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get room: status %d body %s", resp.StatusCode, body)
	}

	resp, _ = e.do(t, http.MethodGet, "/rooms/ZZZZZZ", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown room: want 404, got %d", resp.StatusCode)
	}
}

func TestListRooms_ByParticipant(t *testing.T) {
	e := newTestEnv(t, nil)
	a, b := e.createRoom(t), e.createRoom(t)
	e.createRoom(t)
	ctx := context.Background()
	_ = e.parts.Join(ctx, a.Code, "bob")
	_ = e.parts.Join(ctx, b.Code, "bob")

	decode := func(body []byte) map[string]RoomItem {
		var page RoomsResponse
		if err := json.Unmarshal(body, &page); err != nil {
			t.Fatalf("decode: %v", err)
		}
		out := map[string]RoomItem{}
		for _, it := range page.Items {
			out[it.Code] = it
		}
		return out
	}

	resp, body := e.do(t, http.MethodGet, "/rooms?participant=bob", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status %d body %s", resp.StatusCode, body)
	}
	got := decode(body)
	if len(got) != 2 || got[a.Code].ProblemID != 1 || got[b.Code].Code != b.Code {
		t.Fatalf("rooms = %+v", got)
	}

	resp, body = e.do(t, http.MethodGet, "/rooms", "bob", nil)
	if resp.StatusCode != http.StatusOK || len(decode(body)) != 2 {
		t.Fatalf("list by header: status %d body %s", resp.StatusCode, body)
	}

	resp, body = e.do(t, http.MethodGet, "/rooms?participant=carol", "", nil)
	if resp.StatusCode != http.StatusOK || len(decode(body)) != 0 {
		t.Fatalf("stranger: status %d body %s", resp.StatusCode, body)
	}

	resp, _ = e.do(t, http.MethodGet, "/rooms", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("no participant: want 400, got %d", resp.StatusCode)
	}
}

func TestCreateRoom_Validation(t *testing.T) {
	e := newTestEnv(t, nil)

	resp, _ := e.do(t, http.MethodPost, "/rooms", "", CreateRoomRequest{ProblemID: 1})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing owner: want 400, got %d", resp.StatusCode)
	}
	resp, _ = e.do(t, http.MethodPost, "/rooms", "alice", CreateRoomRequest{ProblemID: 42})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown problem: want 404, got %d", resp.StatusCode)
	}
}

func TestRun_RequiresMembership(t *testing.T) {
	e := newTestEnv(t, nil)
	item := e.createRoom(t)

	resp, _ := e.do(t, http.MethodPost, "/rooms/"+item.Code+"/run", "", RunRequest{Code: "ok"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no identity: want 401, got %d", resp.StatusCode)
	}
	resp, _ = e.do(t, http.MethodPost, "/rooms/"+item.Code+"/run", "mallory", RunRequest{Code: "ok"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-member: want 403, got %d", resp.StatusCode)
	}

	e.joinLive(t, item.Code, "alice")
	resp, body := e.do(t, http.MethodPost, "/rooms/"+item.Code+"/run", "alice", RunRequest{Code: "ok", SampleOnly: true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run: status %d body %s", resp.StatusCode, body)
	}
	var res protocol.RunResultItem
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Passed {
		t.Fatalf("expected passed result, got %+v", res)
	}

	resp, _ = e.do(t, http.MethodPost, "/rooms/"+item.Code+"/run", "alice", RunRequest{Code: "ok", Language: "cobol"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unsupported language: want 400, got %d", resp.StatusCode)
	}
}

func TestSubmit_AppearsInHistory(t *testing.T) {
	e := newTestEnv(t, nil)
	item := e.createRoom(t)
	e.joinLive(t, item.Code, "alice")

	resp, body := e.do(t, http.MethodPost, "/rooms/"+item.Code+"/submit", "alice", SubmitRequest{Code: "ok"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit: status %d body %s", resp.StatusCode, body)
	}
	e.coord.Wait()

	resp, body = e.do(t, http.MethodGet, "/rooms/"+item.Code+"/submissions", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history: status %d body %s", resp.StatusCode, body)
	}
	var page SubmissionsResponse
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ParticipantID != "alice" {
		t.Fatalf("unexpected history: %+v", page.Items)
	}
}

func TestRun_RateLimited(t *testing.T) {
	e := newTestEnv(t, denyAll{})
	item := e.createRoom(t)
	e.joinLive(t, item.Code, "alice")

	resp, _ := e.do(t, http.MethodPost, "/rooms/"+item.Code+"/run", "alice", RunRequest{Code: "ok"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("want 429, got %d", resp.StatusCode)
	}
}

func TestParticipantsCodeAndLeave(t *testing.T) {
	e := newTestEnv(t, nil)
	item := e.createRoom(t)
	ctx := context.Background()

	if err := e.parts.Join(ctx, item.Code, "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	e.joinLive(t, item.Code, "alice")
	sess, _ := e.dir.Lookup(item.Code)
	if err := sess.UpdateCode(ctx, "alice", "print(1)"); err != nil {
		t.Fatalf("update code: %v", err)
	}

	resp, body := e.do(t, http.MethodGet, "/rooms/"+item.Code+"/participants", "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("participants: status %d", resp.StatusCode)
	}
	var list ParticipantsResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Items) != 1 || !list.Items[0].Online {
		t.Fatalf("unexpected participants: %+v", list.Items)
	}
	e.parts.mu.Lock()
	touched := e.parts.touched
	e.parts.mu.Unlock()
	if touched == 0 {
		t.Fatalf("expected heartbeat touch on room route")
	}

	resp, body = e.do(t, http.MethodGet, "/rooms/"+item.Code+"/code/alice", "", nil)
	var code CodeResponse
	if err := json.Unmarshal(body, &code); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("code: status %d err %v", resp.StatusCode, err)
	}
	if code.Code != "print(1)" {
		t.Fatalf("want print(1), got %q", code.Code)
	}

	resp, _ = e.do(t, http.MethodGet, "/rooms/"+item.Code+"/code/bob", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown participant code: want 404, got %d", resp.StatusCode)
	}

	resp, _ = e.do(t, http.MethodPost, "/rooms/"+item.Code+"/leave", "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("leave: want 200, got %d", resp.StatusCode)
	}
	resp, _ = e.do(t, http.MethodPost, "/rooms/"+item.Code+"/leave", "alice", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second leave: want 404, got %d", resp.StatusCode)
	}
}

func TestGetProblem(t *testing.T) {
	e := newTestEnv(t, nil)

	resp, body := e.do(t, http.MethodGet, "/problems/1", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("problem: status %d", resp.StatusCode)
	}
	var p ProblemItem
	if err := json.Unmarshal(body, &p); err != nil || p.Title != "Two Sum" {
		t.Fatalf("unexpected problem %+v err %v", p, err)
	}

	resp, _ = e.do(t, http.MethodGet, "/problems/abc", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id: want 400, got %d", resp.StatusCode)
	}
	resp, _ = e.do(t, http.MethodGet, "/problems/9", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing: want 404, got %d", resp.StatusCode)
	}
}
