package room

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cwrk-planet/coderoom/internal/domain"
	"github.com/cwrk-planet/coderoom/pkg/protocol"
)

type fakeJudge struct {
	mu   sync.Mutex
	reqs []domain.ExecutionRequest
	res  *domain.RunResult
	err  error

	// when set, each call signals entered and waits for release
	entered chan struct{}
	release chan struct{}
}

func (j *fakeJudge) Run(_ context.Context, req domain.ExecutionRequest) (*domain.RunResult, error) {
	return j.call(req)
}

func (j *fakeJudge) Submit(_ context.Context, req domain.ExecutionRequest) (*domain.RunResult, error) {
	return j.call(req)
}

func (j *fakeJudge) call(req domain.ExecutionRequest) (*domain.RunResult, error) {
	if j.entered != nil {
		j.entered <- struct{}{}
		<-j.release
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.reqs = append(j.reqs, req)
	if j.err != nil {
		return nil, j.err
	}
	r := *j.res
	return &r, nil
}

type memSubmissions struct {
	mu   sync.Mutex
	next int64
	subs []domain.Submission
}

func (m *memSubmissions) Save(_ context.Context, sub *domain.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	sub.ID = m.next
	m.subs = append(m.subs, *sub)
	return nil
}

func gatedJudge() *fakeJudge {
	return &fakeJudge{res: passingResult(), entered: make(chan struct{}), release: make(chan struct{})}
}

type callResult struct {
	res *domain.RunResult
	err error
}

func passingResult() *domain.RunResult {
	return &domain.RunResult{
		OverallStatus: domain.StatusPass,
		Passed:        true,
		TestCaseResults: []domain.TestCaseResult{
			{Input: "1", Expected: "2", Output: "2", Passed: true},
		},
		ExecutionTime: 0.01,
	}
}

func TestCoordinator_UnsharedRunScenario(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(memRooms{"AB12": {Code: "AB12", ProblemID: 7}}, DirectoryOptions{Session: testOptions()})
	defer d.CloseAll()
	j := &fakeJudge{res: passingResult()}
	c := NewCoordinator(d, j, &memSubmissions{})

	sess, err := d.Resolve(ctx, "AB12")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	alice, bob := newFakeConn("ca"), newFakeConn("cb")
	if _, err := sess.Join(ctx, "alice", alice); err != nil {
		t.Fatalf("alice join: %v", err)
	}
	_ = sess.UpdateCode(ctx, "alice", "print(1)")

	snap, err := sess.Join(ctx, "bob", bob)
	if err != nil {
		t.Fatalf("bob join: %v", err)
	}
	if snap.Code["alice"] != "print(1)" {
		t.Fatalf("bob sees alice code %q", snap.Code["alice"])
	}
	_ = sess.UpdateCode(ctx, "bob", "print(2)")

	res, err := c.Run(ctx, RunRequest{Room: "AB12", ParticipantID: "bob", Code: "print(2)", Language: "python", SampleOnly: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Passed || len(res.TestCaseResults) != 1 {
		t.Fatalf("bob's result = %+v", res)
	}
	if j.reqs[0].ProblemID != 7 || !j.reqs[0].SampleOnly {
		t.Fatalf("judge request = %+v", j.reqs[0])
	}
	flush(t, sess)

	got := alice.ofType(protocol.TypeCodeExecuted)
	if len(got) != 1 {
		t.Fatalf("alice code_executed count = %d, want 1", len(got))
	}
	p := got[0].Payload.(protocol.CodeExecutedPayload)
	if p.ParticipantID != "bob" || p.Shared || p.Result != nil {
		t.Fatalf("alice payload = %+v, want unshared without result", p)
	}
	if len(bob.ofType(protocol.TypeCodeExecuted)) != 0 {
		t.Fatalf("runner should not get code_executed")
	}
}

func TestCoordinator_SharedRunCarriesResult(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(memRooms{"R": {Code: "R", ProblemID: 1}}, DirectoryOptions{Session: testOptions()})
	defer d.CloseAll()
	c := NewCoordinator(d, &fakeJudge{res: passingResult()}, nil)

	sess, _ := d.Resolve(ctx, "R")
	x, y := newFakeConn("cx"), newFakeConn("cy")
	_, _ = sess.Join(ctx, "X", x)
	_, _ = sess.Join(ctx, "Y", y)

	if _, err := c.Run(ctx, RunRequest{Room: "R", ParticipantID: "X", Code: "c", Share: true}); err != nil {
		t.Fatalf("run: %v", err)
	}
	flush(t, sess)

	got := y.ofType(protocol.TypeCodeExecuted)
	if len(got) != 1 || got[0].Payload.(protocol.CodeExecutedPayload).Result == nil {
		t.Fatalf("shared run should carry the result: %+v", got)
	}
}

func TestCoordinator_FailureStaysWithCaller(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(memRooms{"R": {Code: "R"}}, DirectoryOptions{Session: testOptions()})
	defer d.CloseAll()
	c := NewCoordinator(d, &fakeJudge{err: errors.New("judge down")}, nil)

	sess, _ := d.Resolve(ctx, "R")
	x, y := newFakeConn("cx"), newFakeConn("cy")
	_, _ = sess.Join(ctx, "X", x)
	_, _ = sess.Join(ctx, "Y", y)

	if _, err := c.Run(ctx, RunRequest{Room: "R", ParticipantID: "X", Code: "c"}); !errors.Is(err, domain.ErrExecutionFailure) {
		t.Fatalf("err = %v, want ErrExecutionFailure", err)
	}
	flush(t, sess)
	if len(y.ofType(protocol.TypeCodeExecuted)) != 0 {
		t.Fatalf("failure must not be broadcast")
	}
}

func TestCoordinator_RejectsNonMember(t *testing.T) {
	d := NewDirectory(memRooms{"R": {Code: "R"}}, DirectoryOptions{Session: testOptions()})
	defer d.CloseAll()
	j := &fakeJudge{res: passingResult()}
	c := NewCoordinator(d, j, nil)

	if _, err := c.Run(context.Background(), RunRequest{Room: "R", ParticipantID: "ghost"}); !errors.Is(err, domain.ErrNotInRoom) {
		t.Fatalf("err = %v, want ErrNotInRoom", err)
	}
	if len(j.reqs) != 0 {
		t.Fatalf("judge should not be called")
	}
}

func TestCoordinator_SubmitPersistsAndPushes(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(memRooms{"R": {Code: "R", ProblemID: 3}}, DirectoryOptions{Session: testOptions()})
	defer d.CloseAll()
	store := &memSubmissions{}
	c := NewCoordinator(d, &fakeJudge{res: passingResult()}, store)

	sess, _ := d.Resolve(ctx, "R")
	x, y := newFakeConn("cx"), newFakeConn("cy")
	_, _ = sess.Join(ctx, "X", x)
	_, _ = sess.Join(ctx, "Y", y)

	if _, err := c.Submit(ctx, SubmitRequest{Room: "R", ParticipantID: "X", Code: "c", Language: "java"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	c.Wait()
	flush(t, sess)

	if len(store.subs) != 1 || store.subs[0].ProblemID != 3 || store.subs[0].Language != "java" {
		t.Fatalf("stored = %+v", store.subs)
	}
	if got := y.ofType(protocol.TypeCodeSubmitted); len(got) != 1 || !got[0].Payload.(protocol.CodeSubmittedPayload).Passed {
		t.Fatalf("Y code_submitted = %+v", got)
	}
	if len(x.ofType(protocol.TypeCodeSubmitted)) != 0 {
		t.Fatalf("submitter should not get code_submitted")
	}
	for name, conn := range map[string]*fakeConn{"X": x, "Y": y} {
		got := conn.ofType(protocol.TypeRoomSubmission)
		if len(got) != 1 || got[0].Payload.(protocol.RoomSubmissionPayload).Submission.ID != 1 {
			t.Fatalf("%s room_submission = %+v", name, got)
		}
	}
}

func TestCoordinator_RunFinishingAfterRemoveIsDropped(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(memRooms{"R": {Code: "R"}}, DirectoryOptions{Session: testOptions()})
	defer d.CloseAll()
	j := gatedJudge()
	c := NewCoordinator(d, j, nil)

	sess, _ := d.Resolve(ctx, "R")
	x, y := newFakeConn("cx"), newFakeConn("cy")
	_, _ = sess.Join(ctx, "X", x)
	_, _ = sess.Join(ctx, "Y", y)

	done := make(chan callResult, 1)
	go func() {
		res, err := c.Run(ctx, RunRequest{Room: "R", ParticipantID: "X", Code: "c", Share: true})
		done <- callResult{res, err}
	}()
	<-j.entered
	if err := sess.Remove(ctx, "X"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	close(j.release)

	got := <-done
	if got.err != nil || got.res == nil {
		t.Fatalf("run = %+v, want the result and no error", got)
	}
	flush(t, sess)
	if n := len(y.ofType(protocol.TypeCodeExecuted)); n != 0 {
		t.Fatalf("code_executed for removed runner = %d, want 0", n)
	}
}

func TestCoordinator_RunFinishingAfterLeaveStillAnnounced(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(memRooms{"R": {Code: "R"}}, DirectoryOptions{Session: testOptions()})
	defer d.CloseAll()
	j := gatedJudge()
	c := NewCoordinator(d, j, nil)

	sess, _ := d.Resolve(ctx, "R")
	x, y := newFakeConn("cx"), newFakeConn("cy")
	_, _ = sess.Join(ctx, "X", x)
	_, _ = sess.Join(ctx, "Y", y)

	done := make(chan callResult, 1)
	go func() {
		res, err := c.Run(ctx, RunRequest{Room: "R", ParticipantID: "X", Code: "c"})
		done <- callResult{res, err}
	}()
	<-j.entered
	// going offline keeps the membership
	if err := sess.Leave(ctx, "X", ""); err != nil {
		t.Fatalf("leave: %v", err)
	}
	close(j.release)

	if got := <-done; got.err != nil {
		t.Fatalf("run err = %v", got.err)
	}
	flush(t, sess)
	if n := len(y.ofType(protocol.TypeCodeExecuted)); n != 1 {
		t.Fatalf("code_executed = %d, want 1", n)
	}
	if n := len(x.ofType(protocol.TypeCodeExecuted)); n != 0 {
		t.Fatalf("offline runner got code_executed")
	}
}

func TestCoordinator_SubmitFinishingAfterCloseAll(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(memRooms{"R": {Code: "R", ProblemID: 3}}, DirectoryOptions{Session: testOptions()})
	j := gatedJudge()
	store := &memSubmissions{}
	c := NewCoordinator(d, j, store)

	sess, _ := d.Resolve(ctx, "R")
	x, y := newFakeConn("cx"), newFakeConn("cy")
	_, _ = sess.Join(ctx, "X", x)
	_, _ = sess.Join(ctx, "Y", y)

	done := make(chan callResult, 1)
	go func() {
		res, err := c.Submit(ctx, SubmitRequest{Room: "R", ParticipantID: "X", Code: "c"})
		done <- callResult{res, err}
	}()
	<-j.entered
	d.CloseAll()
	close(j.release)

	if got := <-done; got.err != nil || got.res == nil {
		t.Fatalf("submit = %+v, want the result and no error", got)
	}
	c.Wait()

	if len(y.ofType(protocol.TypeCodeSubmitted)) != 0 || len(y.ofType(protocol.TypeRoomSubmission)) != 0 {
		t.Fatalf("closed room still pushed to Y")
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.subs) != 1 {
		t.Fatalf("stored %d submissions, want 1", len(store.subs))
	}
}
