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

type Judge interface {
	Run(ctx context.Context, req domain.ExecutionRequest) (*domain.RunResult, error)
	Submit(ctx context.Context, req domain.ExecutionRequest) (*domain.RunResult, error)
}

type SubmissionStore interface {
	Save(ctx context.Context, sub *domain.Submission) error
}

type RunRequest struct {
	Room          string
	ParticipantID domain.ParticipantID
	Code          string
	Language      string // empty means the room language
	SampleOnly    bool
	Share         bool
}

type SubmitRequest struct {
	Room          string
	ParticipantID domain.ParticipantID
	Code          string
	Language      string
}

// Coordinator calls the judge on the caller's goroutine and hands only the
// outcome back to the room, asynchronously.
type Coordinator struct {
	dir   *Directory
	judge Judge
	subs  SubmissionStore

	persistTimeout time.Duration
	wg             sync.WaitGroup
}

func NewCoordinator(dir *Directory, judge Judge, subs SubmissionStore) *Coordinator {
	return &Coordinator{
		dir:            dir,
		judge:          judge,
		subs:           subs,
		persistTimeout: 10 * time.Second,
	}
}

// Run executes code against the problem's tests. The caller gets the full
// result; the others get code_executed, with the result only when shared.
func (c *Coordinator) Run(ctx context.Context, req RunRequest) (*domain.RunResult, error) {
	sess, lang, err := c.prepare(ctx, req.Room, req.ParticipantID, req.Language)
	if err != nil {
		return nil, err
	}

	res, err := c.judge.Run(ctx, domain.ExecutionRequest{
		ProblemID:     sess.Room().ProblemID,
		ParticipantID: req.ParticipantID,
		Code:          req.Code,
		Language:      lang,
		SampleOnly:    req.SampleOnly,
	})
	if err != nil {
		return nil, executionErr(err)
	}

	outcome := domain.ExecutionOutcome{
		ParticipantID: req.ParticipantID,
		Passed:        res.Passed,
		SampleOnly:    req.SampleOnly,
		Shared:        req.Share,
	}
	if req.Share {
		outcome.Result = res
	}
	if err := sess.PublishExecution(outcome); err != nil {
		slog.Debug("coordinator: run outcome not delivered", "room", req.Room, "participant", req.ParticipantID, "err", err)
	}
	return res, nil
}

// Submit judges code against the full test set, announces the verdict and
// stores the submission in the background.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*domain.RunResult, error) {
	sess, lang, err := c.prepare(ctx, req.Room, req.ParticipantID, req.Language)
	if err != nil {
		return nil, err
	}

	problemID := sess.Room().ProblemID
	res, err := c.judge.Submit(ctx, domain.ExecutionRequest{
		ProblemID:     problemID,
		ParticipantID: req.ParticipantID,
		Code:          req.Code,
		Language:      lang,
	})
	if err != nil {
		return nil, executionErr(err)
	}

	if err := sess.PublishSubmitted(req.ParticipantID, res.Passed); err != nil {
		slog.Debug("coordinator: submit verdict not delivered", "room", req.Room, "participant", req.ParticipantID, "err", err)
	}

	sub := domain.Submission{
		RoomCode:        req.Room,
		ProblemID:       problemID,
		ParticipantID:   req.ParticipantID,
		Code:            req.Code,
		Language:        lang,
		Passed:          res.Passed,
		OverallStatus:   res.OverallStatus,
		ExecutionTime:   res.ExecutionTime,
		MemoryUsage:     res.MemoryUsage,
		ErrorMessage:    res.ErrorMessage,
		TestCaseResults: res.TestCaseResults,
	}
	c.wg.Add(1)
	go c.persist(sess, sub)

	return res, nil
}

// Wait blocks until background persistence is done.
func (c *Coordinator) Wait() { c.wg.Wait() }

func (c *Coordinator) persist(sess *Session, sub domain.Submission) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), c.persistTimeout)
	defer cancel()

	if c.subs != nil {
		if err := c.subs.Save(ctx, &sub); err != nil {
			slog.Error("coordinator: save submission failed", "room", sub.RoomCode, "participant", sub.ParticipantID, "err", err)
			return
		}
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	if err := sess.PublishSubmission(sub); err != nil {
		slog.Debug("coordinator: submission not delivered", "room", sub.RoomCode, "id", sub.ID, "err", err)
	}
}

func (c *Coordinator) prepare(ctx context.Context, code string, pid domain.ParticipantID, lang string) (*Session, string, error) {
	sess, err := c.dir.Resolve(ctx, code)
	if err != nil {
		return nil, "", err
	}
	ok, err := sess.IsMember(ctx, pid)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", domain.ErrNotInRoom
	}
	if lang == "" {
		if lang, err = sess.Language(ctx); err != nil {
			return nil, "", err
		}
	}
	if !sess.SupportsLanguage(lang) {
		return nil, "", domain.ErrUnsupportedLanguage
	}
	return sess, lang, nil
}

func executionErr(err error) error {
	if errors.Is(err, domain.ErrExecutionFailure) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrExecutionFailure, err)
}
