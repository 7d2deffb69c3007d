package service

import (
	"context"

	"github.com/cwrk-planet/coderoom/internal/domain"
	"github.com/cwrk-planet/coderoom/internal/room"
)

type SubmissionRepo interface {
	ListByRoom(ctx context.Context, roomCode, after string, limit int) ([]domain.Submission, string, error)
}

type Limiter interface {
	Allow(ctx context.Context, roomCode string, pid domain.ParticipantID) error
}

// ExecutionService fronts the coordinator with rate limiting and serves history.
type ExecutionService struct {
	coord   *room.Coordinator
	limiter Limiter
	subs    SubmissionRepo
	rooms   RoomReader
}

func NewExecutionService(coord *room.Coordinator, limiter Limiter, subs SubmissionRepo, rooms RoomReader) *ExecutionService {
	return &ExecutionService{coord: coord, limiter: limiter, subs: subs, rooms: rooms}
}

func (s *ExecutionService) Run(ctx context.Context, req room.RunRequest) (*domain.RunResult, error) {
	if err := s.allow(ctx, req.Room, req.ParticipantID); err != nil {
		return nil, err
	}
	return s.coord.Run(ctx, req)
}

func (s *ExecutionService) Submit(ctx context.Context, req room.SubmitRequest) (*domain.RunResult, error) {
	if err := s.allow(ctx, req.Room, req.ParticipantID); err != nil {
		return nil, err
	}
	return s.coord.Submit(ctx, req)
}

func (s *ExecutionService) History(ctx context.Context, code, after string, limit int) ([]domain.Submission, string, error) {
	if _, err := s.rooms.GetByCode(ctx, code); err != nil {
		return nil, "", err
	}
	return s.subs.ListByRoom(ctx, code, after, limit)
}

func (s *ExecutionService) allow(ctx context.Context, code string, pid domain.ParticipantID) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Allow(ctx, code, pid)
}

type ProblemService struct {
	problems ProblemRepo
}

func NewProblemService(problems ProblemRepo) *ProblemService {
	return &ProblemService{problems: problems}
}

func (s *ProblemService) Get(ctx context.Context, id int64) (*domain.Problem, error) {
	return s.problems.Get(ctx, id)
}
