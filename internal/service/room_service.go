package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/cwrk-planet/coderoom/internal/domain"
)

const (
	roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	roomCodeLen      = 6
	roomCodeAttempts = 8
)

type RoomRepo interface {
	Create(ctx context.Context, room *domain.Room) error
}

// RoomReader is the cached read path to rooms.
type RoomReader interface {
	GetByCode(ctx context.Context, code string) (*domain.Room, error)
	Put(ctx context.Context, room *domain.Room)
}

type ProblemRepo interface {
	Get(ctx context.Context, id int64) (*domain.Problem, error)
}

type RoomService struct {
	repo     RoomRepo
	rooms    RoomReader
	problems ProblemRepo

	defaultLanguage string
	newCode         func() (string, error)
}

func NewRoomService(repo RoomRepo, rooms RoomReader, problems ProblemRepo, defaultLanguage string) *RoomService {
	return &RoomService{
		repo:            repo,
		rooms:           rooms,
		problems:        problems,
		defaultLanguage: defaultLanguage,
		newCode:         NewRoomCode,
	}
}

// CreateRoom provisions a room for an existing problem under a fresh code.
func (s *RoomService) CreateRoom(ctx context.Context, problemID int64, ownerID string) (*domain.Room, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, domain.ErrInvalidParticipant
	}
	if _, err := s.problems.Get(ctx, problemID); err != nil {
		return nil, err
	}

	for i := 0; i < roomCodeAttempts; i++ {
		code, err := s.newCode()
		if err != nil {
			return nil, fmt.Errorf("room code: %w", err)
		}
		room := &domain.Room{
			Code:      code,
			ProblemID: problemID,
			OwnerID:   ownerID,
			Language:  s.defaultLanguage,
		}
		err = s.repo.Create(ctx, room)
		if errors.Is(err, domain.ErrRoomCodeTaken) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("roomRepo.Create: %w", err)
		}
		s.rooms.Put(ctx, room)
		return room, nil
	}
	return nil, fmt.Errorf("roomRepo.Create: %w after %d attempts", domain.ErrRoomCodeTaken, roomCodeAttempts)
}

func (s *RoomService) GetRoom(ctx context.Context, code string) (*domain.Room, error) {
	return s.rooms.GetByCode(ctx, domain.NormalizeRoomCode(code))
}

// NewRoomCode returns six random characters from A-Z0-9.
func NewRoomCode() (string, error) {
	buf := make([]byte, roomCodeLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = roomCodeAlphabet[int(b)%len(roomCodeAlphabet)]
	}
	return string(buf), nil
}
