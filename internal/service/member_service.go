package service

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/cwrk-planet/coderoom/internal/domain"
	"github.com/cwrk-planet/coderoom/internal/room"
)

type ParticipantRepo interface {
	Join(ctx context.Context, roomCode string, pid domain.ParticipantID) error
	Leave(ctx context.Context, roomCode string, pid domain.ParticipantID) error
	ListByRoom(ctx context.Context, roomCode string) ([]domain.Participant, error)
	ListByParticipant(ctx context.Context, pid domain.ParticipantID) ([]domain.Room, error)
	TouchHeartbeat(ctx context.Context, roomCode string, pid domain.ParticipantID) error
}

// MemberService keeps the durable membership list next to the live sessions.
type MemberService struct {
	participants ParticipantRepo
	rooms        RoomReader
	dir          *room.Directory
}

func NewMemberService(participants ParticipantRepo, rooms RoomReader, dir *room.Directory) *MemberService {
	return &MemberService{participants: participants, rooms: rooms, dir: dir}
}

func (s *MemberService) JoinRoom(ctx context.Context, code string, pid domain.ParticipantID) error {
	return s.participants.Join(ctx, code, pid)
}

// LeaveRoom drops the durable membership and the live participant record.
// A room left with no members and nobody online loses its live session.
func (s *MemberService) LeaveRoom(ctx context.Context, code string, pid domain.ParticipantID) error {
	if _, err := s.rooms.GetByCode(ctx, code); err != nil {
		return err
	}

	removedLive := false
	if sess, ok := s.dir.Lookup(code); ok {
		member, err := sess.IsMember(ctx, pid)
		if err != nil && !errors.Is(err, domain.ErrRoomClosed) {
			return err
		}
		if member {
			if err := sess.Remove(ctx, pid); err != nil && !errors.Is(err, domain.ErrRoomClosed) {
				return err
			}
			removedLive = true
		}
	}

	err := s.participants.Leave(ctx, code, pid)
	if errors.Is(err, domain.ErrNotInRoom) && removedLive {
		err = nil
	}
	if err != nil {
		return err
	}
	if rest, lerr := s.participants.ListByRoom(ctx, code); lerr == nil && len(rest) == 0 {
		s.dir.Evict(code)
	}
	return nil
}

// ListRooms returns the rooms pid is a member of.
func (s *MemberService) ListRooms(ctx context.Context, pid domain.ParticipantID) ([]domain.Room, error) {
	if strings.TrimSpace(string(pid)) == "" {
		return nil, domain.ErrInvalidParticipant
	}
	return s.participants.ListByParticipant(ctx, pid)
}

// ListParticipants returns durable members with the live online flag.
func (s *MemberService) ListParticipants(ctx context.Context, code string) ([]domain.Participant, error) {
	if _, err := s.rooms.GetByCode(ctx, code); err != nil {
		return nil, err
	}
	list, err := s.participants.ListByRoom(ctx, code)
	if err != nil {
		return nil, err
	}

	sess, ok := s.dir.Lookup(code)
	if !ok {
		return list, nil
	}
	live, err := sess.Participants(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrRoomClosed) {
			return list, nil
		}
		return nil, err
	}

	byID := make(map[domain.ParticipantID]domain.Participant, len(live))
	for _, p := range live {
		byID[p.ID] = p
	}
	for i := range list {
		if p, ok := byID[list[i].ID]; ok {
			list[i].Online = p.Online
			list[i].ConnID = p.ConnID
			delete(byID, list[i].ID)
		}
	}
	// live-only members whose durable row is not written yet
	extra := make([]domain.Participant, 0, len(byID))
	for _, p := range byID {
		extra = append(extra, p)
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].JoinedAt.Before(extra[j].JoinedAt) })
	return append(list, extra...), nil
}

func (s *MemberService) TouchHeartbeat(ctx context.Context, code string, pid domain.ParticipantID) error {
	return s.participants.TouchHeartbeat(ctx, code, pid)
}

// CodeOf reads a participant's live code slot.
func (s *MemberService) CodeOf(ctx context.Context, code string, pid domain.ParticipantID) (string, error) {
	sess, err := s.dir.Resolve(ctx, code)
	if err != nil {
		return "", err
	}
	src, ok, err := sess.CodeOf(ctx, pid)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrNotInRoom
	}
	return src, nil
}
