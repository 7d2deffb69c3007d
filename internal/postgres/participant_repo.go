package postgres

import (
	"context"

	"github.com/cwrk-planet/coderoom/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

type ParticipantRepository struct {
	db *pgxpool.Pool
}

func NewParticipantRepository(db *pgxpool.Pool) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

// Join records the membership; a repeated join only refreshes last_seen.
func (r *ParticipantRepository) Join(ctx context.Context, roomCode string, pid domain.ParticipantID) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO room_participants (room_code, participant_id)
		VALUES ($1, $2)
		ON CONFLICT (room_code, participant_id) DO UPDATE SET last_seen = now()
	`, roomCode, string(pid))
	return err
}

func (r *ParticipantRepository) Leave(ctx context.Context, roomCode string, pid domain.ParticipantID) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM room_participants WHERE room_code=$1 AND participant_id=$2`, roomCode, string(pid))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotInRoom
	}
	return nil
}

func (r *ParticipantRepository) ListByRoom(ctx context.Context, roomCode string) ([]domain.Participant, error) {
	rows, err := r.db.Query(ctx,
		`SELECT room_code, participant_id, joined_at, last_seen FROM room_participants WHERE room_code=$1 ORDER BY joined_at ASC`,
		roomCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []domain.Participant
	for rows.Next() {
		var (
			p   domain.Participant
			pid string
		)
		if err := rows.Scan(&p.RoomCode, &pid, &p.JoinedAt, &p.LastSeen); err != nil {
			return nil, err
		}
		p.ID = domain.ParticipantID(pid)
		list = append(list, p)
	}
	return list, rows.Err()
}

// ListByParticipant returns the rooms pid belongs to, oldest membership first.
func (r *ParticipantRepository) ListByParticipant(ctx context.Context, pid domain.ParticipantID) ([]domain.Room, error) {
	rows, err := r.db.Query(ctx, `
		SELECT r.code, r.problem_id, r.owner_id, r.language, r.created_at
		FROM room_participants p
		JOIN rooms r ON r.code = p.room_code
		WHERE p.participant_id=$1
		ORDER BY p.joined_at ASC
	`, string(pid))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []domain.Room
	for rows.Next() {
		var rm domain.Room
		if err := rows.Scan(&rm.Code, &rm.ProblemID, &rm.OwnerID, &rm.Language, &rm.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, rm)
	}
	return list, rows.Err()
}

func (r *ParticipantRepository) TouchHeartbeat(ctx context.Context, roomCode string, pid domain.ParticipantID) error {
	cmd, err := r.db.Exec(ctx,
		`UPDATE room_participants SET last_seen=now() WHERE room_code=$1 AND participant_id=$2`,
		roomCode, string(pid))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotInRoom
	}
	return nil
}
