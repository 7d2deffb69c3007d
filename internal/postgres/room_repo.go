package postgres

import (
	"context"
	"errors"

	"github.com/cwrk-planet/coderoom/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type RoomRepository struct {
	db *pgxpool.Pool
}

func NewRoomRepository(db *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{db: db}
}

// Create inserts room. A taken code yields domain.ErrRoomCodeTaken.
func (r *RoomRepository) Create(ctx context.Context, room *domain.Room) error {
	query := `
		INSERT INTO rooms (code, problem_id, owner_id, language)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`
	err := r.db.QueryRow(ctx, query, room.Code, room.ProblemID, room.OwnerID, room.Language).Scan(&room.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrRoomCodeTaken
		}
		return err
	}
	return nil
}

func (r *RoomRepository) GetByCode(ctx context.Context, code string) (*domain.Room, error) {
	var rm domain.Room
	query := `SELECT code, problem_id, owner_id, language, created_at FROM rooms WHERE code=$1`
	err := r.db.QueryRow(ctx, query, code).
		Scan(&rm.Code, &rm.ProblemID, &rm.OwnerID, &rm.Language, &rm.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, err
	}
	return &rm, nil
}

func (r *RoomRepository) Delete(ctx context.Context, code string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM rooms WHERE code=$1`, code)
	return err
}
