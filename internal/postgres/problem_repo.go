package postgres

import (
	"context"
	"errors"

	"github.com/cwrk-planet/coderoom/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ProblemRepository struct {
	db *pgxpool.Pool
}

func NewProblemRepository(db *pgxpool.Pool) *ProblemRepository {
	return &ProblemRepository{db: db}
}

func (r *ProblemRepository) Get(ctx context.Context, id int64) (*domain.Problem, error) {
	var p domain.Problem
	err := r.db.QueryRow(ctx,
		`SELECT id, title, description, difficulty, sample_input, sample_output FROM problems WHERE id=$1`, id).
		Scan(&p.ID, &p.Title, &p.Description, &p.Difficulty, &p.SampleInput, &p.SampleOutput)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProblemNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Create is used to seed problems.
func (r *ProblemRepository) Create(ctx context.Context, p *domain.Problem) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO problems (title, description, difficulty, sample_input, sample_output)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, p.Title, p.Description, p.Difficulty, p.SampleInput, p.SampleOutput).Scan(&p.ID)
}
