package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cwrk-planet/coderoom/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

type SubmissionRepository struct {
	db *pgxpool.Pool
}

func NewSubmissionRepository(db *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Save inserts sub and fills its ID and CreatedAt.
func (r *SubmissionRepository) Save(ctx context.Context, sub *domain.Submission) error {
	tcs, err := json.Marshal(nonNilCases(sub.TestCaseResults))
	if err != nil {
		return fmt.Errorf("encode test cases: %w", err)
	}
	return r.db.QueryRow(ctx, `
		INSERT INTO room_submissions (
			room_code, problem_id, participant_id, code, language, passed,
			overall_status, execution_time, memory_usage, error_message, test_case_results
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`, sub.RoomCode, sub.ProblemID, string(sub.ParticipantID), sub.Code, sub.Language, sub.Passed,
		sub.OverallStatus, sub.ExecutionTime, sub.MemoryUsage, sub.ErrorMessage, tcs,
	).Scan(&sub.ID, &sub.CreatedAt)
}

// ListByRoom pages through a room's submissions, newest first (created_at,id DESC).
func (r *SubmissionRepository) ListByRoom(ctx context.Context, roomCode, after string, limit int) ([]domain.Submission, string, error) {
	limit = PageSize(limit)
	cur, err := DecodeCursor(after)
	if err != nil {
		return nil, "", err
	}

	const query = `
		SELECT id, room_code, problem_id, participant_id, code, language, passed,
		       overall_status, execution_time, memory_usage, error_message,
		       test_case_results, created_at
		FROM room_submissions
		WHERE room_code = $1
		  AND (
		    $2::timestamptz IS NULL
		    OR created_at < $2
		    OR (created_at = $2 AND id < $3)
		  )
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`

	var createdAt any
	var id any
	if cur != nil {
		createdAt = cur.CreatedAt
		id = cur.ID
	}

	rows, err := r.db.Query(ctx, query, roomCode, createdAt, id, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	out := make([]domain.Submission, 0, limit)
	for rows.Next() {
		var (
			s   domain.Submission
			pid string
			tcs []byte
		)
		if err := rows.Scan(&s.ID, &s.RoomCode, &s.ProblemID, &pid, &s.Code, &s.Language, &s.Passed,
			&s.OverallStatus, &s.ExecutionTime, &s.MemoryUsage, &s.ErrorMessage, &tcs, &s.CreatedAt); err != nil {
			return nil, "", err
		}
		s.ParticipantID = domain.ParticipantID(pid)
		if err := json.Unmarshal(tcs, &s.TestCaseResults); err != nil {
			return nil, "", fmt.Errorf("decode test cases of %d: %w", s.ID, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	var next string
	if len(out) == limit {
		last := out[len(out)-1]
		if c, e := EncodeCursor(Cursor{CreatedAt: last.CreatedAt, ID: last.ID}); e == nil {
			next = c
		}
	}
	return out, next, nil
}

func nonNilCases(in []domain.TestCaseResult) []domain.TestCaseResult {
	if in == nil {
		return []domain.TestCaseResult{}
	}
	return in
}
