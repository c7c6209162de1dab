package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatops/taskline/internal/domain"
)

type CaptureRepo struct {
	pool *pgxpool.Pool
}

func NewCaptureRepo(pool *pgxpool.Pool) *CaptureRepo {
	return &CaptureRepo{pool: pool}
}

func (r *CaptureRepo) Set(ctx context.Context, c *domain.PendingCapture) error {
	// One live capture per user; a new one supersedes the old.
	_, err := r.pool.Exec(ctx,
		`INSERT INTO pending_captures (user_id, kind, draft_id, task_id, nonce, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			draft_id = EXCLUDED.draft_id,
			task_id = EXCLUDED.task_id,
			nonce = EXCLUDED.nonce,
			updated_at = EXCLUDED.updated_at`,
		c.UserID, c.Kind, c.DraftID, c.TaskID, c.Nonce, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("captureRepo.Set: %w", err)
	}

	return nil
}

func (r *CaptureRepo) Get(ctx context.Context, userID int64) (*domain.PendingCapture, error) {
	var c domain.PendingCapture
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, kind, draft_id, task_id, nonce, updated_at
		 FROM pending_captures WHERE user_id = $1`,
		userID,
	).Scan(&c.UserID, &c.Kind, &c.DraftID, &c.TaskID, &c.Nonce, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("captureRepo.Get: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("captureRepo.Get: %w", err)
	}

	return &c, nil
}

func (r *CaptureRepo) Clear(ctx context.Context, userID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM pending_captures WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("captureRepo.Clear: %w", err)
	}

	return nil
}
