package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatops/taskline/internal/domain"
)

type InviteRepo struct {
	pool *pgxpool.Pool
}

func NewInviteRepo(pool *pgxpool.Pool) *InviteRepo {
	return &InviteRepo{pool: pool}
}

func (r *InviteRepo) Create(ctx context.Context, inv *domain.WorkspaceInvite) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO workspace_invites (id, token, workspace_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		inv.ID, inv.Token, inv.WorkspaceID, inv.ExpiresAt, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inviteRepo.Create: %w", err)
	}

	return nil
}

func (r *InviteRepo) FindValidByToken(ctx context.Context, token string, now time.Time) (*domain.WorkspaceInvite, error) {
	var inv domain.WorkspaceInvite
	err := r.pool.QueryRow(ctx,
		`SELECT id, token, workspace_id, expires_at, created_at
		 FROM workspace_invites
		 WHERE token = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		token, now,
	).Scan(&inv.ID, &inv.Token, &inv.WorkspaceID, &inv.ExpiresAt, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("inviteRepo.FindValidByToken: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("inviteRepo.FindValidByToken: %w", err)
	}

	return &inv, nil
}
