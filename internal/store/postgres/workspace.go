package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatops/taskline/internal/domain"
)

type WorkspaceRepo struct {
	pool *pgxpool.Pool
}

func NewWorkspaceRepo(pool *pgxpool.Pool) *WorkspaceRepo {
	return &WorkspaceRepo{pool: pool}
}

func (r *WorkspaceRepo) Create(ctx context.Context, w *domain.Workspace) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO workspaces (id, chat_id, title, owner_user_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		w.ID, w.ChatID, w.Title, w.OwnerUserID, w.Status, w.CreatedAt, w.UpdatedAt,
	)
	if isUniqueViolation(err) {
		// Documented race: a concurrent call bound this chat first.
		return fmt.Errorf("workspaceRepo.Create: chat %d: %w", w.ChatID, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("workspaceRepo.Create: %w", err)
	}

	return nil
}

func (r *WorkspaceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Workspace, error) {
	w, err := scanWorkspace(r.pool.QueryRow(ctx,
		`SELECT id, chat_id, title, owner_user_id, status, created_at, updated_at
		 FROM workspaces WHERE id = $1`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("workspaceRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("workspaceRepo.GetByID: %w", err)
	}

	return w, nil
}

func (r *WorkspaceRepo) GetByChatID(ctx context.Context, chatID int64) (*domain.Workspace, error) {
	w, err := scanWorkspace(r.pool.QueryRow(ctx,
		`SELECT id, chat_id, title, owner_user_id, status, created_at, updated_at
		 FROM workspaces WHERE chat_id = $1 AND status = $2`,
		chatID, domain.WorkspaceStatusActive,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("workspaceRepo.GetByChatID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("workspaceRepo.GetByChatID: %w", err)
	}

	return w, nil
}

func (r *WorkspaceRepo) SetOwner(ctx context.Context, id uuid.UUID, ownerUserID int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE workspaces SET owner_user_id = $1, updated_at = now() WHERE id = $2`,
		ownerUserID, id,
	)
	if err != nil {
		return fmt.Errorf("workspaceRepo.SetOwner: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workspaceRepo.SetOwner: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *WorkspaceRepo) Archive(ctx context.Context, id uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("workspaceRepo.Archive: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE workspaces SET status = $1, updated_at = now() WHERE id = $2`,
		domain.WorkspaceStatusArchived, id,
	)
	if err != nil {
		return fmt.Errorf("workspaceRepo.Archive: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workspaceRepo.Archive: %w", domain.ErrNotFound)
	}

	// Archival cascades to memberships; rows are retained so historical
	// task references keep resolving.
	_, err = tx.Exec(ctx,
		`UPDATE workspace_members SET status = $1, last_seen_at = now()
		 WHERE workspace_id = $2 AND status = $3`,
		domain.MemberStatusRemoved, id, domain.MemberStatusActive,
	)
	if err != nil {
		return fmt.Errorf("workspaceRepo.Archive: members: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("workspaceRepo.Archive: commit: %w", err)
	}

	return nil
}

func (r *WorkspaceRepo) ListActive(ctx context.Context, limit int) ([]*domain.Workspace, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, chat_id, title, owner_user_id, status, created_at, updated_at
		 FROM workspaces WHERE status = $1
		 ORDER BY created_at
		 LIMIT $2`,
		domain.WorkspaceStatusActive, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("workspaceRepo.ListActive: %w", err)
	}
	defer rows.Close()

	var out []*domain.Workspace
	for rows.Next() {
		w, scanErr := scanWorkspace(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("workspaceRepo.ListActive: scan: %w", scanErr)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workspaceRepo.ListActive: rows: %w", err)
	}

	return out, nil
}

func scanWorkspace(row pgx.Row) (*domain.Workspace, error) {
	var w domain.Workspace
	err := row.Scan(&w.ID, &w.ChatID, &w.Title, &w.OwnerUserID, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &w, nil
}
