package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatops/taskline/internal/domain"
)

type DraftRepo struct {
	pool *pgxpool.Pool
}

func NewDraftRepo(pool *pgxpool.Pool) *DraftRepo {
	return &DraftRepo{pool: pool}
}

const draftColumns = `id, token, status, step, created_task_id, workspace_id,
	source_chat_id, source_message_id, source_text, source_link,
	creator_user_id, assignee_user_id, priority, deadline_at, created_at, updated_at`

func (r *DraftRepo) Create(ctx context.Context, d *domain.TaskDraft) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO task_drafts (`+draftColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		d.ID, d.Token, d.Status, d.Step, d.CreatedTaskID, d.WorkspaceID,
		d.SourceChatID, d.SourceMessageID, d.SourceText, d.SourceLink,
		d.CreatorUserID, d.AssigneeUserID, d.Priority, d.DeadlineAt, d.CreatedAt, d.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("draftRepo.Create: token: %w", domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("draftRepo.Create: %w", err)
	}

	return nil
}

func (r *DraftRepo) GetByToken(ctx context.Context, token string) (*domain.TaskDraft, error) {
	d, err := scanDraft(r.pool.QueryRow(ctx,
		`SELECT `+draftColumns+` FROM task_drafts WHERE token = $1`,
		token,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("draftRepo.GetByToken: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("draftRepo.GetByToken: %w", err)
	}

	return d, nil
}

func (r *DraftRepo) Update(ctx context.Context, d *domain.TaskDraft) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE task_drafts SET
			status = $1, step = $2, created_task_id = $3, workspace_id = $4,
			source_text = $5, source_link = $6,
			assignee_user_id = $7, priority = $8, deadline_at = $9, updated_at = $10
		 WHERE id = $11`,
		d.Status, d.Step, d.CreatedTaskID, d.WorkspaceID,
		d.SourceText, d.SourceLink,
		d.AssigneeUserID, d.Priority, d.DeadlineAt, d.UpdatedAt,
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("draftRepo.Update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("draftRepo.Update: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *DraftRepo) FindPendingBySource(ctx context.Context, chatID int64, messageID int, creatorUserID int64) (*domain.TaskDraft, error) {
	d, err := scanDraft(r.pool.QueryRow(ctx,
		`SELECT `+draftColumns+` FROM task_drafts
		 WHERE status = $1 AND source_chat_id = $2 AND source_message_id = $3 AND creator_user_id = $4
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		domain.DraftStatusPending, chatID, messageID, creatorUserID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("draftRepo.FindPendingBySource: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("draftRepo.FindPendingBySource: %w", err)
	}

	return d, nil
}

func (r *DraftRepo) FindPendingByStep(ctx context.Context, creatorUserID int64, step domain.DraftStep) (*domain.TaskDraft, error) {
	// The most recently updated match wins, so a newly started draft
	// supersedes any dangling older one.
	d, err := scanDraft(r.pool.QueryRow(ctx,
		`SELECT `+draftColumns+` FROM task_drafts
		 WHERE status = $1 AND creator_user_id = $2 AND step = $3
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		domain.DraftStatusPending, creatorUserID, step,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("draftRepo.FindPendingByStep: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("draftRepo.FindPendingByStep: %w", err)
	}

	return d, nil
}

func scanDraft(row pgx.Row) (*domain.TaskDraft, error) {
	var d domain.TaskDraft
	err := row.Scan(
		&d.ID, &d.Token, &d.Status, &d.Step, &d.CreatedTaskID, &d.WorkspaceID,
		&d.SourceChatID, &d.SourceMessageID, &d.SourceText, &d.SourceLink,
		&d.CreatorUserID, &d.AssigneeUserID, &d.Priority, &d.DeadlineAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &d, nil
}
