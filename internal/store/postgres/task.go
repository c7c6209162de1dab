package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatops/taskline/internal/domain"
)

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `id, draft_id, workspace_id, source_chat_id, source_message_id,
	source_text, source_link, creator_user_id, assignee_user_id, priority,
	deadline_at, status, submitted_for_review_at,
	last_return_comment, last_return_at, last_return_by_user_id,
	created_at, updated_at`

func (r *TaskRepo) CreateFromDraft(ctx context.Context, d *domain.TaskDraft, now time.Time) (*domain.DraftFinalization, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("taskRepo.CreateFromDraft: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock and re-read the draft row: the caller's copy may be stale
	// under a concurrent finalize of the same token.
	stored, err := scanDraft(tx.QueryRow(ctx,
		`SELECT `+draftColumns+` FROM task_drafts WHERE id = $1 FOR UPDATE`,
		d.ID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("taskRepo.CreateFromDraft: draft: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("taskRepo.CreateFromDraft: draft: %w", err)
	}

	if stored.Status == domain.DraftStatusFinal && stored.CreatedTaskID != nil {
		t, getErr := scanTask(tx.QueryRow(ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, *stored.CreatedTaskID,
		))
		if getErr != nil {
			return nil, fmt.Errorf("taskRepo.CreateFromDraft: winner: %w", getErr)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("taskRepo.CreateFromDraft: commit: %w", err)
		}

		return &domain.DraftFinalization{Task: t}, nil
	}

	// A task may already exist for the same source message via a
	// different draft; collapse to that winner.
	if stored.HasSource() {
		winner, getErr := scanTask(tx.QueryRow(ctx,
			`SELECT `+taskColumns+` FROM tasks
			 WHERE source_chat_id = $1 AND source_message_id = $2`,
			stored.SourceChatID, stored.SourceMessageID,
		))
		if getErr != nil && !errors.Is(getErr, pgx.ErrNoRows) {
			return nil, fmt.Errorf("taskRepo.CreateFromDraft: source: %w", getErr)
		}
		if getErr == nil {
			if err := finalizeDraftTx(ctx, tx, stored.ID, winner.ID, now); err != nil {
				return nil, err
			}
			if err := tx.Commit(ctx); err != nil {
				return nil, fmt.Errorf("taskRepo.CreateFromDraft: commit: %w", err)
			}

			return &domain.DraftFinalization{Task: winner}, nil
		}
	}

	if stored.AssigneeUserID == nil || stored.Priority == nil {
		return nil, fmt.Errorf("taskRepo.CreateFromDraft: draft %s incomplete", stored.ID)
	}

	t := &domain.Task{
		ID:              uuid.New(),
		DraftID:         &stored.ID,
		WorkspaceID:     stored.WorkspaceID,
		SourceChatID:    stored.SourceChatID,
		SourceMessageID: stored.SourceMessageID,
		SourceText:      stored.SourceText,
		SourceLink:      stored.SourceLink,
		CreatorUserID:   stored.CreatorUserID,
		AssigneeUserID:  *stored.AssigneeUserID,
		Priority:        *stored.Priority,
		DeadlineAt:      stored.DeadlineAt,
		Status:          domain.TaskStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// The partial unique index on (source_chat_id, source_message_id)
	// arbitrates racing finalizes from different drafts; DO NOTHING keeps
	// the transaction alive so the loser can read the winner and still
	// finalize.
	tag, err := tx.Exec(ctx,
		`INSERT INTO tasks (`+taskColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 ON CONFLICT (source_chat_id, source_message_id) WHERE source_message_id <> 0 DO NOTHING`,
		t.ID, t.DraftID, t.WorkspaceID, t.SourceChatID, t.SourceMessageID,
		t.SourceText, t.SourceLink, t.CreatorUserID, t.AssigneeUserID, t.Priority,
		t.DeadlineAt, t.Status, t.SubmittedForReviewAt,
		t.LastReturnComment, t.LastReturnAt, t.LastReturnByUserID,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("taskRepo.CreateFromDraft: insert: %w", err)
	}

	created := tag.RowsAffected() > 0
	if !created {
		t, err = scanTask(tx.QueryRow(ctx,
			`SELECT `+taskColumns+` FROM tasks
			 WHERE source_chat_id = $1 AND source_message_id = $2`,
			stored.SourceChatID, stored.SourceMessageID,
		))
		if err != nil {
			return nil, fmt.Errorf("taskRepo.CreateFromDraft: winner: %w", err)
		}
	}

	if err := finalizeDraftTx(ctx, tx, stored.ID, t.ID, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("taskRepo.CreateFromDraft: commit: %w", err)
	}

	return &domain.DraftFinalization{Task: t, Created: created}, nil
}

func finalizeDraftTx(ctx context.Context, tx pgx.Tx, draftID, taskID uuid.UUID, now time.Time) error {
	_, err := tx.Exec(ctx,
		`UPDATE task_drafts SET status = $1, step = $2, created_task_id = $3, updated_at = $4 WHERE id = $5`,
		domain.DraftStatusFinal, domain.StepFinal, taskID, now, draftID,
	)
	if err != nil {
		return fmt.Errorf("taskRepo.CreateFromDraft: finalize draft: %w", err)
	}

	return nil
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	t, err := scanTask(r.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("taskRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("taskRepo.GetByID: %w", err)
	}

	return t, nil
}

func (r *TaskRepo) GetBySource(ctx context.Context, chatID int64, messageID int) (*domain.Task, error) {
	t, err := scanTask(r.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE source_chat_id = $1 AND source_message_id = $2`,
		chatID, messageID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("taskRepo.GetBySource: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("taskRepo.GetBySource: %w", err)
	}

	return t, nil
}

func (r *TaskRepo) SubmitForReview(ctx context.Context, taskID uuid.UUID, actorUserID int64, nonce string, now time.Time) (*domain.TransitionResult, error) {
	return r.transition(ctx, "SubmitForReview", taskID, func(ctx context.Context, tx pgx.Tx, t *domain.Task) (*domain.TransitionResult, error) {
		member, err := isActiveMember(ctx, tx, t.WorkspaceID, actorUserID)
		if err != nil {
			return nil, err
		}
		if !member {
			return &domain.TransitionResult{Status: domain.TransitionNotInWorkspace, Task: t}, nil
		}
		if t.AssigneeUserID != actorUserID {
			return &domain.TransitionResult{Status: domain.TransitionNotAssignee, Task: t}, nil
		}

		if replay, err := nonceReplay(ctx, tx, nonce, taskID); err != nil {
			return nil, err
		} else if replay {
			return &domain.TransitionResult{Status: domain.TransitionOK, Task: t}, nil
		}

		if t.Status != domain.TaskStatusActive {
			// Already on review or closed: nothing to do, report current state.
			return &domain.TransitionResult{Status: domain.TransitionOK, Task: t}, nil
		}

		if t.CreatorUserID == actorUserID && t.AssigneeUserID == actorUserID {
			t.Status = domain.TaskStatusClosed
		} else {
			t.Status = domain.TaskStatusOnReview
		}
		t.SubmittedForReviewAt = &now
		t.UpdatedAt = now

		_, err = tx.Exec(ctx,
			`UPDATE tasks SET status = $1, submitted_for_review_at = $2, updated_at = $3 WHERE id = $4`,
			t.Status, t.SubmittedForReviewAt, t.UpdatedAt, t.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("update: %w", err)
		}
		if err := recordAction(ctx, tx, taskID, actorUserID, domain.ActionSubmitForReview, nonce, now); err != nil {
			return nil, err
		}

		return &domain.TransitionResult{Status: domain.TransitionOK, Changed: true, Task: t}, nil
	})
}

func (r *TaskRepo) AcceptReview(ctx context.Context, taskID uuid.UUID, actorUserID int64, nonce string, now time.Time) (*domain.TransitionResult, error) {
	return r.transition(ctx, "AcceptReview", taskID, func(ctx context.Context, tx pgx.Tx, t *domain.Task) (*domain.TransitionResult, error) {
		owner, err := ownerOf(ctx, tx, t)
		if err != nil {
			return nil, err
		}
		if owner != actorUserID {
			return &domain.TransitionResult{Status: domain.TransitionForbidden, Task: t}, nil
		}

		if replay, err := nonceReplay(ctx, tx, nonce, taskID); err != nil {
			return nil, err
		} else if replay {
			return &domain.TransitionResult{Status: domain.TransitionOK, Task: t}, nil
		}

		if t.Status != domain.TaskStatusOnReview {
			// Accepting a task not on review is a no-op success, never an
			// error: a double click racing an applied accept must not fail.
			return &domain.TransitionResult{Status: domain.TransitionOK, Task: t}, nil
		}

		t.Status = domain.TaskStatusClosed
		t.UpdatedAt = now

		_, err = tx.Exec(ctx,
			`UPDATE tasks SET status = $1, updated_at = $2 WHERE id = $3`,
			t.Status, t.UpdatedAt, t.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("update: %w", err)
		}
		if err := recordAction(ctx, tx, taskID, actorUserID, domain.ActionAcceptReview, nonce, now); err != nil {
			return nil, err
		}

		return &domain.TransitionResult{Status: domain.TransitionOK, Changed: true, Task: t}, nil
	})
}

func (r *TaskRepo) ReturnToWork(ctx context.Context, taskID uuid.UUID, actorUserID int64, comment, nonce string, now time.Time) (*domain.TransitionResult, error) {
	return r.transition(ctx, "ReturnToWork", taskID, func(ctx context.Context, tx pgx.Tx, t *domain.Task) (*domain.TransitionResult, error) {
		owner, err := ownerOf(ctx, tx, t)
		if err != nil {
			return nil, err
		}
		if owner != actorUserID {
			return &domain.TransitionResult{Status: domain.TransitionForbidden, Task: t}, nil
		}

		if replay, err := nonceReplay(ctx, tx, nonce, taskID); err != nil {
			return nil, err
		} else if replay {
			return &domain.TransitionResult{Status: domain.TransitionOK, Task: t}, nil
		}

		if t.Status != domain.TaskStatusOnReview {
			return &domain.TransitionResult{Status: domain.TransitionOK, Task: t}, nil
		}

		t.Status = domain.TaskStatusActive
		t.LastReturnComment = comment
		t.LastReturnAt = &now
		t.LastReturnByUserID = &actorUserID
		t.UpdatedAt = now

		_, err = tx.Exec(ctx,
			`UPDATE tasks SET status = $1, last_return_comment = $2, last_return_at = $3,
				last_return_by_user_id = $4, updated_at = $5
			 WHERE id = $6`,
			t.Status, t.LastReturnComment, t.LastReturnAt, t.LastReturnByUserID, t.UpdatedAt, t.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("update: %w", err)
		}
		if err := recordAction(ctx, tx, taskID, actorUserID, domain.ActionReturnToWork, nonce, now); err != nil {
			return nil, err
		}

		return &domain.TransitionResult{Status: domain.TransitionOK, Changed: true, Task: t}, nil
	})
}

func (r *TaskRepo) Reassign(ctx context.Context, taskID uuid.UUID, actorUserID, newAssigneeID int64, nonce string, now time.Time) (*domain.TransitionResult, error) {
	return r.transition(ctx, "Reassign", taskID, func(ctx context.Context, tx pgx.Tx, t *domain.Task) (*domain.TransitionResult, error) {
		owner, err := ownerOf(ctx, tx, t)
		if err != nil {
			return nil, err
		}
		if owner != actorUserID {
			return &domain.TransitionResult{Status: domain.TransitionForbidden, Task: t}, nil
		}
		if t.Status == domain.TaskStatusClosed {
			return &domain.TransitionResult{Status: domain.TransitionTaskClosed, Task: t}, nil
		}

		if replay, err := nonceReplay(ctx, tx, nonce, taskID); err != nil {
			return nil, err
		} else if replay {
			return &domain.TransitionResult{Status: domain.TransitionOK, Task: t}, nil
		}

		if newAssigneeID == t.AssigneeUserID {
			return &domain.TransitionResult{Status: domain.TransitionOK, Task: t}, nil
		}

		member, err := isActiveMember(ctx, tx, t.WorkspaceID, newAssigneeID)
		if err != nil {
			return nil, err
		}
		if !member {
			return &domain.TransitionResult{Status: domain.TransitionInvalidAssignee, Task: t}, nil
		}

		prev := t.AssigneeUserID
		t.AssigneeUserID = newAssigneeID
		t.UpdatedAt = now

		_, err = tx.Exec(ctx,
			`UPDATE tasks SET assignee_user_id = $1, updated_at = $2 WHERE id = $3`,
			t.AssigneeUserID, t.UpdatedAt, t.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("update: %w", err)
		}
		if err := recordAction(ctx, tx, taskID, actorUserID, domain.ActionReassign, nonce, now); err != nil {
			return nil, err
		}

		return &domain.TransitionResult{
			Status:             domain.TransitionOK,
			Changed:            true,
			Task:               t,
			PreviousAssigneeID: prev,
		}, nil
	})
}

// transition runs fn under a row lock on the task so concurrent duplicate
// callbacks serialize: the second caller observes the first one's writes.
func (r *TaskRepo) transition(
	ctx context.Context,
	op string,
	taskID uuid.UUID,
	fn func(ctx context.Context, tx pgx.Tx, t *domain.Task) (*domain.TransitionResult, error),
) (*domain.TransitionResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("taskRepo.%s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	t, err := scanTask(tx.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`,
		taskID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return &domain.TransitionResult{Status: domain.TransitionNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("taskRepo.%s: lock: %w", op, err)
	}

	res, err := fn(ctx, tx, t)
	if err != nil {
		return nil, fmt.Errorf("taskRepo.%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("taskRepo.%s: commit: %w", op, err)
	}

	return res, nil
}

func (r *TaskRepo) ListAssigned(ctx context.Context, workspaceID uuid.UUID, userID int64, limit int) ([]*domain.Task, error) {
	return r.list(ctx, "ListAssigned",
		`SELECT `+taskColumns+` FROM tasks
		 WHERE workspace_id = $1 AND assignee_user_id = $2 AND status <> $3
		 LIMIT $4`,
		workspaceID, userID, domain.TaskStatusClosed, limit,
	)
}

func (r *TaskRepo) ListCreated(ctx context.Context, workspaceID uuid.UUID, userID int64, limit int) ([]*domain.Task, error) {
	return r.list(ctx, "ListCreated",
		`SELECT `+taskColumns+` FROM tasks
		 WHERE workspace_id = $1 AND creator_user_id = $2 AND status <> $3
		 LIMIT $4`,
		workspaceID, userID, domain.TaskStatusClosed, limit,
	)
}

func (r *TaskRepo) ListOnReview(ctx context.Context, workspaceID uuid.UUID, limit int) ([]*domain.Task, error) {
	return r.list(ctx, "ListOnReview",
		`SELECT `+taskColumns+` FROM tasks
		 WHERE workspace_id = $1 AND status = $2
		 LIMIT $3`,
		workspaceID, domain.TaskStatusOnReview, limit,
	)
}

func (r *TaskRepo) ListOverdue(ctx context.Context, workspaceID uuid.UUID, now time.Time, limit int) ([]*domain.Task, error) {
	return r.list(ctx, "ListOverdue",
		`SELECT `+taskColumns+` FROM tasks
		 WHERE workspace_id = $1 AND status <> $2 AND deadline_at IS NOT NULL AND deadline_at < $3
		 LIMIT $4`,
		workspaceID, domain.TaskStatusClosed, now, limit,
	)
}

func (r *TaskRepo) list(ctx context.Context, op, query string, args ...any) ([]*domain.Task, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("taskRepo.%s: %w", op, err)
	}
	defer rows.Close()

	var out []*domain.Task
	for rows.Next() {
		t, scanErr := scanTask(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("taskRepo.%s: scan: %w", op, scanErr)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("taskRepo.%s: rows: %w", op, err)
	}

	return out, nil
}

// ownerOf resolves who may review a task: the workspace owner, or the
// creator for tasks without a workspace.
func ownerOf(ctx context.Context, tx pgx.Tx, t *domain.Task) (int64, error) {
	if t.WorkspaceID == nil {
		return t.CreatorUserID, nil
	}

	var owner *int64
	err := tx.QueryRow(ctx,
		`SELECT owner_user_id FROM workspaces WHERE id = $1`, *t.WorkspaceID,
	).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && owner == nil) {
		return t.CreatorUserID, nil
	}
	if err != nil {
		return 0, fmt.Errorf("owner: %w", err)
	}

	return *owner, nil
}

// isActiveMember reports workspace membership; tasks without a workspace
// skip the check.
func isActiveMember(ctx context.Context, tx pgx.Tx, workspaceID *uuid.UUID, userID int64) (bool, error) {
	if workspaceID == nil {
		return true, nil
	}

	var ok bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM workspace_members
			WHERE workspace_id = $1 AND user_id = $2 AND status = $3
		 )`,
		*workspaceID, userID, domain.MemberStatusActive,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("membership: %w", err)
	}

	return ok, nil
}

// nonceReplay reports whether the nonce was already recorded for this
// task. The same nonce against a different task is a client bug and
// surfaces as a conflict fault.
func nonceReplay(ctx context.Context, tx pgx.Tx, nonce string, taskID uuid.UUID) (bool, error) {
	var recordedTaskID uuid.UUID
	err := tx.QueryRow(ctx,
		`SELECT task_id FROM task_actions WHERE nonce = $1`, nonce,
	).Scan(&recordedTaskID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("nonce: %w", err)
	}
	if recordedTaskID != taskID {
		return false, fmt.Errorf("nonce %q: %w", nonce, domain.ErrConflict)
	}

	return true, nil
}

// recordAction writes the idempotency ledger row. Exactly one row exists
// per applied transition.
func recordAction(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, actorUserID int64, typ domain.ActionType, nonce string, now time.Time) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO task_actions (id, task_id, actor_user_id, type, nonce, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), taskID, actorUserID, typ, nonce, now,
	)
	if err != nil {
		return fmt.Errorf("record action: %w", err)
	}

	return nil
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var t domain.Task
	err := row.Scan(
		&t.ID, &t.DraftID, &t.WorkspaceID, &t.SourceChatID, &t.SourceMessageID,
		&t.SourceText, &t.SourceLink, &t.CreatorUserID, &t.AssigneeUserID, &t.Priority,
		&t.DeadlineAt, &t.Status, &t.SubmittedForReviewAt,
		&t.LastReturnComment, &t.LastReturnAt, &t.LastReturnByUserID,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &t, nil
}
