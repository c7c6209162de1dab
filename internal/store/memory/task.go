package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chatops/taskline/internal/domain"
)

type taskRepo struct {
	s *Store
}

func (r *taskRepo) CreateFromDraft(_ context.Context, d *domain.TaskDraft, now time.Time) (*domain.DraftFinalization, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	// Re-read the stored draft: the caller's copy may be stale under a
	// concurrent finalize.
	stored, ok := r.s.drafts[d.ID]
	if !ok {
		return nil, fmt.Errorf("memTaskRepo.CreateFromDraft: draft: %w", domain.ErrNotFound)
	}

	if stored.Status == domain.DraftStatusFinal && stored.CreatedTaskID != nil {
		return &domain.DraftFinalization{Task: cloneTask(r.s.tasks[*stored.CreatedTaskID])}, nil
	}

	// A task may already exist for the same source message via a
	// different draft; collapse to that winner.
	if stored.HasSource() {
		if id, exists := r.s.taskBySource[sourceKey{chatID: stored.SourceChatID, messageID: stored.SourceMessageID}]; exists {
			winner := r.s.tasks[id]
			finalizeDraft(stored, winner.ID, now)
			return &domain.DraftFinalization{Task: cloneTask(winner)}, nil
		}
	}

	if stored.AssigneeUserID == nil || stored.Priority == nil {
		return nil, fmt.Errorf("memTaskRepo.CreateFromDraft: draft %s incomplete", stored.ID)
	}

	draftID := stored.ID
	t := &domain.Task{
		ID:              uuid.New(),
		DraftID:         &draftID,
		SourceChatID:    stored.SourceChatID,
		SourceMessageID: stored.SourceMessageID,
		SourceText:      stored.SourceText,
		SourceLink:      stored.SourceLink,
		CreatorUserID:   stored.CreatorUserID,
		AssigneeUserID:  *stored.AssigneeUserID,
		Priority:        *stored.Priority,
		Status:          domain.TaskStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if stored.DeadlineAt != nil {
		dl := *stored.DeadlineAt
		t.DeadlineAt = &dl
	}
	if stored.WorkspaceID != nil {
		ws := *stored.WorkspaceID
		t.WorkspaceID = &ws
	}

	r.s.tasks[t.ID] = t
	if t.SourceMessageID != 0 {
		r.s.taskBySource[sourceKey{chatID: t.SourceChatID, messageID: t.SourceMessageID}] = t.ID
	}
	finalizeDraft(stored, t.ID, now)

	return &domain.DraftFinalization{Task: cloneTask(t), Created: true}, nil
}

func finalizeDraft(d *domain.TaskDraft, taskID uuid.UUID, now time.Time) {
	d.Status = domain.DraftStatusFinal
	d.Step = domain.StepFinal
	d.CreatedTaskID = &taskID
	d.UpdatedAt = now
}

func (r *taskRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("memTaskRepo.GetByID: %w", domain.ErrNotFound)
	}

	return cloneTask(t), nil
}

func (r *taskRepo) GetBySource(_ context.Context, chatID int64, messageID int) (*domain.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.taskBySource[sourceKey{chatID: chatID, messageID: messageID}]
	if !ok {
		return nil, fmt.Errorf("memTaskRepo.GetBySource: %w", domain.ErrNotFound)
	}

	return cloneTask(r.s.tasks[id]), nil
}

func (r *taskRepo) SubmitForReview(_ context.Context, taskID uuid.UUID, actorUserID int64, nonce string, now time.Time) (*domain.TransitionResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.tasks[taskID]
	if !ok {
		return &domain.TransitionResult{Status: domain.TransitionNotFound}, nil
	}

	if !r.s.isActiveMemberLocked(t.WorkspaceID, actorUserID) {
		return &domain.TransitionResult{Status: domain.TransitionNotInWorkspace, Task: cloneTask(t)}, nil
	}
	if t.AssigneeUserID != actorUserID {
		return &domain.TransitionResult{Status: domain.TransitionNotAssignee, Task: cloneTask(t)}, nil
	}

	if replay, err := r.s.nonceReplayLocked(nonce, taskID); err != nil {
		return nil, fmt.Errorf("memTaskRepo.SubmitForReview: %w", err)
	} else if replay {
		return &domain.TransitionResult{Status: domain.TransitionOK, Task: cloneTask(t)}, nil
	}

	if t.Status != domain.TaskStatusActive {
		// Already on review or closed: nothing to do, report current state.
		return &domain.TransitionResult{Status: domain.TransitionOK, Task: cloneTask(t)}, nil
	}

	if t.CreatorUserID == actorUserID && t.AssigneeUserID == actorUserID {
		t.Status = domain.TaskStatusClosed
	} else {
		t.Status = domain.TaskStatusOnReview
	}
	t.SubmittedForReviewAt = &now
	t.UpdatedAt = now
	r.s.recordActionLocked(taskID, actorUserID, domain.ActionSubmitForReview, nonce, now)

	return &domain.TransitionResult{Status: domain.TransitionOK, Changed: true, Task: cloneTask(t)}, nil
}

func (r *taskRepo) AcceptReview(_ context.Context, taskID uuid.UUID, actorUserID int64, nonce string, now time.Time) (*domain.TransitionResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.tasks[taskID]
	if !ok {
		return &domain.TransitionResult{Status: domain.TransitionNotFound}, nil
	}

	if r.s.ownerLocked(t) != actorUserID {
		return &domain.TransitionResult{Status: domain.TransitionForbidden, Task: cloneTask(t)}, nil
	}

	if replay, err := r.s.nonceReplayLocked(nonce, taskID); err != nil {
		return nil, fmt.Errorf("memTaskRepo.AcceptReview: %w", err)
	} else if replay {
		return &domain.TransitionResult{Status: domain.TransitionOK, Task: cloneTask(t)}, nil
	}

	if t.Status != domain.TaskStatusOnReview {
		// Accepting a task not on review is a no-op success, never an
		// error: a double click racing an applied accept must not fail.
		return &domain.TransitionResult{Status: domain.TransitionOK, Task: cloneTask(t)}, nil
	}

	t.Status = domain.TaskStatusClosed
	t.UpdatedAt = now
	r.s.recordActionLocked(taskID, actorUserID, domain.ActionAcceptReview, nonce, now)

	return &domain.TransitionResult{Status: domain.TransitionOK, Changed: true, Task: cloneTask(t)}, nil
}

func (r *taskRepo) ReturnToWork(_ context.Context, taskID uuid.UUID, actorUserID int64, comment, nonce string, now time.Time) (*domain.TransitionResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.tasks[taskID]
	if !ok {
		return &domain.TransitionResult{Status: domain.TransitionNotFound}, nil
	}

	if r.s.ownerLocked(t) != actorUserID {
		return &domain.TransitionResult{Status: domain.TransitionForbidden, Task: cloneTask(t)}, nil
	}

	if replay, err := r.s.nonceReplayLocked(nonce, taskID); err != nil {
		return nil, fmt.Errorf("memTaskRepo.ReturnToWork: %w", err)
	} else if replay {
		return &domain.TransitionResult{Status: domain.TransitionOK, Task: cloneTask(t)}, nil
	}

	if t.Status != domain.TaskStatusOnReview {
		return &domain.TransitionResult{Status: domain.TransitionOK, Task: cloneTask(t)}, nil
	}

	t.Status = domain.TaskStatusActive
	t.LastReturnComment = comment
	t.LastReturnAt = &now
	t.LastReturnByUserID = &actorUserID
	t.UpdatedAt = now
	r.s.recordActionLocked(taskID, actorUserID, domain.ActionReturnToWork, nonce, now)

	return &domain.TransitionResult{Status: domain.TransitionOK, Changed: true, Task: cloneTask(t)}, nil
}

func (r *taskRepo) Reassign(_ context.Context, taskID uuid.UUID, actorUserID, newAssigneeID int64, nonce string, now time.Time) (*domain.TransitionResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.tasks[taskID]
	if !ok {
		return &domain.TransitionResult{Status: domain.TransitionNotFound}, nil
	}

	if r.s.ownerLocked(t) != actorUserID {
		return &domain.TransitionResult{Status: domain.TransitionForbidden, Task: cloneTask(t)}, nil
	}
	if t.Status == domain.TaskStatusClosed {
		return &domain.TransitionResult{Status: domain.TransitionTaskClosed, Task: cloneTask(t)}, nil
	}

	if replay, err := r.s.nonceReplayLocked(nonce, taskID); err != nil {
		return nil, fmt.Errorf("memTaskRepo.Reassign: %w", err)
	} else if replay {
		return &domain.TransitionResult{Status: domain.TransitionOK, Task: cloneTask(t)}, nil
	}

	if newAssigneeID == t.AssigneeUserID {
		return &domain.TransitionResult{Status: domain.TransitionOK, Task: cloneTask(t)}, nil
	}

	if !r.s.isActiveMemberLocked(t.WorkspaceID, newAssigneeID) {
		return &domain.TransitionResult{Status: domain.TransitionInvalidAssignee, Task: cloneTask(t)}, nil
	}

	prev := t.AssigneeUserID
	t.AssigneeUserID = newAssigneeID
	t.UpdatedAt = now
	r.s.recordActionLocked(taskID, actorUserID, domain.ActionReassign, nonce, now)

	return &domain.TransitionResult{
		Status:             domain.TransitionOK,
		Changed:            true,
		Task:               cloneTask(t),
		PreviousAssigneeID: prev,
	}, nil
}

func (r *taskRepo) ListAssigned(_ context.Context, workspaceID uuid.UUID, userID int64, limit int) ([]*domain.Task, error) {
	return r.list(func(t *domain.Task) bool {
		return inWorkspace(t, workspaceID) && t.AssigneeUserID == userID && t.Status != domain.TaskStatusClosed
	}, limit), nil
}

func (r *taskRepo) ListCreated(_ context.Context, workspaceID uuid.UUID, userID int64, limit int) ([]*domain.Task, error) {
	return r.list(func(t *domain.Task) bool {
		return inWorkspace(t, workspaceID) && t.CreatorUserID == userID && t.Status != domain.TaskStatusClosed
	}, limit), nil
}

func (r *taskRepo) ListOnReview(_ context.Context, workspaceID uuid.UUID, limit int) ([]*domain.Task, error) {
	return r.list(func(t *domain.Task) bool {
		return inWorkspace(t, workspaceID) && t.Status == domain.TaskStatusOnReview
	}, limit), nil
}

func (r *taskRepo) ListOverdue(_ context.Context, workspaceID uuid.UUID, now time.Time, limit int) ([]*domain.Task, error) {
	return r.list(func(t *domain.Task) bool {
		return inWorkspace(t, workspaceID) &&
			t.Status != domain.TaskStatusClosed &&
			t.DeadlineAt != nil && t.DeadlineAt.Before(now)
	}, limit), nil
}

func (r *taskRepo) list(match func(*domain.Task) bool, limit int) []*domain.Task {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Task
	for _, t := range r.s.tasks {
		if !match(t) {
			continue
		}
		out = append(out, cloneTask(t))
		if limit > 0 && len(out) >= limit {
			break
		}
	}

	return out
}

func inWorkspace(t *domain.Task, workspaceID uuid.UUID) bool {
	return t.WorkspaceID != nil && *t.WorkspaceID == workspaceID
}

// ownerLocked resolves who may review a task: the workspace owner, or the
// creator for tasks without a workspace. Callers hold s.mu.
func (s *Store) ownerLocked(t *domain.Task) int64 {
	if t.WorkspaceID != nil {
		if ws, ok := s.workspaces[*t.WorkspaceID]; ok && ws.OwnerUserID != nil {
			return *ws.OwnerUserID
		}
	}

	return t.CreatorUserID
}

// isActiveMemberLocked reports workspace membership; tasks without a
// workspace skip the check. Callers hold s.mu.
func (s *Store) isActiveMemberLocked(workspaceID *uuid.UUID, userID int64) bool {
	if workspaceID == nil {
		return true
	}

	m, ok := s.members[memberKey{workspaceID: *workspaceID, userID: userID}]

	return ok && m.Status == domain.MemberStatusActive
}

// nonceReplayLocked reports whether the nonce was already recorded for
// this task. The same nonce against a different task is a client bug and
// surfaces as a conflict fault. Callers hold s.mu.
func (s *Store) nonceReplayLocked(nonce string, taskID uuid.UUID) (bool, error) {
	a, ok := s.actions[nonce]
	if !ok {
		return false, nil
	}
	if a.TaskID != taskID {
		return false, fmt.Errorf("nonce %q: %w", nonce, domain.ErrConflict)
	}

	return true, nil
}

// recordActionLocked writes the idempotency ledger row. Exactly one row
// exists per applied transition. Callers hold s.mu.
func (s *Store) recordActionLocked(taskID uuid.UUID, actorUserID int64, typ domain.ActionType, nonce string, now time.Time) {
	s.actions[nonce] = &domain.TaskAction{
		ID:          uuid.New(),
		TaskID:      taskID,
		ActorUserID: actorUserID,
		Type:        typ,
		Nonce:       nonce,
		CreatedAt:   now,
	}
}
