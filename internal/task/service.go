package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/chatops/taskline/internal/domain"
)

// Service drives the draft wizard and the task lifecycle. It returns
// tagged result values for every expected business outcome; errors are
// reserved for infrastructure faults.
type Service struct {
	tasks      domain.TaskRepository
	drafts     domain.TaskDraftRepository
	captures   domain.PendingCaptureRepository
	members    domain.WorkspaceMemberRepository
	workspaces domain.WorkspaceRepository
	clock      clockwork.Clock
}

// NewService creates a task service over the given repositories.
func NewService(
	tasks domain.TaskRepository,
	drafts domain.TaskDraftRepository,
	captures domain.PendingCaptureRepository,
	members domain.WorkspaceMemberRepository,
	workspaces domain.WorkspaceRepository,
	clock clockwork.Clock,
) *Service {
	return &Service{
		tasks:      tasks,
		drafts:     drafts,
		captures:   captures,
		members:    members,
		workspaces: workspaces,
		clock:      clock,
	}
}

// TransitionParams identifies one lifecycle action. Nonce is the
// client-supplied one-shot token that absorbs transport retries.
type TransitionParams struct {
	TaskID      uuid.UUID
	ActorUserID int64
	Nonce       string
}

// ReassignParams identifies a reassignment action.
type ReassignParams struct {
	TaskID        uuid.UUID
	ActorUserID   int64
	NewAssigneeID int64
	Nonce         string
}

// CompleteTask submits a task for review on behalf of its assignee, or
// closes it directly when creator, assignee and actor are the same user.
// Duplicate clicks (same nonce) and already-applied transitions report
// Changed=false with the current state.
func (s *Service) CompleteTask(ctx context.Context, p TransitionParams) (*domain.TransitionResult, error) {
	res, err := s.tasks.SubmitForReview(ctx, p.TaskID, p.ActorUserID, p.Nonce, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("task.CompleteTask: %w", err)
	}

	return res, nil
}

// AcceptReview closes a task that is on review. Workspace owner only.
// Accepting a task not on review is a no-op success.
func (s *Service) AcceptReview(ctx context.Context, p TransitionParams) (*domain.TransitionResult, error) {
	res, err := s.tasks.AcceptReview(ctx, p.TaskID, p.ActorUserID, p.Nonce, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("task.AcceptReview: %w", err)
	}

	return res, nil
}

// BeginReturnToWorkComment arms a capture so the actor's next free-text
// message becomes the mandatory return comment. The transition itself
// applies when the comment arrives. Any previous capture for the actor is
// superseded.
func (s *Service) BeginReturnToWorkComment(ctx context.Context, p TransitionParams) (*domain.TransitionResult, error) {
	t, err := s.tasks.GetByID(ctx, p.TaskID)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.TransitionResult{Status: domain.TransitionNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("task.BeginReturnToWorkComment: %w", err)
	}

	owner, err := s.ownerOf(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("task.BeginReturnToWorkComment: %w", err)
	}
	if p.ActorUserID != owner {
		return &domain.TransitionResult{Status: domain.TransitionForbidden, Task: t}, nil
	}
	if t.Status == domain.TaskStatusClosed {
		return &domain.TransitionResult{Status: domain.TransitionTaskClosed, Task: t}, nil
	}

	taskID := t.ID
	err = s.captures.Set(ctx, &domain.PendingCapture{
		UserID:    p.ActorUserID,
		Kind:      domain.CaptureAwaitingReturnComment,
		TaskID:    &taskID,
		Nonce:     p.Nonce,
		UpdatedAt: s.clock.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("task.BeginReturnToWorkComment: %w", err)
	}

	return &domain.TransitionResult{Status: domain.TransitionOK, Task: t}, nil
}

// ReturnToWorkFromText applies the return-to-work transition armed by
// BeginReturnToWorkComment, using text as the comment. The second return
// value is false when no return capture is armed for the actor.
func (s *Service) ReturnToWorkFromText(ctx context.Context, actorUserID int64, comment string) (*domain.TransitionResult, bool, error) {
	pc, err := s.captures.Get(ctx, actorUserID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("task.ReturnToWorkFromText: %w", err)
	}
	if pc.Kind != domain.CaptureAwaitingReturnComment || pc.TaskID == nil {
		return nil, false, nil
	}

	res, err := s.tasks.ReturnToWork(ctx, *pc.TaskID, actorUserID, comment, pc.Nonce, s.clock.Now())
	if err != nil {
		return nil, false, fmt.Errorf("task.ReturnToWorkFromText: %w", err)
	}

	// The marker is consumed regardless of the outcome; a stale capture
	// must not swallow the user's future messages.
	if clearErr := s.captures.Clear(ctx, actorUserID); clearErr != nil {
		return nil, false, fmt.Errorf("task.ReturnToWorkFromText: clear capture: %w", clearErr)
	}

	return res, true, nil
}

// ReassignTask moves an open task to a different active member of its
// workspace. Workspace owner only. Reassigning to the current assignee is
// a no-op success with Changed=false.
func (s *Service) ReassignTask(ctx context.Context, p ReassignParams) (*domain.TransitionResult, error) {
	res, err := s.tasks.Reassign(ctx, p.TaskID, p.ActorUserID, p.NewAssigneeID, p.Nonce, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("task.ReassignTask: %w", err)
	}

	return res, nil
}

// GetTask loads a single task by ID.
func (s *Service) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	t, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("task.GetTask: %w", err)
	}

	return t, nil
}

// ListAssigned returns the viewer's open assigned tasks, sorted.
func (s *Service) ListAssigned(ctx context.Context, workspaceID uuid.UUID, userID int64, limit int) ([]*domain.Task, error) {
	tasks, err := s.tasks.ListAssigned(ctx, workspaceID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("task.ListAssigned: %w", err)
	}

	return SortTasks(tasks), nil
}

// ListCreated returns the viewer's open created tasks, sorted.
func (s *Service) ListCreated(ctx context.Context, workspaceID uuid.UUID, userID int64, limit int) ([]*domain.Task, error) {
	tasks, err := s.tasks.ListCreated(ctx, workspaceID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("task.ListCreated: %w", err)
	}

	return SortTasks(tasks), nil
}

// ListOnReview returns the workspace's tasks awaiting review, sorted.
func (s *Service) ListOnReview(ctx context.Context, workspaceID uuid.UUID, limit int) ([]*domain.Task, error) {
	tasks, err := s.tasks.ListOnReview(ctx, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("task.ListOnReview: %w", err)
	}

	return SortTasks(tasks), nil
}

// ownerOf resolves who may review/return/reassign a task: the workspace
// owner, or the creator for tasks without a workspace.
func (s *Service) ownerOf(ctx context.Context, t *domain.Task) (int64, error) {
	if t.WorkspaceID == nil {
		return t.CreatorUserID, nil
	}

	ws, err := s.workspaces.GetByID(ctx, *t.WorkspaceID)
	if err != nil {
		return 0, fmt.Errorf("resolve owner: %w", err)
	}
	if ws.OwnerUserID == nil {
		return t.CreatorUserID, nil
	}

	return *ws.OwnerUserID, nil
}
