package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// Rank maps a priority to its sort position; P1 is most urgent. Unknown
// values sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityP1:
		return 0
	case PriorityP2:
		return 1
	case PriorityP3:
		return 2
	default:
		return 3
	}
}

func (p Priority) Valid() bool {
	return p == PriorityP1 || p == PriorityP2 || p == PriorityP3
}

type TaskStatus string

const (
	TaskStatusActive   TaskStatus = "active"
	TaskStatusOnReview TaskStatus = "on_review"
	TaskStatusClosed   TaskStatus = "closed"
)

// ValidTransition checks if a task state transition is allowed.
// Allowed: active->on_review, active->closed (self-close),
// on_review->closed, on_review->active (return to work).
func (s TaskStatus) ValidTransition(to TaskStatus) bool {
	switch s {
	case TaskStatusActive:
		return to == TaskStatusOnReview || to == TaskStatusClosed
	case TaskStatusOnReview:
		return to == TaskStatusClosed || to == TaskStatusActive
	default:
		return false
	}
}

// Task is the materialized work item.
type Task struct {
	ID                   uuid.UUID
	DraftID              *uuid.UUID
	WorkspaceID          *uuid.UUID
	SourceChatID         int64
	SourceMessageID      int
	SourceText           string
	SourceLink           string
	CreatorUserID        int64
	AssigneeUserID       int64
	Priority             Priority
	DeadlineAt           *time.Time
	Status               TaskStatus
	SubmittedForReviewAt *time.Time
	LastReturnComment    string
	LastReturnAt         *time.Time
	LastReturnByUserID   *int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type ActionType string

const (
	ActionSubmitForReview ActionType = "submit_for_review"
	ActionAcceptReview    ActionType = "accept_review"
	ActionReturnToWork    ActionType = "return_to_work"
	ActionReassign        ActionType = "reassign"
)

// TaskAction is an idempotency ledger row. The nonce alone is the dedup
// key: it is a client-generated one-shot identifier, written exactly once
// per applied transition.
type TaskAction struct {
	ID          uuid.UUID
	TaskID      uuid.UUID
	ActorUserID int64
	Type        ActionType
	Nonce       string
	CreatedAt   time.Time
}

type TransitionStatus string

const (
	TransitionOK              TransitionStatus = "ok"
	TransitionNotFound        TransitionStatus = "not_found"
	TransitionNotAssignee     TransitionStatus = "not_assignee"
	TransitionNotInWorkspace  TransitionStatus = "not_in_workspace"
	TransitionForbidden       TransitionStatus = "forbidden"
	TransitionTaskClosed      TransitionStatus = "task_closed"
	TransitionInvalidAssignee TransitionStatus = "invalid_assignee"
)

// TransitionResult is the tagged outcome of a lifecycle transition.
// Status OK with Changed=false means the requested state already holds
// (duplicate click, replayed nonce); it is a success, never an error.
type TransitionResult struct {
	Status  TransitionStatus
	Changed bool
	Task    *Task
	// PreviousAssigneeID is set by Reassign when Changed, so the caller
	// can notify both sides.
	PreviousAssigneeID int64
}

// DraftFinalization is the outcome of materializing a draft. Created is
// false when a concurrent finalize already won; Task then carries the
// winner's row.
type DraftFinalization struct {
	Task    *Task
	Created bool
}

type TaskRepository interface {
	// CreateFromDraft materializes a confirm-stage draft into exactly one
	// task. Racing finalizes on the same draft or the same source message
	// collapse to one winner; the loser gets the existing task with
	// Created=false. The draft is marked final with CreatedTaskID set in
	// the same unit of work.
	CreateFromDraft(ctx context.Context, d *TaskDraft, now time.Time) (*DraftFinalization, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Task, error)
	GetBySource(ctx context.Context, chatID int64, messageID int) (*Task, error)

	// SubmitForReview atomically flips active->on_review (or active->closed
	// when creator, assignee and actor coincide), guarded by the nonce
	// ledger. Verifies the actor is the assignee and an active member of
	// the task's workspace when one is set.
	SubmitForReview(ctx context.Context, taskID uuid.UUID, actorUserID int64, nonce string, now time.Time) (*TransitionResult, error)
	// AcceptReview atomically flips on_review->closed. Owner only.
	// Accepting a task not on review is a no-op success.
	AcceptReview(ctx context.Context, taskID uuid.UUID, actorUserID int64, nonce string, now time.Time) (*TransitionResult, error)
	// ReturnToWork atomically flips on_review->active, recording the
	// mandatory comment. Owner only.
	ReturnToWork(ctx context.Context, taskID uuid.UUID, actorUserID int64, comment, nonce string, now time.Time) (*TransitionResult, error)
	// Reassign atomically moves an open task to a different active member
	// of its workspace. Owner only. Reassigning to the current assignee is
	// a no-op success.
	Reassign(ctx context.Context, taskID uuid.UUID, actorUserID, newAssigneeID int64, nonce string, now time.Time) (*TransitionResult, error)

	// List operations return tasks in storage order; callers sort.
	ListAssigned(ctx context.Context, workspaceID uuid.UUID, userID int64, limit int) ([]*Task, error)
	ListCreated(ctx context.Context, workspaceID uuid.UUID, userID int64, limit int) ([]*Task, error)
	ListOnReview(ctx context.Context, workspaceID uuid.UUID, limit int) ([]*Task, error)
	// ListOverdue returns open tasks whose deadline has passed as of now.
	ListOverdue(ctx context.Context, workspaceID uuid.UUID, now time.Time, limit int) ([]*Task, error)
}
