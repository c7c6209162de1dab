package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type DraftStatus string

const (
	DraftStatusPending DraftStatus = "pending"
	DraftStatusFinal   DraftStatus = "final"
)

type DraftStep string

const (
	StepEnterText          DraftStep = "enter_text"
	StepChooseAssignee     DraftStep = "choose_assignee"
	StepChoosePriority     DraftStep = "choose_priority"
	StepChooseDeadline     DraftStep = "choose_deadline"
	StepAwaitDeadlineInput DraftStep = "await_deadline_input"
	StepConfirm            DraftStep = "confirm"
	StepFinal              DraftStep = "final"
)

// TaskDraft is an in-progress, not-yet-materialized task. A draft walks
// forward through the wizard steps and is finalized into exactly one Task.
type TaskDraft struct {
	ID              uuid.UUID
	Token           string
	Status          DraftStatus
	Step            DraftStep
	CreatedTaskID   *uuid.UUID
	WorkspaceID     *uuid.UUID // nil until a DM draft resolves a workspace
	SourceChatID    int64
	SourceMessageID int // 0 for DM-only drafts with no source message
	SourceText      string
	SourceLink      string
	CreatorUserID   int64
	AssigneeUserID  *int64
	Priority        *Priority
	DeadlineAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasSource reports whether the draft originates from a concrete group
// message (as opposed to a DM-only draft).
func (d *TaskDraft) HasSource() bool {
	return d.SourceMessageID != 0
}

type TaskDraftRepository interface {
	Create(ctx context.Context, d *TaskDraft) error
	GetByToken(ctx context.Context, token string) (*TaskDraft, error)
	Update(ctx context.Context, d *TaskDraft) error
	// FindPendingBySource returns the pending draft already opened for the
	// same source message by the same creator, so repeated invocations
	// reuse one token instead of spawning parallel drafts.
	FindPendingBySource(ctx context.Context, chatID int64, messageID int, creatorUserID int64) (*TaskDraft, error)
	// FindPendingByStep returns the creator's most recently updated
	// pending draft sitting at the given step, at most one row.
	FindPendingByStep(ctx context.Context, creatorUserID int64, step DraftStep) (*TaskDraft, error)
}
