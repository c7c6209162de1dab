package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type CaptureKind string

const (
	CaptureAwaitingDeadline      CaptureKind = "awaiting_deadline"
	CaptureAwaitingReturnComment CaptureKind = "awaiting_return_comment"
)

// PendingCapture routes a user's next free-text message. At most one live
// capture exists per user; arming a new one supersedes the previous one
// rather than stacking.
type PendingCapture struct {
	UserID    int64
	Kind      CaptureKind
	DraftID   *uuid.UUID // set for awaiting_deadline
	TaskID    *uuid.UUID // set for awaiting_return_comment
	Nonce     string     // carried from the action that armed the capture
	UpdatedAt time.Time
}

type PendingCaptureRepository interface {
	// Set stores the capture for its user, replacing any previous one.
	Set(ctx context.Context, c *PendingCapture) error
	Get(ctx context.Context, userID int64) (*PendingCapture, error)
	Clear(ctx context.Context, userID int64) error
}
