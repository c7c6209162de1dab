package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type WorkspaceStatus string

const (
	WorkspaceStatusActive   WorkspaceStatus = "active"
	WorkspaceStatusArchived WorkspaceStatus = "archived"
)

// Workspace is one chat-bound team. At most one active workspace exists
// per chat; archived workspaces are retained so historical tasks keep
// resolving.
type Workspace struct {
	ID          uuid.UUID
	ChatID      int64
	Title       string
	OwnerUserID *int64
	Status      WorkspaceStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type WorkspaceRepository interface {
	// Create inserts a workspace. A second active workspace for the same
	// chat fails with ErrConflict; callers racing on creation re-read.
	Create(ctx context.Context, w *Workspace) error
	GetByID(ctx context.Context, id uuid.UUID) (*Workspace, error)
	// GetByChatID returns the active workspace bound to a chat.
	GetByChatID(ctx context.Context, chatID int64) (*Workspace, error)
	SetOwner(ctx context.Context, id uuid.UUID, ownerUserID int64) error
	// Archive flips the workspace to archived and marks all of its
	// memberships removed in the same unit of work.
	Archive(ctx context.Context, id uuid.UUID) error
	ListActive(ctx context.Context, limit int) ([]*Workspace, error)
}
