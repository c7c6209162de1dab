package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// WorkspaceInvite is a token-addressable invite. Accepting one never
// mutates it; idempotency lives at the membership layer.
type WorkspaceInvite struct {
	ID          uuid.UUID
	Token       string
	WorkspaceID uuid.UUID
	ExpiresAt   *time.Time // nil = never expires
	CreatedAt   time.Time
}

// Valid reports whether the invite is usable at the given instant.
func (i *WorkspaceInvite) Valid(now time.Time) bool {
	return i.ExpiresAt == nil || i.ExpiresAt.After(now)
}

type WorkspaceInviteRepository interface {
	Create(ctx context.Context, inv *WorkspaceInvite) error
	// FindValidByToken returns the invite only if it exists and has not
	// expired as of now.
	FindValidByToken(ctx context.Context, token string, now time.Time) (*WorkspaceInvite, error)
}
