package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type MemberRole string

const (
	MemberRoleOwner  MemberRole = "owner"
	MemberRoleMember MemberRole = "member"
)

type MemberStatus string

const (
	MemberStatusActive  MemberStatus = "active"
	MemberStatusRemoved MemberStatus = "removed"
)

// MemberProfile is an advisory snapshot of a member's chat profile,
// refreshed on activity.
type MemberProfile struct {
	FirstName string
	LastName  string
	Username  string
}

// WorkspaceMember is a (workspace, user) pair. Removal is a status flip,
// never a delete; a later upsert re-activates the same row.
type WorkspaceMember struct {
	WorkspaceID uuid.UUID
	UserID      int64
	Role        MemberRole
	Status      MemberStatus
	Profile     MemberProfile
	JoinedAt    time.Time
	LastSeenAt  time.Time
}

type WorkspaceMemberRepository interface {
	// Upsert inserts or re-activates the (workspace, user) membership and
	// refreshes the profile snapshot and LastSeenAt. An existing owner
	// role is preserved; upserting never downgrades it.
	Upsert(ctx context.Context, m *WorkspaceMember) (*WorkspaceMember, error)
	Get(ctx context.Context, workspaceID uuid.UUID, userID int64) (*WorkspaceMember, error)
	// GetActive returns the membership only when its status is active.
	GetActive(ctx context.Context, workspaceID uuid.UUID, userID int64) (*WorkspaceMember, error)
	ListActive(ctx context.Context, workspaceID uuid.UUID) ([]*WorkspaceMember, error)
	// LatestForUser returns the user's most recently seen active
	// membership, for resolving a workspace from a DM.
	LatestForUser(ctx context.Context, userID int64) (*WorkspaceMember, error)
	SetStatus(ctx context.Context, workspaceID uuid.UUID, userID int64, status MemberStatus) error
}
