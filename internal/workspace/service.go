package workspace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/chatops/taskline/internal/domain"
)

// ErrInviteInvalid is returned when an invite token does not exist or has
// expired.
var ErrInviteInvalid = errors.New("workspace: invite invalid")

// Service maintains workspaces, memberships and invites.
type Service struct {
	workspaces domain.WorkspaceRepository
	members    domain.WorkspaceMemberRepository
	invites    domain.WorkspaceInviteRepository
	clock      clockwork.Clock
}

// NewService creates a workspace service over the given repositories.
func NewService(
	workspaces domain.WorkspaceRepository,
	members domain.WorkspaceMemberRepository,
	invites domain.WorkspaceInviteRepository,
	clock clockwork.Clock,
) *Service {
	return &Service{
		workspaces: workspaces,
		members:    members,
		invites:    invites,
		clock:      clock,
	}
}

// EnsureResult reports whether EnsureWorkspaceForChat created the
// workspace or found an existing one.
type EnsureResult struct {
	Workspace *domain.Workspace
	Created   bool
}

// EnsureWorkspaceForChat gets or creates the active workspace bound to a
// chat. Two concurrent creations collapse to one row: the loser catches
// the conflict and re-reads, reporting Created=false.
func (s *Service) EnsureWorkspaceForChat(ctx context.Context, chatID int64, title string) (*EnsureResult, error) {
	ws, err := s.workspaces.GetByChatID(ctx, chatID)
	if err == nil {
		return &EnsureResult{Workspace: ws}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("workspace.EnsureWorkspaceForChat: %w", err)
	}

	now := s.clock.Now()
	ws = &domain.Workspace{
		ID:        uuid.New(),
		ChatID:    chatID,
		Title:     title,
		Status:    domain.WorkspaceStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.workspaces.Create(ctx, ws)
	if errors.Is(err, domain.ErrConflict) {
		// Lost the creation race; the winner's row is authoritative.
		existing, getErr := s.workspaces.GetByChatID(ctx, chatID)
		if getErr != nil {
			return nil, fmt.Errorf("workspace.EnsureWorkspaceForChat: %w", getErr)
		}
		return &EnsureResult{Workspace: existing}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("workspace.EnsureWorkspaceForChat: %w", err)
	}

	return &EnsureResult{Workspace: ws, Created: true}, nil
}

// ClaimOwnership makes userID the workspace owner when none is set, and
// upserts the matching owner membership. It is a no-op when an owner
// already exists.
func (s *Service) ClaimOwnership(ctx context.Context, workspaceID uuid.UUID, userID int64, profile domain.MemberProfile) (*domain.Workspace, error) {
	ws, err := s.workspaces.GetByID(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("workspace.ClaimOwnership: %w", err)
	}

	if ws.OwnerUserID == nil {
		if err := s.workspaces.SetOwner(ctx, ws.ID, userID); err != nil {
			return nil, fmt.Errorf("workspace.ClaimOwnership: %w", err)
		}
		ws.OwnerUserID = &userID
	}

	now := s.clock.Now()
	role := domain.MemberRoleMember
	if *ws.OwnerUserID == userID {
		role = domain.MemberRoleOwner
	}

	_, err = s.members.Upsert(ctx, &domain.WorkspaceMember{
		WorkspaceID: ws.ID,
		UserID:      userID,
		Role:        role,
		Status:      domain.MemberStatusActive,
		Profile:     profile,
		JoinedAt:    now,
		LastSeenAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("workspace.ClaimOwnership: %w", err)
	}

	return ws, nil
}

// CreateInvite issues a workspace invite. Owner only. A zero ttl means
// the invite never expires.
func (s *Service) CreateInvite(ctx context.Context, workspaceID uuid.UUID, actorUserID int64, ttl time.Duration) (*domain.WorkspaceInvite, error) {
	ws, err := s.workspaces.GetByID(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("workspace.CreateInvite: %w", err)
	}
	if ws.OwnerUserID == nil || *ws.OwnerUserID != actorUserID {
		return nil, fmt.Errorf("workspace.CreateInvite: %w", domain.ErrForbidden)
	}

	now := s.clock.Now()
	inv := &domain.WorkspaceInvite{
		ID:          uuid.New(),
		Token:       newInviteToken(),
		WorkspaceID: workspaceID,
		CreatedAt:   now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		inv.ExpiresAt = &exp
	}

	if err := s.invites.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("workspace.CreateInvite: %w", err)
	}

	return inv, nil
}

// AcceptInvite joins the user to the invite's workspace. Accepting the
// same valid token again is a safe no-op that refreshes the profile
// snapshot and LastSeenAt; an existing owner role is never downgraded.
func (s *Service) AcceptInvite(ctx context.Context, token string, userID int64, profile domain.MemberProfile) (*domain.WorkspaceMember, error) {
	now := s.clock.Now()

	inv, err := s.invites.FindValidByToken(ctx, token, now)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("workspace.AcceptInvite: %w", ErrInviteInvalid)
	}
	if err != nil {
		return nil, fmt.Errorf("workspace.AcceptInvite: %w", err)
	}

	m, err := s.members.Upsert(ctx, &domain.WorkspaceMember{
		WorkspaceID: inv.WorkspaceID,
		UserID:      userID,
		Role:        domain.MemberRoleMember,
		Status:      domain.MemberStatusActive,
		Profile:     profile,
		JoinedAt:    now,
		LastSeenAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("workspace.AcceptInvite: %w", err)
	}

	return m, nil
}

type RemoveMemberStatus string

const (
	RemoveOK                RemoveMemberStatus = "ok"
	RemoveForbidden         RemoveMemberStatus = "forbidden"
	RemoveCannotRemoveOwner RemoveMemberStatus = "cannot_remove_owner"
	RemoveAlreadyRemoved    RemoveMemberStatus = "already_removed"
	RemoveNotFound          RemoveMemberStatus = "not_found"
)

// RemoveMemberResult is the tagged outcome of a member removal.
// AlreadyRemoved is distinct from OK so callers can render "already gone"
// instead of "just removed".
type RemoveMemberResult struct {
	Status RemoveMemberStatus
	Member *domain.WorkspaceMember
}

// RemoveMember soft-removes a member. Owner only; the owner cannot be
// removed.
func (s *Service) RemoveMember(ctx context.Context, workspaceID uuid.UUID, actorUserID, targetUserID int64) (*RemoveMemberResult, error) {
	ws, err := s.workspaces.GetByID(ctx, workspaceID)
	if errors.Is(err, domain.ErrNotFound) {
		return &RemoveMemberResult{Status: RemoveNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("workspace.RemoveMember: %w", err)
	}

	if ws.OwnerUserID == nil || *ws.OwnerUserID != actorUserID {
		return &RemoveMemberResult{Status: RemoveForbidden}, nil
	}
	if targetUserID == *ws.OwnerUserID {
		return &RemoveMemberResult{Status: RemoveCannotRemoveOwner}, nil
	}

	m, err := s.members.Get(ctx, workspaceID, targetUserID)
	if errors.Is(err, domain.ErrNotFound) {
		return &RemoveMemberResult{Status: RemoveNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("workspace.RemoveMember: %w", err)
	}

	if m.Status == domain.MemberStatusRemoved {
		return &RemoveMemberResult{Status: RemoveAlreadyRemoved, Member: m}, nil
	}

	if err := s.members.SetStatus(ctx, workspaceID, targetUserID, domain.MemberStatusRemoved); err != nil {
		return nil, fmt.Errorf("workspace.RemoveMember: %w", err)
	}
	m.Status = domain.MemberStatusRemoved

	return &RemoveMemberResult{Status: RemoveOK, Member: m}, nil
}

// ArchiveWorkspace archives the workspace and removes all of its
// memberships. Owner only. Archived workspaces are never hard-deleted.
func (s *Service) ArchiveWorkspace(ctx context.Context, workspaceID uuid.UUID, actorUserID int64) (*domain.Workspace, error) {
	ws, err := s.workspaces.GetByID(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("workspace.ArchiveWorkspace: %w", err)
	}
	if ws.OwnerUserID == nil || *ws.OwnerUserID != actorUserID {
		return nil, fmt.Errorf("workspace.ArchiveWorkspace: %w", domain.ErrForbidden)
	}

	if err := s.workspaces.Archive(ctx, ws.ID); err != nil {
		return nil, fmt.Errorf("workspace.ArchiveWorkspace: %w", err)
	}
	ws.Status = domain.WorkspaceStatusArchived

	return ws, nil
}

// TouchMember refreshes a member's profile snapshot and LastSeenAt on
// activity, creating or re-activating the membership as needed.
func (s *Service) TouchMember(ctx context.Context, workspaceID uuid.UUID, userID int64, profile domain.MemberProfile) (*domain.WorkspaceMember, error) {
	now := s.clock.Now()

	m, err := s.members.Upsert(ctx, &domain.WorkspaceMember{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Role:        domain.MemberRoleMember,
		Status:      domain.MemberStatusActive,
		Profile:     profile,
		JoinedAt:    now,
		LastSeenAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("workspace.TouchMember: %w", err)
	}

	return m, nil
}

// newInviteToken returns a 128-bit random hex token.
func newInviteToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return uuid.NewString()
	}

	return hex.EncodeToString(buf)
}
