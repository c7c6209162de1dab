package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/chatops/taskline/internal/domain"
)

type memberRepo struct {
	s *Store
}

func (r *memberRepo) Upsert(_ context.Context, m *domain.WorkspaceMember) (*domain.WorkspaceMember, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := memberKey{workspaceID: m.WorkspaceID, userID: m.UserID}

	existing, ok := r.s.members[key]
	if !ok {
		stored := cloneMember(m)
		r.s.members[key] = stored
		return cloneMember(stored), nil
	}

	// Re-activate and refresh, keeping the original join time. An owner
	// role is sticky: it survives upserts that carry a lower role.
	existing.Status = domain.MemberStatusActive
	existing.Profile = m.Profile
	existing.LastSeenAt = m.LastSeenAt
	if m.Role == domain.MemberRoleOwner {
		existing.Role = domain.MemberRoleOwner
	}

	return cloneMember(existing), nil
}

func (r *memberRepo) Get(_ context.Context, workspaceID uuid.UUID, userID int64) (*domain.WorkspaceMember, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.members[memberKey{workspaceID: workspaceID, userID: userID}]
	if !ok {
		return nil, fmt.Errorf("memMemberRepo.Get: %w", domain.ErrNotFound)
	}

	return cloneMember(m), nil
}

func (r *memberRepo) GetActive(_ context.Context, workspaceID uuid.UUID, userID int64) (*domain.WorkspaceMember, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.members[memberKey{workspaceID: workspaceID, userID: userID}]
	if !ok || m.Status != domain.MemberStatusActive {
		return nil, fmt.Errorf("memMemberRepo.GetActive: %w", domain.ErrNotFound)
	}

	return cloneMember(m), nil
}

func (r *memberRepo) ListActive(_ context.Context, workspaceID uuid.UUID) ([]*domain.WorkspaceMember, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.WorkspaceMember
	for _, m := range r.s.members {
		if m.WorkspaceID == workspaceID && m.Status == domain.MemberStatusActive {
			out = append(out, cloneMember(m))
		}
	}

	return out, nil
}

func (r *memberRepo) LatestForUser(_ context.Context, userID int64) (*domain.WorkspaceMember, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var latest *domain.WorkspaceMember
	for _, m := range r.s.members {
		if m.UserID != userID || m.Status != domain.MemberStatusActive {
			continue
		}
		if latest == nil || m.LastSeenAt.After(latest.LastSeenAt) {
			latest = m
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("memMemberRepo.LatestForUser: %w", domain.ErrNotFound)
	}

	return cloneMember(latest), nil
}

func (r *memberRepo) SetStatus(_ context.Context, workspaceID uuid.UUID, userID int64, status domain.MemberStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.members[memberKey{workspaceID: workspaceID, userID: userID}]
	if !ok {
		return fmt.Errorf("memMemberRepo.SetStatus: %w", domain.ErrNotFound)
	}

	m.Status = status

	return nil
}
