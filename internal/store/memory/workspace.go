package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/chatops/taskline/internal/domain"
)

type workspaceRepo struct {
	s *Store
}

func (r *workspaceRepo) Create(_ context.Context, w *domain.Workspace) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.workspaces {
		if existing.ChatID == w.ChatID && existing.Status == domain.WorkspaceStatusActive {
			return fmt.Errorf("memWorkspaceRepo.Create: chat %d: %w", w.ChatID, domain.ErrConflict)
		}
	}

	r.s.workspaces[w.ID] = cloneWorkspace(w)

	return nil
}

func (r *workspaceRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Workspace, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("memWorkspaceRepo.GetByID: %w", domain.ErrNotFound)
	}

	return cloneWorkspace(w), nil
}

func (r *workspaceRepo) GetByChatID(_ context.Context, chatID int64) (*domain.Workspace, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, w := range r.s.workspaces {
		if w.ChatID == chatID && w.Status == domain.WorkspaceStatusActive {
			return cloneWorkspace(w), nil
		}
	}

	return nil, fmt.Errorf("memWorkspaceRepo.GetByChatID: %w", domain.ErrNotFound)
}

func (r *workspaceRepo) SetOwner(_ context.Context, id uuid.UUID, ownerUserID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.workspaces[id]
	if !ok {
		return fmt.Errorf("memWorkspaceRepo.SetOwner: %w", domain.ErrNotFound)
	}

	w.OwnerUserID = &ownerUserID
	w.UpdatedAt = r.s.clock.Now()

	return nil
}

func (r *workspaceRepo) Archive(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.workspaces[id]
	if !ok {
		return fmt.Errorf("memWorkspaceRepo.Archive: %w", domain.ErrNotFound)
	}

	now := r.s.clock.Now()
	w.Status = domain.WorkspaceStatusArchived
	w.UpdatedAt = now

	// Archival cascades: every membership flips to removed.
	for _, m := range r.s.members {
		if m.WorkspaceID == id && m.Status == domain.MemberStatusActive {
			m.Status = domain.MemberStatusRemoved
			m.LastSeenAt = now
		}
	}

	return nil
}

func (r *workspaceRepo) ListActive(_ context.Context, limit int) ([]*domain.Workspace, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Workspace
	for _, w := range r.s.workspaces {
		if w.Status != domain.WorkspaceStatusActive {
			continue
		}
		out = append(out, cloneWorkspace(w))
		if limit > 0 && len(out) >= limit {
			break
		}
	}

	return out, nil
}
