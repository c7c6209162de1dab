package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/chatops/taskline/internal/domain"
)

type inviteRepo struct {
	s *Store
}

func (r *inviteRepo) Create(_ context.Context, inv *domain.WorkspaceInvite) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.invites[inv.Token]; ok {
		return fmt.Errorf("memInviteRepo.Create: token: %w", domain.ErrConflict)
	}

	r.s.invites[inv.Token] = cloneInvite(inv)

	return nil
}

func (r *inviteRepo) FindValidByToken(_ context.Context, token string, now time.Time) (*domain.WorkspaceInvite, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	inv, ok := r.s.invites[token]
	if !ok || !inv.Valid(now) {
		return nil, fmt.Errorf("memInviteRepo.FindValidByToken: %w", domain.ErrNotFound)
	}

	return cloneInvite(inv), nil
}
