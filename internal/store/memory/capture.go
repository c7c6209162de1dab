package memory

import (
	"context"
	"fmt"

	"github.com/chatops/taskline/internal/domain"
)

type captureRepo struct {
	s *Store
}

func (r *captureRepo) Set(_ context.Context, c *domain.PendingCapture) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	// One live capture per user; a new one supersedes the old.
	r.s.captures[c.UserID] = cloneCapture(c)

	return nil
}

func (r *captureRepo) Get(_ context.Context, userID int64) (*domain.PendingCapture, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.captures[userID]
	if !ok {
		return nil, fmt.Errorf("memCaptureRepo.Get: %w", domain.ErrNotFound)
	}

	return cloneCapture(c), nil
}

func (r *captureRepo) Clear(_ context.Context, userID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	delete(r.s.captures, userID)

	return nil
}
