package memory

import (
	"context"
	"fmt"

	"github.com/chatops/taskline/internal/domain"
)

type draftRepo struct {
	s *Store
}

func (r *draftRepo) Create(_ context.Context, d *domain.TaskDraft) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.draftByToken[d.Token]; ok {
		return fmt.Errorf("memDraftRepo.Create: token: %w", domain.ErrConflict)
	}

	r.s.drafts[d.ID] = cloneDraft(d)
	r.s.draftByToken[d.Token] = d.ID

	return nil
}

func (r *draftRepo) GetByToken(_ context.Context, token string) (*domain.TaskDraft, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.draftByToken[token]
	if !ok {
		return nil, fmt.Errorf("memDraftRepo.GetByToken: %w", domain.ErrNotFound)
	}

	return cloneDraft(r.s.drafts[id]), nil
}

func (r *draftRepo) Update(_ context.Context, d *domain.TaskDraft) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.drafts[d.ID]; !ok {
		return fmt.Errorf("memDraftRepo.Update: %w", domain.ErrNotFound)
	}

	r.s.drafts[d.ID] = cloneDraft(d)

	return nil
}

func (r *draftRepo) FindPendingBySource(_ context.Context, chatID int64, messageID int, creatorUserID int64) (*domain.TaskDraft, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var found *domain.TaskDraft
	for _, d := range r.s.drafts {
		if d.Status != domain.DraftStatusPending {
			continue
		}
		if d.SourceChatID != chatID || d.SourceMessageID != messageID || d.CreatorUserID != creatorUserID {
			continue
		}
		if found == nil || d.UpdatedAt.After(found.UpdatedAt) {
			found = d
		}
	}
	if found == nil {
		return nil, fmt.Errorf("memDraftRepo.FindPendingBySource: %w", domain.ErrNotFound)
	}

	return cloneDraft(found), nil
}

func (r *draftRepo) FindPendingByStep(_ context.Context, creatorUserID int64, step domain.DraftStep) (*domain.TaskDraft, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	// At most one row: the most recently updated match wins, so a newly
	// started draft supersedes any dangling older one.
	var found *domain.TaskDraft
	for _, d := range r.s.drafts {
		if d.Status != domain.DraftStatusPending || d.CreatorUserID != creatorUserID || d.Step != step {
			continue
		}
		if found == nil || d.UpdatedAt.After(found.UpdatedAt) {
			found = d
		}
	}
	if found == nil {
		return nil, fmt.Errorf("memDraftRepo.FindPendingByStep: %w", domain.ErrNotFound)
	}

	return cloneDraft(found), nil
}
