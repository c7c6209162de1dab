package task

import (
	"sort"

	"github.com/chatops/taskline/internal/domain"
)

// SortTasks returns a new slice ordered by priority rank, then deadline
// ascending (tasks with a deadline before tasks without), then creation
// time. The input is never mutated; lists are re-sorted on every render.
func SortTasks(tasks []*domain.Task) []*domain.Task {
	out := make([]*domain.Task, len(tasks))
	copy(out, tasks)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]

		if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
			return ra < rb
		}

		switch {
		case a.DeadlineAt != nil && b.DeadlineAt == nil:
			return true
		case a.DeadlineAt == nil && b.DeadlineAt != nil:
			return false
		case a.DeadlineAt != nil && b.DeadlineAt != nil:
			if !a.DeadlineAt.Equal(*b.DeadlineAt) {
				return a.DeadlineAt.Before(*b.DeadlineAt)
			}
		}

		return a.CreatedAt.Before(b.CreatedAt)
	})

	return out
}
