package reminder

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/chatops/taskline/internal/domain"
	"github.com/chatops/taskline/internal/notify"
)

// Scheduler runs the overdue-task digest on a cron schedule. Each run
// walks the active workspaces and nudges the assignee of every task
// whose deadline has passed, plus the workspace owner with a summary.
type Scheduler struct {
	workspaces     domain.WorkspaceRepository
	tasks          domain.TaskRepository
	notifier       *notify.Notifier
	clock          clockwork.Clock
	cron           *cron.Cron
	workspaceLimit int
	taskLimit      int
}

// New creates a Scheduler. Limits bound how much one run scans so a
// runaway deployment cannot flood users.
func New(
	workspaces domain.WorkspaceRepository,
	tasks domain.TaskRepository,
	notifier *notify.Notifier,
	clock clockwork.Clock,
	workspaceLimit, taskLimit int,
) *Scheduler {
	return &Scheduler{
		workspaces:     workspaces,
		tasks:          tasks,
		notifier:       notifier,
		clock:          clock,
		cron:           cron.New(),
		workspaceLimit: workspaceLimit,
		taskLimit:      taskLimit,
	}
}

// Start registers the digest at the given cron spec and starts the
// scheduler in its own goroutine.
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		if err := s.RunDigest(ctx); err != nil {
			log.Error().Err(err).Msg("overdue digest run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("reminder.Start: %w", err)
	}

	s.cron.Start()
	log.Info().Str("spec", spec).Msg("overdue reminder scheduled")

	return nil
}

// Stop halts the scheduler, waiting for a running digest to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunDigest executes one digest pass. Delivery is best-effort per user;
// a failed send never aborts the rest of the run.
func (s *Scheduler) RunDigest(ctx context.Context) error {
	now := s.clock.Now()

	workspaces, err := s.workspaces.ListActive(ctx, s.workspaceLimit)
	if err != nil {
		return fmt.Errorf("reminder.RunDigest: %w", err)
	}

	for _, ws := range workspaces {
		overdue, err := s.tasks.ListOverdue(ctx, ws.ID, now, s.taskLimit)
		if err != nil {
			log.Warn().Err(err).
				Str("workspace_id", ws.ID.String()).
				Msg("overdue listing failed")
			continue
		}
		if len(overdue) == 0 {
			continue
		}

		s.notifyWorkspace(ctx, ws, overdue)
	}

	return nil
}

func (s *Scheduler) notifyWorkspace(ctx context.Context, ws *domain.Workspace, overdue []*domain.Task) {
	// Group by assignee so each user gets one message per run.
	byAssignee := make(map[int64][]*domain.Task)
	for _, t := range overdue {
		byAssignee[t.AssigneeUserID] = append(byAssignee[t.AssigneeUserID], t)
	}

	for userID, tasks := range byAssignee {
		if err := s.notifier.NotifyUser(ctx, userID, notify.OverdueDigestText(tasks)); err != nil {
			log.Warn().Err(err).
				Int64("user_id", userID).
				Msg("overdue digest delivery failed")
		}
	}

	// The owner sees the workspace-wide count, but not their own tasks
	// twice.
	if ws.OwnerUserID == nil {
		return
	}
	if _, ok := byAssignee[*ws.OwnerUserID]; ok && len(byAssignee) == 1 {
		return
	}

	summary := fmt.Sprintf("%s: %d overdue task(s) in the workspace.", ws.Title, len(overdue))
	if err := s.notifier.NotifyUser(ctx, *ws.OwnerUserID, summary); err != nil {
		log.Warn().Err(err).
			Int64("user_id", *ws.OwnerUserID).
			Msg("overdue summary delivery failed")
	}
}
