package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/chatops/taskline/internal/domain"
	"github.com/chatops/taskline/internal/messenger"
)

// ErrPlatformNotFound is returned when a messenger platform is not registered.
var ErrPlatformNotFound = errors.New("notify: platform not found") //nolint:gochecknoglobals // sentinel error

// MessengerRegistry maps platform names to Messenger implementations.
type MessengerRegistry interface {
	Get(platform string) (messenger.Messenger, bool)
}

// Notifier dispatches direct notifications to users. Deliveries ride the
// default platform; a user's external ID there is their numeric chat ID.
type Notifier struct {
	messengers      MessengerRegistry
	defaultPlatform string
}

// New creates a Notifier with the given registry and default platform.
func New(messengers MessengerRegistry, defaultPlatform string) *Notifier {
	return &Notifier{
		messengers:      messengers,
		defaultPlatform: defaultPlatform,
	}
}

// NotifyUser sends a direct notification to a user on the default platform.
func (n *Notifier) NotifyUser(ctx context.Context, userID int64, message string) error {
	return n.NotifyVia(ctx, n.defaultPlatform, strconv.FormatInt(userID, 10), message)
}

// NotifyVia sends a notification using a specific platform and external ID.
func (n *Notifier) NotifyVia(ctx context.Context, platform, externalID, message string) error {
	msg, ok := n.messengers.Get(platform)
	if !ok {
		return fmt.Errorf("notify.Notifier.NotifyVia: platform %q: %w", platform, ErrPlatformNotFound)
	}

	if err := msg.SendNotification(ctx, externalID, message); err != nil {
		return fmt.Errorf("notify.Notifier.NotifyVia: send: %w", err)
	}

	return nil
}

// NotifyTransition sends the lifecycle notifications an applied
// transition calls for. Delivery is best-effort: failures are logged,
// never propagated, so a flaky messenger cannot roll back a transition
// that already committed.
func (n *Notifier) NotifyTransition(ctx context.Context, action domain.ActionType, res *domain.TransitionResult) {
	if res == nil || !res.Changed || res.Task == nil {
		return
	}

	t := res.Task
	for _, d := range transitionDeliveries(action, res) {
		if err := n.NotifyUser(ctx, d.userID, d.text); err != nil {
			log.Warn().Err(err).
				Str("task_id", t.ID.String()).
				Str("action", string(action)).
				Int64("user_id", d.userID).
				Msg("notification delivery failed")
		}
	}
}

type delivery struct {
	userID int64
	text   string
}

func transitionDeliveries(action domain.ActionType, res *domain.TransitionResult) []delivery {
	t := res.Task

	switch action {
	case domain.ActionSubmitForReview:
		if t.Status == domain.TaskStatusClosed {
			// Self-close: the creator is the assignee, nobody else to tell.
			return nil
		}

		return []delivery{{t.CreatorUserID, SubmittedForReviewText(t)}}
	case domain.ActionAcceptReview:
		return []delivery{{t.AssigneeUserID, ReviewAcceptedText(t)}}
	case domain.ActionReturnToWork:
		return []delivery{{t.AssigneeUserID, ReturnedToWorkText(t)}}
	case domain.ActionReassign:
		out := []delivery{{t.AssigneeUserID, AssignedText(t)}}
		if res.PreviousAssigneeID != 0 && res.PreviousAssigneeID != t.AssigneeUserID {
			out = append(out, delivery{res.PreviousAssigneeID, UnassignedText(t)})
		}

		return out
	}

	return nil
}

func taskLabel(t *domain.Task) string {
	text := t.SourceText
	if len(text) > 80 {
		text = text[:80] + "…"
	}
	if text == "" {
		text = t.ID.String()
	}

	return fmt.Sprintf("[%s] %s", t.Priority, text)
}

func TaskCreatedText(t *domain.Task) string {
	return fmt.Sprintf("New task assigned to you: %s", taskLabel(t))
}

func SubmittedForReviewText(t *domain.Task) string {
	return fmt.Sprintf("Task submitted for review: %s", taskLabel(t))
}

func ReviewAcceptedText(t *domain.Task) string {
	return fmt.Sprintf("Task accepted and closed: %s", taskLabel(t))
}

func ReturnedToWorkText(t *domain.Task) string {
	return fmt.Sprintf("Task returned to work: %s\nComment: %s", taskLabel(t), t.LastReturnComment)
}

func AssignedText(t *domain.Task) string {
	return fmt.Sprintf("Task reassigned to you: %s", taskLabel(t))
}

func UnassignedText(t *domain.Task) string {
	return fmt.Sprintf("Task reassigned away from you: %s", taskLabel(t))
}

// OverdueDigestText renders one user's overdue reminder, one line per task.
func OverdueDigestText(tasks []*domain.Task) string {
	out := "Overdue tasks assigned to you:"
	for _, t := range tasks {
		out += "\n" + taskLabel(t)
		if t.DeadlineAt != nil {
			out += fmt.Sprintf(" (due %s)", t.DeadlineAt.Format("2006-01-02"))
		}
	}

	return out
}
