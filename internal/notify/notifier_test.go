package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatops/taskline/internal/domain"
	"github.com/chatops/taskline/internal/messenger"
	"github.com/chatops/taskline/internal/notify"
)

// --- mocks ---

type mockMessenger struct {
	platform      string
	notifications []sentNotification
	notifyErr     error
}

type sentNotification struct {
	externalID string
	text       string
}

func (m *mockMessenger) SendMessage(context.Context, string, string) (messenger.MessageID, error) {
	return "", nil
}

func (m *mockMessenger) SendChoices(context.Context, string, string, []messenger.ChoiceOption) (messenger.MessageID, error) {
	return "", nil
}

func (m *mockMessenger) UpdateMessage(context.Context, string, messenger.MessageID, string) error {
	return nil
}

func (m *mockMessenger) SendNotification(_ context.Context, externalID, text string) error {
	if m.notifyErr != nil {
		return m.notifyErr
	}
	m.notifications = append(m.notifications, sentNotification{externalID: externalID, text: text})
	return nil
}

func (m *mockMessenger) Platform() string { return m.platform }

type mockRegistry struct {
	messengers map[string]messenger.Messenger
}

func (r *mockRegistry) Get(platform string) (messenger.Messenger, bool) {
	m, ok := r.messengers[platform]
	return m, ok
}

func sampleTask(status domain.TaskStatus) *domain.Task {
	return &domain.Task{
		ID:             uuid.New(),
		SourceText:     "fix the login flow",
		CreatorUserID:  100,
		AssigneeUserID: 200,
		Priority:       domain.PriorityP2,
		Status:         status,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
}

// --- NotifyUser tests ---

func TestNotifyUser(t *testing.T) {
	t.Parallel()

	t.Run("happy path sends via default platform", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		tg := &mockMessenger{platform: "telegram"}
		reg := &mockRegistry{messengers: map[string]messenger.Messenger{"telegram": tg}}

		n := notify.New(reg, "telegram")
		err := n.NotifyUser(ctx, 200, "hello")

		require.NoError(t, err)
		require.Len(t, tg.notifications, 1)
		assert.Equal(t, "200", tg.notifications[0].externalID)
		assert.Equal(t, "hello", tg.notifications[0].text)
	})

	t.Run("unregistered default platform returns ErrPlatformNotFound", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		reg := &mockRegistry{messengers: map[string]messenger.Messenger{}}

		n := notify.New(reg, "telegram")
		err := n.NotifyUser(ctx, 200, "hello")

		require.Error(t, err)
		assert.ErrorIs(t, err, notify.ErrPlatformNotFound)
	})
}

// --- NotifyVia tests ---

func TestNotifyVia(t *testing.T) {
	t.Parallel()

	t.Run("happy path", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		slackMsg := &mockMessenger{platform: "slack"}
		reg := &mockRegistry{messengers: map[string]messenger.Messenger{"slack": slackMsg}}

		n := notify.New(reg, "telegram")
		err := n.NotifyVia(ctx, "slack", "U123", "hello")

		require.NoError(t, err)
		require.Len(t, slackMsg.notifications, 1)
		assert.Equal(t, "U123", slackMsg.notifications[0].externalID)
		assert.Equal(t, "hello", slackMsg.notifications[0].text)
	})

	t.Run("unknown platform returns ErrPlatformNotFound", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		reg := &mockRegistry{messengers: map[string]messenger.Messenger{}}

		n := notify.New(reg, "telegram")
		err := n.NotifyVia(ctx, "unknown", "U123", "hello")

		require.Error(t, err)
		assert.ErrorIs(t, err, notify.ErrPlatformNotFound)
	})

	t.Run("SendNotification error wraps", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		slackMsg := &mockMessenger{platform: "slack", notifyErr: errors.New("timeout")}
		reg := &mockRegistry{messengers: map[string]messenger.Messenger{"slack": slackMsg}}

		n := notify.New(reg, "telegram")
		err := n.NotifyVia(ctx, "slack", "U123", "hello")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "send")
	})
}

// --- NotifyTransition tests ---

func TestNotifyTransition(t *testing.T) {
	t.Parallel()

	newNotifier := func() (*notify.Notifier, *mockMessenger) {
		tg := &mockMessenger{platform: "telegram"}
		reg := &mockRegistry{messengers: map[string]messenger.Messenger{"telegram": tg}}
		return notify.New(reg, "telegram"), tg
	}

	t.Run("submit notifies creator", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		n, tg := newNotifier()
		res := &domain.TransitionResult{
			Status:  domain.TransitionOK,
			Changed: true,
			Task:    sampleTask(domain.TaskStatusOnReview),
		}

		n.NotifyTransition(ctx, domain.ActionSubmitForReview, res)

		require.Len(t, tg.notifications, 1)
		assert.Equal(t, "100", tg.notifications[0].externalID)
		assert.Contains(t, tg.notifications[0].text, "review")
	})

	t.Run("self-close notifies nobody", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		n, tg := newNotifier()
		res := &domain.TransitionResult{
			Status:  domain.TransitionOK,
			Changed: true,
			Task:    sampleTask(domain.TaskStatusClosed),
		}

		n.NotifyTransition(ctx, domain.ActionSubmitForReview, res)

		assert.Empty(t, tg.notifications)
	})

	t.Run("accept notifies assignee", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		n, tg := newNotifier()
		res := &domain.TransitionResult{
			Status:  domain.TransitionOK,
			Changed: true,
			Task:    sampleTask(domain.TaskStatusClosed),
		}

		n.NotifyTransition(ctx, domain.ActionAcceptReview, res)

		require.Len(t, tg.notifications, 1)
		assert.Equal(t, "200", tg.notifications[0].externalID)
		assert.Contains(t, tg.notifications[0].text, "closed")
	})

	t.Run("return notifies assignee with comment", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		n, tg := newNotifier()
		task := sampleTask(domain.TaskStatusActive)
		task.LastReturnComment = "needs tests"
		res := &domain.TransitionResult{
			Status:  domain.TransitionOK,
			Changed: true,
			Task:    task,
		}

		n.NotifyTransition(ctx, domain.ActionReturnToWork, res)

		require.Len(t, tg.notifications, 1)
		assert.Equal(t, "200", tg.notifications[0].externalID)
		assert.Contains(t, tg.notifications[0].text, "needs tests")
	})

	t.Run("reassign notifies both sides", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		n, tg := newNotifier()
		res := &domain.TransitionResult{
			Status:             domain.TransitionOK,
			Changed:            true,
			Task:               sampleTask(domain.TaskStatusActive),
			PreviousAssigneeID: 300,
		}

		n.NotifyTransition(ctx, domain.ActionReassign, res)

		require.Len(t, tg.notifications, 2)
		assert.Equal(t, "200", tg.notifications[0].externalID)
		assert.Equal(t, "300", tg.notifications[1].externalID)
	})

	t.Run("unchanged result notifies nobody", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		n, tg := newNotifier()
		res := &domain.TransitionResult{
			Status:  domain.TransitionOK,
			Changed: false,
			Task:    sampleTask(domain.TaskStatusOnReview),
		}

		n.NotifyTransition(ctx, domain.ActionSubmitForReview, res)

		assert.Empty(t, tg.notifications)
	})

	t.Run("delivery failure is swallowed", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		tg := &mockMessenger{platform: "telegram", notifyErr: errors.New("api down")}
		reg := &mockRegistry{messengers: map[string]messenger.Messenger{"telegram": tg}}
		n := notify.New(reg, "telegram")

		res := &domain.TransitionResult{
			Status:  domain.TransitionOK,
			Changed: true,
			Task:    sampleTask(domain.TaskStatusOnReview),
		}

		// Must not panic or propagate.
		n.NotifyTransition(ctx, domain.ActionSubmitForReview, res)
	})
}

// --- OverdueDigestText tests ---

func TestOverdueDigestText(t *testing.T) {
	t.Parallel()

	deadline := time.Date(2025, 6, 1, 23, 59, 59, 0, time.UTC)
	task := sampleTask(domain.TaskStatusActive)
	task.DeadlineAt = &deadline

	text := notify.OverdueDigestText([]*domain.Task{task})

	assert.Contains(t, text, "Overdue tasks")
	assert.Contains(t, text, "fix the login flow")
	assert.Contains(t, text, "2025-06-01")
}
