package task_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatops/taskline/internal/domain"
	"github.com/chatops/taskline/internal/task"
)

// submitted creates a task and moves it to on_review.
func submitted(t *testing.T, env *testEnv, messageID int) *domain.Task {
	t.Helper()

	created := env.finalize(t, messageID)
	res, err := env.svc.CompleteTask(context.Background(), task.TransitionParams{
		TaskID: created.ID, ActorUserID: assigneeID, Nonce: "submit-" + created.ID.String(),
	})
	require.NoError(t, err)
	require.Equal(t, domain.TransitionOK, res.Status)
	require.True(t, res.Changed)

	return res.Task
}

// ---------------------------------------------------------------------------
// CompleteTask
// ---------------------------------------------------------------------------

func TestCompleteTask(t *testing.T) {
	t.Parallel()

	t.Run("assignee submits for review", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ctx := context.Background()

		created := env.finalize(t, 100)

		res, err := env.svc.CompleteTask(ctx, task.TransitionParams{
			TaskID: created.ID, ActorUserID: assigneeID, Nonce: "n1",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TransitionOK, res.Status)
		assert.True(t, res.Changed)
		assert.Equal(t, domain.TaskStatusOnReview, res.Task.Status)
		assert.NotNil(t, res.Task.SubmittedForReviewAt)
	})

	t.Run("replayed nonce reports success without changing", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ctx := context.Background()

		created := env.finalize(t, 101)
		p := task.TransitionParams{TaskID: created.ID, ActorUserID: assigneeID, Nonce: "n1"}

		first, err := env.svc.CompleteTask(ctx, p)
		require.NoError(t, err)
		require.True(t, first.Changed)

		second, err := env.svc.CompleteTask(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, domain.TransitionOK, second.Status)
		assert.False(t, second.Changed)
		assert.Equal(t, domain.TaskStatusOnReview, second.Task.Status)
	})

	t.Run("fresh nonce on an already-submitted task is a no-op success", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ctx := context.Background()

		created := env.finalize(t, 102)

		_, err := env.svc.CompleteTask(ctx, task.TransitionParams{
			TaskID: created.ID, ActorUserID: assigneeID, Nonce: "n1",
		})
		require.NoError(t, err)

		res, err := env.svc.CompleteTask(ctx, task.TransitionParams{
			TaskID: created.ID, ActorUserID: assigneeID, Nonce: "n2",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TransitionOK, res.Status)
		assert.False(t, res.Changed)
	})

	t.Run("non-assignee member is rejected", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ctx := context.Background()

		created := env.finalize(t, 103)

		res, err := env.svc.CompleteTask(ctx, task.TransitionParams{
			TaskID: created.ID, ActorUserID: otherID, Nonce: "n1",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TransitionNotAssignee, res.Status)
		assert.False(t, res.Changed)
	})

	t.Run("non-member is rejected before the assignee check", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ctx := context.Background()

		created := env.finalize(t, 104)

		res, err := env.svc.CompleteTask(ctx, task.TransitionParams{
			TaskID: created.ID, ActorUserID: strangerID, Nonce: "n1",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TransitionNotInWorkspace, res.Status)
	})

	t.Run("self-close when creator is the assignee", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ctx := context.Background()

		d := env.startGroupDraft(t, 105)
		_, err := env.svc.SetDraftAssignee(ctx, d.Token, ownerID, ownerID)
		require.NoError(t, err)
		_, err = env.svc.SetDraftPriority(ctx, d.Token, ownerID, domain.PriorityP1)
		require.NoError(t, err)
		_, err = env.svc.SetDraftDeadlineChoice(ctx, d.Token, ownerID, task.DeadlineNone)
		require.NoError(t, err)
		fin, err := env.svc.FinalizeDraft(ctx, d.Token, ownerID)
		require.NoError(t, err)
		require.Equal(t, task.WizardCreated, fin.Status)

		res, err := env.svc.CompleteTask(ctx, task.TransitionParams{
			TaskID: fin.Task.ID, ActorUserID: ownerID, Nonce: "n1",
		})
		require.NoError(t, err)
		assert.True(t, res.Changed)
		assert.Equal(t, domain.TaskStatusClosed, res.Task.Status)
	})

	t.Run("same nonce against a different task is a conflict fault", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ctx := context.Background()

		a := env.finalize(t, 106)
		b := env.finalize(t, 107)

		_, err := env.svc.CompleteTask(ctx, task.TransitionParams{
			TaskID: a.ID, ActorUserID: assigneeID, Nonce: "shared",
		})
		require.NoError(t, err)

		_, err = env.svc.CompleteTask(ctx, task.TransitionParams{
			TaskID: b.ID, ActorUserID: assigneeID, Nonce: "shared",
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})
}

// ---------------------------------------------------------------------------
// AcceptReview
// ---------------------------------------------------------------------------

func TestAcceptReview(t *testing.T) {
	t.Parallel()

	t.Run("owner closes a task on review", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ctx := context.Background()

		sub := submitted(t, env, 110)

		res, err := env.svc.AcceptReview(ctx, task.TransitionParams{
			TaskID: sub.ID, ActorUserID: ownerID, Nonce: "a1",
		})
		require.NoError(t, err)
		assert.True(t, res.Changed)
		assert.Equal(t, domain.TaskStatusClosed, res.Task.Status)
	})

	t.Run("non-owner is forbidden", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ctx := context.Background()

		sub := submitted(t, env, 111)

		res, err := env.svc.AcceptReview(ctx, task.TransitionParams{
			TaskID: sub.ID, ActorUserID: assigneeID, Nonce: "a1",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TransitionForbidden, res.Status)
		assert.Equal(t, domain.TaskStatusOnReview, res.Task.Status)
	})

	t.Run("accepting an active task is a no-op success", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ctx := context.Background()

		created := env.finalize(t, 112)

		res, err := env.svc.AcceptReview(ctx, task.TransitionParams{
			TaskID: created.ID, ActorUserID: ownerID, Nonce: "a1",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TransitionOK, res.Status)
		assert.False(t, res.Changed)
		assert.Equal(t, domain.TaskStatusActive, res.Task.Status)
	})

	t.Run("duplicate accept replays without error", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ctx := context.Background()

		sub := submitted(t, env, 113)
		p := task.TransitionParams{TaskID: sub.ID, ActorUserID: ownerID, Nonce: "a1"}

		first, err := env.svc.AcceptReview(ctx, p)
		require.NoError(t, err)
		require.True(t, first.Changed)

		second, err := env.svc.AcceptReview(ctx, p)
		require.NoError(t, err)
		assert.False(t, second.Changed)
		assert.Equal(t, domain.TaskStatusClosed, second.Task.Status)
	})
}

// ---------------------------------------------------------------------------
// Return to work
// ---------------------------------------------------------------------------

func TestReturnToWork(t *testing.T) {
	t.Parallel()

	t.Run("comment text applies the transition", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ctx := context.Background()

		sub := submitted(t, env, 120)

		begin, err := env.svc.BeginReturnToWorkComment(ctx, task.TransitionParams{
			TaskID: sub.ID, ActorUserID: ownerID, Nonce: "r1",
		})
		require.NoError(t, err)
		require.Equal(t, domain.TransitionOK, begin.Status)

		routing, err := env.svc.RouteText(ctx, ownerID, "missing error handling")
		require.NoError(t, err)
		require.Equal(t, task.RouteReturnComment, routing.Route)

		res := routing.Transition
		require.NotNil(t, res)
		assert.True(t, res.Changed)
		assert.Equal(t, domain.TaskStatusActive, res.Task.Status)
		assert.Equal(t, "missing error handling", res.Task.LastReturnComment)
		require.NotNil(t, res.Task.LastReturnByUserID)
		assert.Equal(t, ownerID, *res.Task.LastReturnByUserID)
	})

	t.Run("capture is consumed after one comment", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ctx := context.Background()

		sub := submitted(t, env, 121)

		_, err := env.svc.BeginReturnToWorkComment(ctx, task.TransitionParams{
			TaskID: sub.ID, ActorUserID: ownerID, Nonce: "r1",
		})
		require.NoError(t, err)

		_, err = env.svc.RouteText(ctx, ownerID, "first comment")
		require.NoError(t, err)

		routing, err := env.svc.RouteText(ctx, ownerID, "second message")
		require.NoError(t, err)
		assert.Equal(t, task.RouteNone, routing.Route)
	})

	t.Run("non-owner cannot arm the return", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ctx := context.Background()

		sub := submitted(t, env, 122)

		res, err := env.svc.BeginReturnToWorkComment(ctx, task.TransitionParams{
			TaskID: sub.ID, ActorUserID: assigneeID, Nonce: "r1",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TransitionForbidden, res.Status)
	})

	t.Run("closed task reports TaskClosed", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ctx := context.Background()

		sub := submitted(t, env, 123)
		_, err := env.svc.AcceptReview(ctx, task.TransitionParams{
			TaskID: sub.ID, ActorUserID: ownerID, Nonce: "a1",
		})
		require.NoError(t, err)

		res, err := env.svc.BeginReturnToWorkComment(ctx, task.TransitionParams{
			TaskID: sub.ID, ActorUserID: ownerID, Nonce: "r1",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TransitionTaskClosed, res.Status)
	})
}

// ---------------------------------------------------------------------------
// Reassign
// ---------------------------------------------------------------------------

func TestReassignTask(t *testing.T) {
	t.Parallel()

	t.Run("owner moves the task to another member", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ctx := context.Background()

		created := env.finalize(t, 130)

		res, err := env.svc.ReassignTask(ctx, task.ReassignParams{
			TaskID: created.ID, ActorUserID: ownerID, NewAssigneeID: otherID, Nonce: "re1",
		})
		require.NoError(t, err)
		assert.True(t, res.Changed)
		assert.Equal(t, otherID, res.Task.AssigneeUserID)
		assert.Equal(t, assigneeID, res.PreviousAssigneeID)
	})

	t.Run("reassigning to the current assignee is a no-op success", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ctx := context.Background()

		created := env.finalize(t, 131)

		res, err := env.svc.ReassignTask(ctx, task.ReassignParams{
			TaskID: created.ID, ActorUserID: ownerID, NewAssigneeID: assigneeID, Nonce: "re1",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TransitionOK, res.Status)
		assert.False(t, res.Changed)
	})

	t.Run("non-member target reports InvalidAssignee", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ctx := context.Background()

		created := env.finalize(t, 132)

		res, err := env.svc.ReassignTask(ctx, task.ReassignParams{
			TaskID: created.ID, ActorUserID: ownerID, NewAssigneeID: strangerID, Nonce: "re1",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TransitionInvalidAssignee, res.Status)
		assert.Equal(t, assigneeID, res.Task.AssigneeUserID)
	})

	t.Run("closed task reports TaskClosed", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ctx := context.Background()

		sub := submitted(t, env, 133)
		_, err := env.svc.AcceptReview(ctx, task.TransitionParams{
			TaskID: sub.ID, ActorUserID: ownerID, Nonce: "a1",
		})
		require.NoError(t, err)

		res, err := env.svc.ReassignTask(ctx, task.ReassignParams{
			TaskID: sub.ID, ActorUserID: ownerID, NewAssigneeID: otherID, Nonce: "re1",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TransitionTaskClosed, res.Status)
	})

	t.Run("non-owner is forbidden", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		ctx := context.Background()

		created := env.finalize(t, 134)

		res, err := env.svc.ReassignTask(ctx, task.ReassignParams{
			TaskID: created.ID, ActorUserID: assigneeID, NewAssigneeID: otherID, Nonce: "re1",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.TransitionForbidden, res.Status)
	})
}

// ---------------------------------------------------------------------------
// Listings
// ---------------------------------------------------------------------------

func TestListings(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	a := env.finalize(t, 140)
	b := env.finalize(t, 141)
	_ = submitted(t, env, 142)

	t.Run("assigned excludes closed and keeps open tasks", func(t *testing.T) {
		tasks, err := env.svc.ListAssigned(ctx, env.wsID, assigneeID, 50)
		require.NoError(t, err)
		assert.Len(t, tasks, 3)
	})

	t.Run("closing removes a task from the assigned view", func(t *testing.T) {
		_, err := env.svc.CompleteTask(ctx, task.TransitionParams{
			TaskID: a.ID, ActorUserID: assigneeID, Nonce: "l1",
		})
		require.NoError(t, err)
		_, err = env.svc.AcceptReview(ctx, task.TransitionParams{
			TaskID: a.ID, ActorUserID: ownerID, Nonce: "l2",
		})
		require.NoError(t, err)

		tasks, err := env.svc.ListAssigned(ctx, env.wsID, assigneeID, 50)
		require.NoError(t, err)
		assert.Len(t, tasks, 2)
	})

	t.Run("on_review view", func(t *testing.T) {
		tasks, err := env.svc.ListOnReview(ctx, env.wsID, 50)
		require.NoError(t, err)
		assert.Len(t, tasks, 1)
	})

	t.Run("created view belongs to the creator and excludes closed", func(t *testing.T) {
		tasks, err := env.svc.ListCreated(ctx, env.wsID, ownerID, 50)
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		ids := []string{tasks[0].ID.String(), tasks[1].ID.String()}
		assert.Contains(t, ids, b.ID.String())
		assert.NotContains(t, ids, a.ID.String())
		for _, got := range tasks {
			assert.Equal(t, ownerID, got.CreatorUserID)
		}
	})
}
