package messenger_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatops/taskline/internal/messenger"
)

func TestCallbackRoundTrip(t *testing.T) {
	t.Parallel()

	taskID := uuid.New()

	tests := []struct {
		name string
		data string
		want messenger.Callback
	}{
		{
			name: "assignee choice",
			data: messenger.EncodeAssigneeChoice("tok1", 42),
			want: messenger.Callback{Kind: messenger.CallbackChooseAssignee, DraftToken: "tok1", UserID: 42},
		},
		{
			name: "negative assignee id survives",
			data: messenger.EncodeAssigneeChoice("tok1", -7),
			want: messenger.Callback{Kind: messenger.CallbackChooseAssignee, DraftToken: "tok1", UserID: -7},
		},
		{
			name: "priority choice",
			data: messenger.EncodePriorityChoice("tok2", "P1"),
			want: messenger.Callback{Kind: messenger.CallbackChoosePriority, DraftToken: "tok2", Priority: "P1"},
		},
		{
			name: "deadline choice",
			data: messenger.EncodeDeadlineChoice("tok3", "tomorrow"),
			want: messenger.Callback{Kind: messenger.CallbackChooseDeadline, DraftToken: "tok3", Deadline: "tomorrow"},
		},
		{
			name: "confirm draft",
			data: messenger.EncodeConfirmDraft("tok4"),
			want: messenger.Callback{Kind: messenger.CallbackConfirmDraft, DraftToken: "tok4"},
		},
		{
			name: "task action",
			data: messenger.EncodeTaskAction("submit", taskID, "n1"),
			want: messenger.Callback{Kind: messenger.CallbackTaskAction, Action: "submit", TaskID: taskID, Nonce: "n1"},
		},
		{
			name: "reassign carries the target",
			data: messenger.EncodeReassign(taskID, "n2", 99),
			want: messenger.Callback{Kind: messenger.CallbackTaskAction, Action: "reassign", TaskID: taskID, Nonce: "n2", AssigneeID: 99},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := messenger.ParseCallback(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestParseCallbackRejectsMalformed(t *testing.T) {
	t.Parallel()

	taskID := uuid.NewString()

	tests := []struct {
		name string
		data string
	}{
		{"empty payload", ""},
		{"unknown prefix", "zzz:tok:1"},
		{"assignee missing user id", "asg:tok"},
		{"assignee user id not a number", "asg:tok:abc"},
		{"assignee extra segment", "asg:tok:1:extra"},
		{"priority missing value", "pri:tok"},
		{"deadline extra segment", "ddl:tok:today:more"},
		{"confirm extra segment", "fin:tok:extra"},
		{"action too few segments", "act:submit:" + taskID},
		{"action task id not a uuid", "act:submit:not-a-uuid:n1"},
		{"reassign target not a number", "act:reassign:" + taskID + ":n1:abc"},
		{"action too many segments", "act:submit:" + taskID + ":n1:5:extra"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := messenger.ParseCallback(tt.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, messenger.ErrBadCallback)
		})
	}
}
