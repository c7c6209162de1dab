package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatops/taskline/internal/domain"
	"github.com/chatops/taskline/internal/messenger"
	"github.com/chatops/taskline/internal/notify"
	"github.com/chatops/taskline/internal/server"
	"github.com/chatops/taskline/internal/store/memory"
	redisstore "github.com/chatops/taskline/internal/store/redis"
	"github.com/chatops/taskline/internal/task"
	"github.com/chatops/taskline/internal/workspace"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

type recordedMessage struct {
	chatID  string
	text    string
	options []messenger.ChoiceOption
}

type recordingMessenger struct {
	mu       sync.Mutex
	messages []recordedMessage
	notes    []recordedMessage
}

var _ messenger.Messenger = (*recordingMessenger)(nil)

func (m *recordingMessenger) SendMessage(_ context.Context, chatID, text string) (messenger.MessageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, recordedMessage{chatID: chatID, text: text})

	return "1", nil
}

func (m *recordingMessenger) SendChoices(_ context.Context, chatID, text string, options []messenger.ChoiceOption) (messenger.MessageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, recordedMessage{chatID: chatID, text: text, options: options})

	return "1", nil
}

func (m *recordingMessenger) UpdateMessage(context.Context, string, messenger.MessageID, string) error {
	return nil
}

func (m *recordingMessenger) SendNotification(_ context.Context, userExternalID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = append(m.notes, recordedMessage{chatID: userExternalID, text: text})

	return nil
}

func (m *recordingMessenger) Platform() string { return "telegram" }

func (m *recordingMessenger) lastMessage(t *testing.T) recordedMessage {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.messages)

	return m.messages[len(m.messages)-1]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*redisstore.TaskEvent
}

func (p *recordingPublisher) PublishTaskEvent(_ context.Context, ev *redisstore.TaskEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)

	return nil
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

const groupChat int64 = -42

type webhookEnv struct {
	handler   *server.WebhookHandler
	messenger *recordingMessenger
	publisher *recordingPublisher
	tasks     *task.Service
}

func newWebhookEnv(t *testing.T) *webhookEnv {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	store := memory.New(clock)

	taskSvc := task.NewService(
		store.Tasks(), store.Drafts(), store.Captures(),
		store.Members(), store.Workspaces(), clock,
	)
	wsSvc := workspace.NewService(store.Workspaces(), store.Members(), store.Invites(), clock)

	rec := &recordingMessenger{}
	registry := notify.NewRegistry()
	registry.Register("telegram", rec)
	notifier := notify.New(registry, "telegram")

	pub := &recordingPublisher{}
	handler := server.NewWebhookHandler(taskSvc, wsSvc, store.Members(), registry, notifier, pub)

	return &webhookEnv{handler: handler, messenger: rec, publisher: pub, tasks: taskSvc}
}

func (e *webhookEnv) post(t *testing.T, u server.Update) (int, string) {
	t.Helper()

	body, err := json.Marshal(u)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook/updates", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var resp struct {
		Result string `json:"result"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&resp)

	return rec.Code, resp.Result
}

func groupUpdate(senderID int64, text string) server.Update {
	return server.Update{
		ChatID:    groupChat,
		ChatTitle: "backend",
		IsGroup:   true,
		Sender:    server.Sender{UserID: senderID, Username: "alice"},
		Text:      text,
	}
}

func dmUpdate(senderID int64, text string) server.Update {
	return server.Update{
		ChatID: senderID,
		Sender: server.Sender{UserID: senderID, Username: "alice"},
		Text:   text,
	}
}

// seedWorkspace claims the group for user 1 and registers user 2.
func (e *webhookEnv) seedWorkspace(t *testing.T) {
	t.Helper()

	code, _ := e.post(t, groupUpdate(1, "hello"))
	require.Equal(t, http.StatusOK, code)
	code, _ = e.post(t, groupUpdate(2, "hi"))
	require.Equal(t, http.StatusOK, code)
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

func TestWebhookDecoding(t *testing.T) {
	t.Parallel()

	t.Run("malformed body is a 400", func(t *testing.T) {
		t.Parallel()
		env := newWebhookEnv(t)

		req := httptest.NewRequest(http.MethodPost, "/webhook/updates", bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing sender is a 400", func(t *testing.T) {
		t.Parallel()
		env := newWebhookEnv(t)

		code, _ := env.post(t, server.Update{ChatID: groupChat, IsGroup: true, Text: "hi"})
		assert.Equal(t, http.StatusBadRequest, code)
	})
}

// ---------------------------------------------------------------------------
// Group commands
// ---------------------------------------------------------------------------

func TestGroupCommands(t *testing.T) {
	t.Parallel()

	t.Run("plain chatter is ignored", func(t *testing.T) {
		t.Parallel()
		env := newWebhookEnv(t)

		code, result := env.post(t, groupUpdate(1, "good morning"))
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ignored", result)
	})

	t.Run("task command without a reply asks for one", func(t *testing.T) {
		t.Parallel()
		env := newWebhookEnv(t)

		_, result := env.post(t, groupUpdate(1, "/task"))
		assert.Equal(t, "task_needs_reply", result)
		assert.Contains(t, env.messenger.lastMessage(t).text, "Reply to the message")
	})

	t.Run("task command on a reply opens the wizard with a roster", func(t *testing.T) {
		t.Parallel()
		env := newWebhookEnv(t)
		env.seedWorkspace(t)

		u := groupUpdate(1, "/task")
		u.ReplyTo = &server.ReplyRef{MessageID: 77, Text: "fix the deploy script"}

		_, result := env.post(t, u)
		assert.Equal(t, "started", result)

		prompt := env.messenger.lastMessage(t)
		assert.Contains(t, prompt.text, "Who should this task go to?")
		require.Len(t, prompt.options, 2, "both seeded members offered")
	})

	t.Run("bot mention suffix is stripped", func(t *testing.T) {
		t.Parallel()
		env := newWebhookEnv(t)

		u := groupUpdate(1, "/task@taskline_bot")
		_, result := env.post(t, u)
		assert.Equal(t, "task_needs_reply", result)
	})

	t.Run("invite from a non-owner is refused", func(t *testing.T) {
		t.Parallel()
		env := newWebhookEnv(t)
		env.seedWorkspace(t)

		_, result := env.post(t, groupUpdate(2, "/invite"))
		assert.Equal(t, "invite_forbidden", result)
	})

	t.Run("invite token goes to the owner privately", func(t *testing.T) {
		t.Parallel()
		env := newWebhookEnv(t)
		env.seedWorkspace(t)

		_, result := env.post(t, groupUpdate(1, "/invite"))
		assert.Equal(t, "invite_created", result)

		env.messenger.mu.Lock()
		defer env.messenger.mu.Unlock()
		require.Len(t, env.messenger.notes, 1)
		assert.Equal(t, "1", env.messenger.notes[0].chatID)
		assert.Contains(t, env.messenger.notes[0].text, "Invite token: ")
	})

	t.Run("archive is owner only", func(t *testing.T) {
		t.Parallel()
		env := newWebhookEnv(t)
		env.seedWorkspace(t)

		_, result := env.post(t, groupUpdate(2, "/archive"))
		assert.Equal(t, "archive_forbidden", result)

		_, result = env.post(t, groupUpdate(1, "/archive"))
		assert.Equal(t, "archived", result)
	})
}

// ---------------------------------------------------------------------------
// Wizard callbacks
// ---------------------------------------------------------------------------

// startWizard opens a draft for message 77 and returns its token, pulled
// out of the assignee prompt's button payloads.
func (e *webhookEnv) startWizard(t *testing.T) string {
	t.Helper()

	u := groupUpdate(1, "/task")
	u.ReplyTo = &server.ReplyRef{MessageID: 77, Text: "fix the deploy script"}
	_, result := e.post(t, u)
	require.Equal(t, "started", result)

	prompt := e.messenger.lastMessage(t)
	require.NotEmpty(t, prompt.options)

	cb, err := messenger.ParseCallback(prompt.options[0].Data)
	require.NoError(t, err)

	return cb.DraftToken
}

func callbackUpdate(senderID int64, data string) server.Update {
	return server.Update{
		ChatID:   groupChat,
		IsGroup:  true,
		Sender:   server.Sender{UserID: senderID},
		Callback: data,
	}
}

func TestWizardCallbacks(t *testing.T) {
	t.Parallel()

	t.Run("full flow creates the task and fans out", func(t *testing.T) {
		t.Parallel()
		env := newWebhookEnv(t)
		env.seedWorkspace(t)
		token := env.startWizard(t)

		_, result := env.post(t, callbackUpdate(1, messenger.EncodeAssigneeChoice(token, 2)))
		assert.Equal(t, "updated", result)
		assert.Contains(t, env.messenger.lastMessage(t).text, "Pick a priority")

		_, result = env.post(t, callbackUpdate(1, messenger.EncodePriorityChoice(token, "P1")))
		assert.Equal(t, "updated", result)
		assert.Contains(t, env.messenger.lastMessage(t).text, "Pick a deadline")

		_, result = env.post(t, callbackUpdate(1, messenger.EncodeDeadlineChoice(token, "tomorrow")))
		assert.Equal(t, "confirm", result)
		assert.Contains(t, env.messenger.lastMessage(t).text, "Create this task?")

		_, result = env.post(t, callbackUpdate(1, messenger.EncodeConfirmDraft(token)))
		assert.Equal(t, "created", result)

		// The assignee hears about the new task.
		env.messenger.mu.Lock()
		require.Len(t, env.messenger.notes, 1)
		assert.Equal(t, "2", env.messenger.notes[0].chatID)
		env.messenger.mu.Unlock()

		// And the event goes out.
		env.publisher.mu.Lock()
		require.Len(t, env.publisher.events, 1)
		assert.Equal(t, "task.created", env.publisher.events[0].Name)
		env.publisher.mu.Unlock()
	})

	t.Run("invalid priority in the payload is a bad callback", func(t *testing.T) {
		t.Parallel()
		env := newWebhookEnv(t)
		env.seedWorkspace(t)
		token := env.startWizard(t)

		_, result := env.post(t, callbackUpdate(1, messenger.EncodePriorityChoice(token, "P9")))
		assert.Equal(t, "bad_callback", result)
	})

	t.Run("garbage callback payload is tolerated", func(t *testing.T) {
		t.Parallel()
		env := newWebhookEnv(t)

		_, result := env.post(t, callbackUpdate(1, "what:is:this"))
		assert.Equal(t, "bad_callback", result)
	})

	t.Run("manual deadline asks for a date", func(t *testing.T) {
		t.Parallel()
		env := newWebhookEnv(t)
		env.seedWorkspace(t)
		token := env.startWizard(t)

		_, result := env.post(t, callbackUpdate(1, messenger.EncodeAssigneeChoice(token, 2)))
		require.Equal(t, "updated", result)
		_, result = env.post(t, callbackUpdate(1, messenger.EncodePriorityChoice(token, "P2")))
		require.Equal(t, "updated", result)

		_, result = env.post(t, callbackUpdate(1, messenger.EncodeDeadlineChoice(token, "manual")))
		assert.Equal(t, "await_input", result)
		assert.Contains(t, env.messenger.lastMessage(t).text, "YYYY-MM-DD")

		// The date arrives as the creator's next DM.
		_, result = env.post(t, dmUpdate(1, "2025-06-20"))
		assert.Equal(t, "deadline_input", result)
		assert.Contains(t, env.messenger.lastMessage(t).text, "Create this task?")
	})
}

// ---------------------------------------------------------------------------
// Task action callbacks
// ---------------------------------------------------------------------------

// createTask drives the wizard to a live task assigned to user 2.
func (e *webhookEnv) createTask(t *testing.T) *domain.Task {
	t.Helper()

	token := e.startWizard(t)
	_, result := e.post(t, callbackUpdate(1, messenger.EncodeAssigneeChoice(token, 2)))
	require.Equal(t, "updated", result)
	_, result = e.post(t, callbackUpdate(1, messenger.EncodePriorityChoice(token, "P1")))
	require.Equal(t, "updated", result)
	_, result = e.post(t, callbackUpdate(1, messenger.EncodeDeadlineChoice(token, "none")))
	require.Equal(t, "confirm", result)
	_, result = e.post(t, callbackUpdate(1, messenger.EncodeConfirmDraft(token)))
	require.Equal(t, "created", result)

	e.publisher.mu.Lock()
	require.NotEmpty(t, e.publisher.events)
	taskID := e.publisher.events[len(e.publisher.events)-1].TaskID
	e.publisher.mu.Unlock()

	created, err := e.tasks.GetTask(context.Background(), taskID)
	require.NoError(t, err)

	return created
}

func TestTaskActionCallbacks(t *testing.T) {
	t.Parallel()

	t.Run("submit accept and events", func(t *testing.T) {
		t.Parallel()
		env := newWebhookEnv(t)
		env.seedWorkspace(t)
		created := env.createTask(t)

		_, result := env.post(t, callbackUpdate(2, messenger.EncodeTaskAction("submit", created.ID, "n1")))
		assert.Equal(t, "ok", result)

		_, result = env.post(t, callbackUpdate(1, messenger.EncodeTaskAction("accept", created.ID, "n2")))
		assert.Equal(t, "ok", result)

		env.publisher.mu.Lock()
		defer env.publisher.mu.Unlock()
		require.Len(t, env.publisher.events, 3)
		assert.Equal(t, "task.on_review", env.publisher.events[1].Name)
	})

	t.Run("replayed nonce reports unchanged", func(t *testing.T) {
		t.Parallel()
		env := newWebhookEnv(t)
		env.seedWorkspace(t)
		created := env.createTask(t)

		data := messenger.EncodeTaskAction("submit", created.ID, "n1")
		_, result := env.post(t, callbackUpdate(2, data))
		require.Equal(t, "ok", result)

		_, result = env.post(t, callbackUpdate(2, data))
		assert.Equal(t, "unchanged", result)
	})

	t.Run("non-assignee cannot submit", func(t *testing.T) {
		t.Parallel()
		env := newWebhookEnv(t)
		env.seedWorkspace(t)
		created := env.createTask(t)

		_, result := env.post(t, callbackUpdate(1, messenger.EncodeTaskAction("submit", created.ID, "n1")))
		assert.Equal(t, "not_assignee", result)
	})

	t.Run("return asks for a comment then applies it", func(t *testing.T) {
		t.Parallel()
		env := newWebhookEnv(t)
		env.seedWorkspace(t)
		created := env.createTask(t)

		_, result := env.post(t, callbackUpdate(2, messenger.EncodeTaskAction("submit", created.ID, "n1")))
		require.Equal(t, "ok", result)

		_, result = env.post(t, callbackUpdate(1, messenger.EncodeTaskAction("return", created.ID, "n2")))
		assert.Equal(t, "awaiting_return_comment", result)
		assert.Contains(t, env.messenger.lastMessage(t).text, "return comment")

		_, result = env.post(t, dmUpdate(1, "needs a changelog entry"))
		assert.Equal(t, "return_comment", result)

		got, err := env.tasks.GetTask(context.Background(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusActive, got.Status)
		assert.Equal(t, "needs a changelog entry", got.LastReturnComment)
	})

	t.Run("reassign notifies both assignees", func(t *testing.T) {
		t.Parallel()
		env := newWebhookEnv(t)
		env.seedWorkspace(t)
		created := env.createTask(t)

		_, result := env.post(t, callbackUpdate(1, messenger.EncodeReassign(created.ID, "n1", 1)))
		assert.Equal(t, "ok", result)

		got, err := env.tasks.GetTask(context.Background(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.AssigneeUserID)
	})
}

// ---------------------------------------------------------------------------
// Direct messages
// ---------------------------------------------------------------------------

func TestDirectMessages(t *testing.T) {
	t.Parallel()

	t.Run("join with a bad token", func(t *testing.T) {
		t.Parallel()
		env := newWebhookEnv(t)

		_, result := env.post(t, dmUpdate(5, "/join nope"))
		assert.Equal(t, "invite_invalid", result)
	})

	t.Run("join without a token", func(t *testing.T) {
		t.Parallel()
		env := newWebhookEnv(t)

		_, result := env.post(t, dmUpdate(5, "/join"))
		assert.Equal(t, "join_needs_token", result)
	})

	t.Run("listings need a workspace", func(t *testing.T) {
		t.Parallel()
		env := newWebhookEnv(t)

		_, result := env.post(t, dmUpdate(5, "/mytasks"))
		assert.Equal(t, "no_workspace", result)
	})

	t.Run("mytasks renders the assigned list", func(t *testing.T) {
		t.Parallel()
		env := newWebhookEnv(t)
		env.seedWorkspace(t)
		env.createTask(t)

		_, result := env.post(t, dmUpdate(2, "/mytasks"))
		assert.Equal(t, "listed", result)

		list := env.messenger.lastMessage(t)
		assert.Contains(t, list.text, "[P1]")
		assert.Contains(t, list.text, "fix the deploy script")
	})

	t.Run("free text with nothing pending routes nowhere", func(t *testing.T) {
		t.Parallel()
		env := newWebhookEnv(t)

		_, result := env.post(t, dmUpdate(5, "hello bot"))
		assert.Equal(t, "none", result)
	})
}
