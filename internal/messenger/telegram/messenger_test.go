package telegram_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatops/taskline/internal/messenger"
	"github.com/chatops/taskline/internal/messenger/telegram"
)

// --- mock TelegramAPI ---

type mockTelegramAPI struct {
	// SendMessage
	sendChatID string
	sendText   string
	sendMsgID  string
	sendErr    error

	// SendMessageWithKeyboard
	kbChatID  string
	kbText    string
	kbButtons []messenger.ChoiceOption
	kbMsgID   string
	kbErr     error

	// EditMessageText
	editChatID string
	editMsgID  string
	editText   string
	editErr    error
}

func (m *mockTelegramAPI) SendMessage(chatID, text string) (string, error) {
	m.sendChatID = chatID
	m.sendText = text
	if m.sendErr != nil {
		return "", m.sendErr
	}
	return m.sendMsgID, nil
}

func (m *mockTelegramAPI) SendMessageWithKeyboard(chatID, text string, buttons []messenger.ChoiceOption) (string, error) {
	m.kbChatID = chatID
	m.kbText = text
	m.kbButtons = buttons
	if m.kbErr != nil {
		return "", m.kbErr
	}
	return m.kbMsgID, nil
}

func (m *mockTelegramAPI) EditMessageText(chatID, messageID, text string) error {
	m.editChatID = chatID
	m.editMsgID = messageID
	m.editText = text
	return m.editErr
}

// --- TelegramMessenger tests ---

func TestTelegramMessenger_SendMessage(t *testing.T) {
	t.Parallel()

	t.Run("success returns MessageID", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		api := &mockTelegramAPI{sendMsgID: "42"}
		m := telegram.NewTelegramMessenger(api)

		msgID, err := m.SendMessage(ctx, "chat-123", "hello world")

		require.NoError(t, err)
		assert.Equal(t, messenger.MessageID("42"), msgID)
		assert.Equal(t, "chat-123", api.sendChatID)
		assert.Equal(t, "hello world", api.sendText)
	})

	t.Run("error wraps Telegram API error", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		api := &mockTelegramAPI{sendErr: errors.New("chat_not_found")}
		m := telegram.NewTelegramMessenger(api)

		msgID, err := m.SendMessage(ctx, "chat-999", "hello")

		require.Error(t, err)
		assert.Empty(t, msgID)
		assert.Contains(t, err.Error(), "telegram.TelegramMessenger.SendMessage")
		assert.Contains(t, err.Error(), "chat_not_found")
	})
}

func TestTelegramMessenger_SendChoices(t *testing.T) {
	t.Parallel()

	t.Run("success passes buttons through", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		api := &mockTelegramAPI{kbMsgID: "prompt-001"}
		m := telegram.NewTelegramMessenger(api)

		opts := []messenger.ChoiceOption{
			{Label: "P1", Data: "pri:tok:P1"},
			{Label: "P2", Data: "pri:tok:P2"},
		}

		msgID, err := m.SendChoices(ctx, "chat-123", "pick a priority", opts)

		require.NoError(t, err)
		assert.Equal(t, messenger.MessageID("prompt-001"), msgID)
		assert.Equal(t, "chat-123", api.kbChatID)
		assert.Equal(t, "pick a priority", api.kbText)
		assert.Equal(t, opts, api.kbButtons)
	})

	t.Run("error wraps Telegram API error", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		api := &mockTelegramAPI{kbErr: errors.New("keyboard_failed")}
		m := telegram.NewTelegramMessenger(api)

		msgID, err := m.SendChoices(ctx, "chat-123", "question", nil)

		require.Error(t, err)
		assert.Empty(t, msgID)
		assert.Contains(t, err.Error(), "telegram.TelegramMessenger.SendChoices")
		assert.Contains(t, err.Error(), "keyboard_failed")
	})
}

func TestTelegramMessenger_UpdateMessage(t *testing.T) {
	t.Parallel()

	t.Run("success calls EditMessageText with correct params", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		api := &mockTelegramAPI{}
		m := telegram.NewTelegramMessenger(api)

		err := m.UpdateMessage(ctx, "chat-123", messenger.MessageID("42"), "updated text")

		require.NoError(t, err)
		assert.Equal(t, "chat-123", api.editChatID)
		assert.Equal(t, "42", api.editMsgID)
		assert.Equal(t, "updated text", api.editText)
	})

	t.Run("error wraps Telegram API error", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		api := &mockTelegramAPI{editErr: errors.New("cant_edit_message")}
		m := telegram.NewTelegramMessenger(api)

		err := m.UpdateMessage(ctx, "chat-123", messenger.MessageID("42"), "new text")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "telegram.TelegramMessenger.UpdateMessage")
		assert.Contains(t, err.Error(), "cant_edit_message")
	})
}

func TestTelegramMessenger_SendNotification(t *testing.T) {
	t.Parallel()

	t.Run("success sends message directly to user chat ID", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		api := &mockTelegramAPI{sendMsgID: "notif-001"}
		m := telegram.NewTelegramMessenger(api)

		err := m.SendNotification(ctx, "user-123", "you have a new task")

		require.NoError(t, err)
		assert.Equal(t, "user-123", api.sendChatID)
		assert.Equal(t, "you have a new task", api.sendText)
	})

	t.Run("error wraps Telegram API error", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		api := &mockTelegramAPI{sendErr: errors.New("user_not_found")}
		m := telegram.NewTelegramMessenger(api)

		err := m.SendNotification(ctx, "user-999", "notification")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "telegram.TelegramMessenger.SendNotification")
		assert.Contains(t, err.Error(), "user_not_found")
	})
}

func TestTelegramMessenger_Platform(t *testing.T) {
	t.Parallel()

	api := &mockTelegramAPI{}
	m := telegram.NewTelegramMessenger(api)

	assert.Equal(t, "telegram", m.Platform())
}
