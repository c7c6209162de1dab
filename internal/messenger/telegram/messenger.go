package telegram

import (
	"context"
	"fmt"

	"github.com/chatops/taskline/internal/messenger"
)

// TelegramAPI abstracts the subset of the Telegram Bot API used by
// TelegramMessenger. This allows testing without real HTTP calls.
type TelegramAPI interface {
	SendMessage(chatID, text string) (messageID string, err error)
	SendMessageWithKeyboard(chatID, text string, buttons []messenger.ChoiceOption) (messageID string, err error)
	EditMessageText(chatID, messageID, text string) error
}

// TelegramMessenger implements messenger.Messenger for Telegram.
type TelegramMessenger struct {
	api TelegramAPI
}

// Compile-time interface check.
var _ messenger.Messenger = (*TelegramMessenger)(nil) //nolint:gochecknoglobals // compile-time check

// NewTelegramMessenger creates a TelegramMessenger with the given API client.
func NewTelegramMessenger(api TelegramAPI) *TelegramMessenger {
	return &TelegramMessenger{api: api}
}

// SendMessage posts a text message to a Telegram chat and returns the message ID.
func (m *TelegramMessenger) SendMessage(_ context.Context, chatID, text string) (messenger.MessageID, error) {
	msgID, err := m.api.SendMessage(chatID, text)
	if err != nil {
		return "", fmt.Errorf("telegram.TelegramMessenger.SendMessage: %w", err)
	}

	return messenger.MessageID(msgID), nil
}

// SendChoices posts a message with an inline keyboard attached.
func (m *TelegramMessenger) SendChoices(_ context.Context, chatID, text string, options []messenger.ChoiceOption) (messenger.MessageID, error) {
	msgID, err := m.api.SendMessageWithKeyboard(chatID, text, options)
	if err != nil {
		return "", fmt.Errorf("telegram.TelegramMessenger.SendChoices: %w", err)
	}

	return messenger.MessageID(msgID), nil
}

// UpdateMessage edits an existing Telegram message. Editing drops any
// inline keyboard, which is how spent wizard prompts are retired.
func (m *TelegramMessenger) UpdateMessage(_ context.Context, chatID string, messageID messenger.MessageID, text string) error {
	err := m.api.EditMessageText(chatID, string(messageID), text)
	if err != nil {
		return fmt.Errorf("telegram.TelegramMessenger.UpdateMessage: %w", err)
	}

	return nil
}

// SendNotification sends a direct message to a Telegram user.
// Telegram uses the chat ID directly for DMs, so no separate channel
// creation is needed.
func (m *TelegramMessenger) SendNotification(_ context.Context, userExternalID, text string) error {
	_, err := m.api.SendMessage(userExternalID, text)
	if err != nil {
		return fmt.Errorf("telegram.TelegramMessenger.SendNotification: %w", err)
	}

	return nil
}

// Platform returns the messenger platform identifier.
func (m *TelegramMessenger) Platform() string {
	return "telegram"
}
