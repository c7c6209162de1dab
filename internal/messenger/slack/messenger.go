package slack

import (
	"context"
	"fmt"

	slacklib "github.com/slack-go/slack"

	"github.com/chatops/taskline/internal/messenger"
)

// SlackAPI abstracts the subset of the Slack client used by SlackMessenger.
// This allows testing without real HTTP calls.
type SlackAPI interface {
	PostMessage(channelID string, options ...slacklib.MsgOption) (string, string, error)
	UpdateMessage(channelID, timestamp string, options ...slacklib.MsgOption) (string, string, string, error)
	PostEphemeral(channelID, userID string, options ...slacklib.MsgOption) (string, error)
}

// SlackMessenger implements messenger.Messenger for Slack.
type SlackMessenger struct {
	api SlackAPI
}

// Compile-time interface check.
var _ messenger.Messenger = (*SlackMessenger)(nil) //nolint:gochecknoglobals // compile-time check

// NewSlackMessenger creates a SlackMessenger with the given API client.
func NewSlackMessenger(api SlackAPI) *SlackMessenger {
	return &SlackMessenger{api: api}
}

// SendMessage posts a text message to a Slack channel and returns the
// message timestamp as MessageID.
func (m *SlackMessenger) SendMessage(_ context.Context, chatID, text string) (messenger.MessageID, error) {
	_, ts, err := m.api.PostMessage(chatID, slacklib.MsgOptionText(text, false))
	if err != nil {
		return "", fmt.Errorf("slack.SlackMessenger.SendMessage: %w", err)
	}

	return messenger.MessageID(ts), nil
}

// SendChoices posts a message with Block Kit buttons attached.
func (m *SlackMessenger) SendChoices(_ context.Context, chatID, text string, options []messenger.ChoiceOption) (messenger.MessageID, error) {
	blocks := BuildChoiceBlocks(text, options)

	_, ts, err := m.api.PostMessage(chatID,
		slacklib.MsgOptionText(text, false),
		slacklib.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return "", fmt.Errorf("slack.SlackMessenger.SendChoices: %w", err)
	}

	return messenger.MessageID(ts), nil
}

// UpdateMessage edits an existing Slack message.
func (m *SlackMessenger) UpdateMessage(_ context.Context, chatID string, messageID messenger.MessageID, text string) error {
	_, _, _, err := m.api.UpdateMessage(chatID, string(messageID), slacklib.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack.SlackMessenger.UpdateMessage: %w", err)
	}

	return nil
}

// SendNotification sends an ephemeral notification to a Slack user.
// The userExternalID is used as both the channel and user ID for
// DM-style ephemeral delivery.
func (m *SlackMessenger) SendNotification(_ context.Context, userExternalID, text string) error {
	_, err := m.api.PostEphemeral(userExternalID, userExternalID, slacklib.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack.SlackMessenger.SendNotification: %w", err)
	}

	return nil
}

// Platform returns the messenger platform identifier.
func (m *SlackMessenger) Platform() string {
	return "slack"
}
