package messenger

import "context"

// MessageID uniquely identifies a message within a messenger platform.
type MessageID string

// ChoiceOption represents one button in an inline keyboard. Data is the
// opaque callback payload echoed back when the button is pressed.
type ChoiceOption struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Messenger abstracts communication with a chat platform (Telegram,
// Slack, etc.). Implementations handle platform-specific API calls; the
// interface is platform-agnostic.
type Messenger interface {
	// SendMessage posts a text message to a chat and returns its platform message ID.
	SendMessage(ctx context.Context, chatID, text string) (MessageID, error)

	// SendChoices posts a message with inline choice buttons attached.
	SendChoices(ctx context.Context, chatID, text string, options []ChoiceOption) (MessageID, error)

	// UpdateMessage edits an existing message in a chat, replacing any buttons.
	UpdateMessage(ctx context.Context, chatID string, messageID MessageID, text string) error

	// SendNotification sends a direct notification to a user by their
	// external platform ID.
	SendNotification(ctx context.Context, userExternalID, text string) error

	// Platform returns the messenger platform identifier (e.g. "telegram", "slack").
	Platform() string
}
