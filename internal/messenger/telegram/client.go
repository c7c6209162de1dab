package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/chatops/taskline/internal/messenger"
)

const apiBase = "https://api.telegram.org"

// Client is a minimal Telegram Bot API client covering the calls
// TelegramMessenger needs.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
}

// Compile-time interface check.
var _ TelegramAPI = (*Client)(nil) //nolint:gochecknoglobals // compile-time check

// NewClient creates a Bot API client for the given bot token.
func NewClient(token string) *Client {
	return &Client{
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    apiBase,
	}
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type inlineKeyboard struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      string          `json:"chat_id"`
	Text        string          `json:"text"`
	ReplyMarkup *inlineKeyboard `json:"reply_markup,omitempty"`
}

type editMessageRequest struct {
	ChatID    string `json:"chat_id"`
	MessageID int    `json:"message_id"`
	Text      string `json:"text"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type messageResult struct {
	MessageID int `json:"message_id"`
}

// SendMessage posts a plain text message.
func (c *Client) SendMessage(chatID, text string) (string, error) {
	return c.send(sendMessageRequest{ChatID: chatID, Text: text})
}

// SendMessageWithKeyboard posts a message with an inline keyboard, one
// button per row.
func (c *Client) SendMessageWithKeyboard(chatID, text string, buttons []messenger.ChoiceOption) (string, error) {
	rows := make([][]inlineButton, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, []inlineButton{{Text: b.Label, CallbackData: b.Data}})
	}

	return c.send(sendMessageRequest{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: &inlineKeyboard{InlineKeyboard: rows},
	})
}

// EditMessageText replaces the text of an existing message.
func (c *Client) EditMessageText(chatID, messageID, text string) error {
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("telegram.Client.EditMessageText: message id %q: %w", messageID, err)
	}

	_, err = c.call("editMessageText", editMessageRequest{
		ChatID:    chatID,
		MessageID: msgID,
		Text:      text,
	})
	if err != nil {
		return fmt.Errorf("telegram.Client.EditMessageText: %w", err)
	}

	return nil
}

func (c *Client) send(req sendMessageRequest) (string, error) {
	raw, err := c.call("sendMessage", req)
	if err != nil {
		return "", fmt.Errorf("telegram.Client: %w", err)
	}

	var msg messageResult
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", fmt.Errorf("telegram.Client: decode result: %w", err)
	}

	return strconv.Itoa(msg.MessageID), nil
}

func (c *Client) call(method string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	resp, err := c.httpClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", method, err)
	}
	if !out.OK {
		return nil, fmt.Errorf("%s: api error: %s", method, out.Description)
	}

	return out.Result, nil
}
