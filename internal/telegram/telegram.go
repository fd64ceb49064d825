package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/affstack/deal-search-bot/internal/format"
)

const defaultBaseURL = "https://api.telegram.org"

// Client is a thin Telegram Bot API client. Only the handful of methods the
// bot needs are implemented; everything else stays out of scope.
type Client struct {
	token       string
	baseURL     string
	client      *http.Client
	rateLimiter *rate.Limiter
}

func New(token string) *Client {
	return &Client{
		token:   token,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		// Bot API allows ~30 messages/second overall.
		rateLimiter: rate.NewLimiter(rate.Limit(25), 5),
	}
}

// Update is an inbound webhook event.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text,omitempty"`
}

type User struct {
	ID int64 `json:"id"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

// ParseUpdate decodes a webhook request body.
func ParseUpdate(r io.Reader) (*Update, error) {
	var u Update
	if err := json.NewDecoder(r).Decode(&u); err != nil {
		return nil, fmt.Errorf("failed to decode update: %w", err)
	}
	return &u, nil
}

// Internal wire structures.
type inlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type inlineKeyboardMarkup struct {
	InlineKeyboard [][]inlineKeyboardButton `json:"inline_keyboard"`
}

type sendMessagePayload struct {
	ChatID      int64                 `json:"chat_id"`
	MessageID   int64                 `json:"message_id,omitempty"`
	Text        string                `json:"text"`
	ReplyMarkup *inlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// Deliver sends a render instruction to a chat. When the render asks for an
// edit and a message id is known, the existing message is edited in place.
func (c *Client) Deliver(ctx context.Context, chatID, messageID int64, r format.Render) error {
	if c.token == "" {
		return nil
	}

	payload := sendMessagePayload{
		ChatID:      chatID,
		Text:        r.Text,
		ReplyMarkup: buildKeyboard(r.Buttons),
	}

	method := "sendMessage"
	if r.Edit && messageID != 0 {
		method = "editMessageText"
		payload.MessageID = messageID
	}
	return c.call(ctx, method, payload)
}

// AnswerCallback acknowledges a button press so the client stops its
// loading spinner.
func (c *Client) AnswerCallback(ctx context.Context, callbackID string) error {
	if c.token == "" {
		return nil
	}
	return c.call(ctx, "answerCallbackQuery", map[string]string{
		"callback_query_id": callbackID,
	})
}

func buildKeyboard(rows [][]format.Button) *inlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	markup := &inlineKeyboardMarkup{}
	for _, row := range rows {
		var wire []inlineKeyboardButton
		for _, b := range row {
			wire = append(wire, inlineKeyboardButton{Text: b.Label, CallbackData: b.Payload})
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, wire)
	}
	return markup
}

func (c *Client) call(ctx context.Context, method string, payload any) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBytes, _ := io.ReadAll(resp.Body)
	var apiResp apiResponse
	if err := json.Unmarshal(respBytes, &apiResp); err != nil {
		return fmt.Errorf("telegram %s: unexpected response %q", method, string(respBytes))
	}
	if !apiResp.OK {
		return fmt.Errorf("telegram %s failed: %s", method, apiResp.Description)
	}
	return nil
}
