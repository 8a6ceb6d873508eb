// Package telegram provides a minimal client for delivering ticket reminders
// through the Telegram Bot API. Recipients are chat IDs taken from the
// notification rules.
package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client sends messages on behalf of the maintenance bot.
type Client struct {
	token  string
	client *http.Client
}

// NewClient creates a Telegram client for the given bot token.
func NewClient(token string) *Client {
	return &Client{
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// Send delivers msg to the Telegram chat identified by to. A non-200 API
// response is reported as an error so the dispatcher can count the item as
// failed.
func (c *Client) Send(to string, msg string) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", c.token)

	body, err := json.Marshal(sendMessageRequest{ChatID: to, Text: msg})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API error: %s", resp.Status)
	}

	return nil
}
