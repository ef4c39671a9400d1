package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultTelegramBaseURL is the production Bot API endpoint.
const defaultTelegramBaseURL = "https://api.telegram.org"

// TelegramConfig configures a [Telegram] notifier.
type TelegramConfig struct {
	// BotToken authenticates against the Bot API. Required.
	BotToken string

	// ChatID is the destination chat. Required.
	ChatID string

	// BaseURL overrides the API endpoint. Tests point this at a local server.
	BaseURL string

	// HTTPClient defaults to a client with a 10s timeout.
	HTTPClient *http.Client
}

// Telegram delivers messages to a Telegram chat via the Bot API sendMessage
// method.
type Telegram struct {
	token   string
	chatID  string
	baseURL string
	http    *http.Client
}

var _ Notifier = (*Telegram)(nil)

// NewTelegram creates a Telegram notifier.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("notify: telegram requires a bot token")
	}
	if cfg.ChatID == "" {
		return nil, fmt.Errorf("notify: telegram requires a chat ID")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTelegramBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Telegram{
		token:   cfg.BotToken,
		chatID:  cfg.ChatID,
		baseURL: cfg.BaseURL,
		http:    cfg.HTTPClient,
	}, nil
}

// Name implements [Notifier].
func (t *Telegram) Name() string { return "telegram" }

// Send implements [Notifier].
func (t *Telegram) Send(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("notify: telegram marshal: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("notify: telegram send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notify: telegram send: status %d: %s", resp.StatusCode, body)
	}
	return nil
}
