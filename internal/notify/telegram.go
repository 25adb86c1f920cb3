package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const sendTimeout = 10 * time.Second

// Telegram sends alerts through the Bot API sendMessage method.
type Telegram struct {
	http   *http.Client
	apiURL string
	token  string
	chatID string
}

// NewTelegram creates a Telegram notifier.
func NewTelegram(apiURL, token, chatID string) *Telegram {
	return &Telegram{
		http:   &http.Client{Timeout: sendTimeout},
		apiURL: strings.TrimRight(apiURL, "/"),
		token:  token,
		chatID: chatID,
	}
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) Notify(ctx context.Context, a Alert) error {
	body, err := json.Marshal(map[string]any{
		"chat_id":                  t.chatID,
		"text":                     a.Text,
		"disable_web_page_preview": true,
	})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	defer resp.Body.Close()

	var tr telegramResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &tr)
	if resp.StatusCode != http.StatusOK || !tr.OK {
		return fmt.Errorf("telegram sendMessage: status %d: %s", resp.StatusCode, tr.Description)
	}
	return nil
}
