package alerts

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// TelegramChannel delivers alerts via a Telegram bot, matching the
// alert-channel-token + target-id shape named in the environment
// variables (§6). Kept deliberately small: this is a side channel, not a
// general-purpose bot client.
type TelegramChannel struct {
	http     *http.Client
	token    string
	targetID string
}

// NewTelegramChannel builds a channel posting to the Telegram Bot API.
func NewTelegramChannel(token, targetID string) *TelegramChannel {
	return &TelegramChannel{
		http:     &http.Client{Timeout: 10 * time.Second},
		token:    token,
		targetID: targetID,
	}
}

func (c *TelegramChannel) Deliver(topic string, severity Severity, message string) error {
	text := fmt.Sprintf("[%s] %s: %s", severity, topic, message)
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", c.token)

	form := url.Values{}
	form.Set("chat_id", c.targetID)
	form.Set("text", text)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.URL.RawQuery = form.Encode()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("telegram api returned status %d", resp.StatusCode)
	}
	return nil
}
