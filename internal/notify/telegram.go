package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"triarb/internal/infra/network"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender posts HTML formatted messages through the Bot API.
type TelegramSender struct {
	token  string
	chatID string
	rest   *resty.Client
}

func NewTelegramSender(token, chatID string) *TelegramSender {
	return NewTelegramSenderWithBaseURL(telegramAPI, token, chatID)
}

func NewTelegramSenderWithBaseURL(baseURL, token, chatID string) *TelegramSender {
	return &TelegramSender{token: token, chatID: chatID, rest: network.NewRESTClient(baseURL, 10*time.Second)}
}

func (t *TelegramSender) Send(ctx context.Context, text string) error {
	var out struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	resp, err := t.rest.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"chat_id":                  t.chatID,
			"text":                     text,
			"parse_mode":               "HTML",
			"disable_web_page_preview": true,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/bot" + t.token + "/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	if resp.IsError() || !out.OK {
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode(), out.Description)
	}
	return nil
}

func (t *TelegramSender) Name() string { return "telegram" }

func (t *TelegramSender) Close() error {
	t.rest.GetClient().CloseIdleConnections()
	return nil
}
