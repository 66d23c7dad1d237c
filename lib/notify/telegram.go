package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// Telegram sends change messages to a fixed set of admin chats
// through the bot API.
type Telegram struct {
	http    *resty.Client
	chatIDs []int64
}

var telegramAPIBase = "https://api.telegram.org/bot"

func NewTelegram(botToken string, chatIDs []int64) *Telegram {
	client := resty.New().
		SetBaseURL(telegramAPIBase + botToken).
		SetTimeout(30 * time.Second)
	return &Telegram{http: client, chatIDs: chatIDs}
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

func (t *Telegram) NotifyRevenueChange(ctx context.Context, change RevenueChange) error {
	return t.send(ctx, change.Message())
}

// send delivers to every admin chat; a failure for one chat is logged
// and the rest still get the message.
func (t *Telegram) send(ctx context.Context, text string) error {
	var lastErr error
	for _, chatID := range t.chatIDs {
		res, err := t.http.R().
			SetContext(ctx).
			SetBody(sendMessageRequest{
				ChatID:                chatID,
				Text:                  text,
				ParseMode:             "HTML",
				DisableWebPagePreview: true,
			}).
			Post("/sendMessage")
		if err == nil && res.IsError() {
			err = fmt.Errorf("telegram api: %s", res.Status())
		}
		if err != nil {
			slog.WarnContext(ctx, "sending telegram notification failed", "chat_id", chatID, "err", err)
			lastErr = err
		}
	}
	return lastErr
}
