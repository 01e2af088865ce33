package services

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// TelegramAlerter posts lockout events to the ops chat.
type TelegramAlerter struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramAlerter connects to the Bot API. An empty token or chat id
// returns (nil, nil) so callers can leave alerts off.
func NewTelegramAlerter(botToken string, chatID int64, apiEndpoint string) (*TelegramAlerter, error) {
	if botToken == "" || chatID == 0 {
		return nil, nil
	}
	if apiEndpoint == "" {
		apiEndpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(botToken, apiEndpoint, &http.Client{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramAlerter{bot: bot, chatID: chatID}, nil
}

func (t *TelegramAlerter) LockApplied(_ context.Context, ev LockEvent) {
	if t == nil || t.bot == nil {
		return
	}
	text := fmt.Sprintf("<b>Login lock</b>\nscope: %s\nip: %s\nuntil: %s",
		ev.Scope, html.EscapeString(ev.IP), ev.Until.UTC().Format(time.RFC3339))
	if ev.Scope == LockDevice {
		text += fmt.Sprintf("\nlock count: %d\nfingerprint: <code>%s</code>", ev.LockCount, ev.Fingerprint)
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		log.Error().Err(err).Str("component", "telegram").Int64("chat_id", t.chatID).Msg("lock alert failed")
	}
}
