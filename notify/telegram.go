// Package notify is a best-effort alert sink for fatal settlement errors
// and repeated market-maker failures, adapted from bot/telegram.go
// (TelegramBot wrapping tgbotapi.BotAPI) and trimmed to the single
// Alert(kind, detail) method its callers actually need. The original's
// command loop, stats provider, and pause/resume control surface have no
// equivalent here.
package notify

import (
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Notifier delivers a best-effort operational alert. Satisfied by
// *Telegram; settlement.Notifier and marketmaker.Notifier are both this
// shape so either package can take a *Telegram without importing notify's
// construction details.
type Notifier interface {
	Alert(kind, detail string)
}

// Telegram sends alerts to a single configured chat. A nil *Telegram
// (returned by New when TELEGRAM_BOT_TOKEN is unset) is a valid, silent
// no-op notifier, the same way Telegram-dependent features disable
// themselves elsewhere when their env vars are absent.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// New constructs a Telegram notifier from TELEGRAM_BOT_TOKEN and
// TELEGRAM_CHAT_ID. It returns (nil, nil) when the token is unset so
// callers can treat the zero value as "alerts disabled" without a type
// switch.
func New(token, chatIDStr string) (*Telegram, error) {
	if token == "" {
		return nil, nil
	}
	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", chatIDStr, err)
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Msg("telegram notifier initialized")
	return &Telegram{api: api, chatID: chatID}, nil
}

// Alert sends "[kind] detail" to the configured chat. A nil receiver is a
// no-op, so Coordinator/Driver can hold a *Telegram directly without a
// nil check at every call site.
func (t *Telegram) Alert(kind, detail string) {
	if t == nil {
		return
	}
	msg := tgbotapi.NewMessage(t.chatID, fmt.Sprintf("[%s] %s", kind, detail))
	if _, err := t.api.Send(msg); err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("telegram: failed to send alert")
	}
}
