package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"forllm/internal/domain"
)

// BotAPI is the part of the Telegram bot client the notifier needs.
// *tgbotapi.BotAPI satisfies it.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// newBotAPI is replaced in tests.
var newBotAPI = func(token string) (BotAPI, error) {
	return tgbotapi.NewBotAPI(token)
}

// Telegram posts one message per finished job to a single chat.
type Telegram struct {
	bot    BotAPI
	chatID int64
	logger *zap.Logger
}

// NewTelegram returns a Telegram notifier. It panics if bot is nil.
func NewTelegram(bot BotAPI, chatID int64, logger *zap.Logger) *Telegram {
	if bot == nil {
		panic("notify: telegram bot must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{bot: bot, chatID: chatID, logger: logger}
}

// NewTelegramFromConfig connects a bot for cfg. It returns nil, nil when
// the token or chat id is unset.
func NewTelegramFromConfig(cfg domain.TelegramConfig, logger *zap.Logger) (*Telegram, error) {
	if cfg.Token == "" || cfg.ChatID == 0 {
		return nil, nil
	}
	bot, err := newBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("notify: telegram login: %w", err)
	}
	return NewTelegram(bot, cfg.ChatID, logger), nil
}

// Notify implements domain.Notifier. Only terminal events are sent.
func (t *Telegram) Notify(ctx context.Context, e domain.JobEvent) {
	if !Terminal(e) {
		return
	}
	msg := tgbotapi.NewMessage(t.chatID, FormatEvent(e))
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Warn("telegram notify failed", zap.Int64("request_id", e.RequestID), zap.Error(err))
	}
}

// FormatEvent renders e as a one-line notice.
func FormatEvent(e domain.JobEvent) string {
	switch e.Type {
	case domain.EventComplete:
		if e.ResultID != nil {
			return fmt.Sprintf("job %d (%s) complete: result %d", e.RequestID, e.RequestType, *e.ResultID)
		}
		return fmt.Sprintf("job %d (%s) complete", e.RequestID, e.RequestType)
	case domain.EventError:
		return fmt.Sprintf("job %d (%s) failed: %s", e.RequestID, e.RequestType, e.Message)
	default:
		return fmt.Sprintf("job %d (%s): %s", e.RequestID, e.RequestType, e.Type)
	}
}

var _ domain.Notifier = (*Telegram)(nil)
