package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/perpwatch/perpwatch/internal/alert"
)

// TelegramSender delivers outbox events through the bot API and maps
// transport failures onto the outbox error taxonomy.
type TelegramSender struct {
	api *tgbotapi.BotAPI
}

func (s *TelegramSender) Send(ctx context.Context, chatID int64, ev alert.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.api.Send(tgbotapi.NewMessage(chatID, ev.Text))
	if err == nil {
		return nil
	}

	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		if tgErr.RetryAfter > 0 {
			return &alert.RateLimitedError{RetryAfter: time.Duration(tgErr.RetryAfter) * time.Second}
		}
		if tgErr.Code == 403 {
			return alert.ErrRecipientBlocked
		}
	}
	if strings.Contains(err.Error(), "bot was blocked") ||
		strings.Contains(err.Error(), "user is deactivated") {
		return alert.ErrRecipientBlocked
	}
	return err
}
