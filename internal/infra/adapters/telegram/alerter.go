package telegram

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"subscription-payments/internal/config"
	"subscription-payments/internal/domain/ports/adapter"
	"subscription-payments/internal/infra/metrics"
)

var _ adapter.Alerter = (*Alerter)(nil)

// maxMessageLen is Telegram's limit for a text message.
const maxMessageLen = 4096

// sender is the part of *tgbotapi.BotAPI the alerter uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Alerter sends operator alerts to every configured admin chat.
type Alerter struct {
	bot      sender
	adminIDs []int64
	logger   *zerolog.Logger
}

func NewAlerter(cfg config.TelegramConfig, logger *zerolog.Logger) (*Alerter, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is empty")
	}
	if len(cfg.AdminIDs) == 0 {
		return nil, errors.New("telegram admin ids are empty")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newAlerter(bot, cfg.AdminIDs, logger), nil
}

func newAlerter(bot sender, adminIDs []int64, logger *zerolog.Logger) *Alerter {
	l := logger.With().Str("component", "telegram_alerter").Logger()
	return &Alerter{bot: bot, adminIDs: adminIDs, logger: &l}
}

// Alert delivers text to each admin. It keeps going after a failed chat and
// returns the joined errors.
func (a *Alerter) Alert(ctx context.Context, text string) error {
	if len(text) > maxMessageLen {
		text = text[:maxMessageLen-3] + "..."
	}
	var errs []error
	for _, id := range a.adminIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := a.bot.Send(tgbotapi.NewMessage(id, text)); err != nil {
			a.logger.Warn().Err(err).Int64("chat_id", id).Msg("alert delivery failed")
			metrics.IncAlert("error")
			errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
			continue
		}
		metrics.IncAlert("sent")
	}
	return errors.Join(errs...)
}
