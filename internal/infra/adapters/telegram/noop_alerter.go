package telegram

import (
	"context"

	"github.com/rs/zerolog"

	"subscription-payments/internal/domain/ports/adapter"
)

var _ adapter.Alerter = (*NoopAlerter)(nil)

// NoopAlerter logs alerts instead of sending them. Used when no bot token is configured.
type NoopAlerter struct {
	logger *zerolog.Logger
}

func NewNoopAlerter(logger *zerolog.Logger) *NoopAlerter {
	return &NoopAlerter{logger: logger}
}

func (a *NoopAlerter) Alert(ctx context.Context, text string) error {
	a.logger.Warn().Str("alert", text).Msg("alert (telegram not configured)")
	return nil
}
