package events

import (
	"context"

	"github.com/rs/zerolog"

	"subscription-payments/internal/domain/ports/adapter"
)

var _ adapter.EventPublisher = (*NoopPublisher)(nil)

// NoopPublisher drops events. Used when no broker is configured.
type NoopPublisher struct {
	logger *zerolog.Logger
}

func NewNoopPublisher(logger *zerolog.Logger) *NoopPublisher {
	return &NoopPublisher{logger: logger}
}

func (p *NoopPublisher) Publish(ctx context.Context, evt adapter.PaymentEvent) error {
	p.logger.Debug().Str("type", evt.Type).Int64("transaction_id", evt.TransactionID).Msg("event dropped (no broker)")
	return nil
}
