package events

import (
	"context"

	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/adapter"
	"subscription-payments/internal/infra/metrics"
)

var _ adapter.EventPublisher = (*InstrumentedPublisher)(nil)

// InstrumentedPublisher derives payment and activation metrics from the event stream
// before delegating. Every committed transition passes through here exactly once.
type InstrumentedPublisher struct {
	inner adapter.EventPublisher
}

func NewInstrumentedPublisher(inner adapter.EventPublisher) *InstrumentedPublisher {
	return &InstrumentedPublisher{inner: inner}
}

func (p *InstrumentedPublisher) Publish(ctx context.Context, evt adapter.PaymentEvent) error {
	observe(evt)
	err := p.inner.Publish(ctx, evt)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.IncEventPublished(evt.Type, status)
	return err
}

func observe(evt adapter.PaymentEvent) {
	switch evt.Type {
	case adapter.EventActivationFailed:
		metrics.IncActivation(false)
		return
	case adapter.EventTransactionProcessing:
		return
	}
	metrics.IncPayment(string(evt.Status))
	if evt.Status == model.PaymentStatusCompleted {
		metrics.AddPaymentRevenue(string(evt.Currency), evt.Amount)
		if evt.SubscriptionID != nil {
			metrics.IncActivation(true)
		}
	}
}
