package adapter

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"subscription-payments/internal/domain/model"
)

// Event types published after a verification or expiry commits.
const (
	EventTransactionCompleted  = "payments.transaction.completed"
	EventTransactionFailed     = "payments.transaction.failed"
	EventTransactionCancelled  = "payments.transaction.cancelled"
	EventTransactionProcessing = "payments.transaction.processing"
	EventTransactionExpired    = "payments.transaction.expired"
	EventActivationFailed      = "payments.activation.failed"
)

// PaymentEvent is the payload of every payments.* event.
type PaymentEvent struct {
	Type              string              `json:"-"`
	TransactionID     int64               `json:"transaction_id"`
	ProviderReference string              `json:"provider_reference"`
	UserID            int64               `json:"user_id"`
	Provider          model.Provider      `json:"provider"`
	Status            model.PaymentStatus `json:"status"`
	Amount            decimal.Decimal     `json:"amount"`
	Currency          model.Currency      `json:"currency"`
	SubscriptionID    *int64              `json:"subscription_id,omitempty"`
	Reason            string              `json:"reason,omitempty"`
	OccurredAt        time.Time           `json:"occurred_at"`
}

// EventPublisher delivers domain events to a broker. Publishing is best effort;
// callers log failures and carry on.
type EventPublisher interface {
	Publish(ctx context.Context, evt PaymentEvent) error
}

// EventForStatus returns the event type announcing a transition into s.
func EventForStatus(s model.PaymentStatus) string {
	switch s {
	case model.PaymentStatusCompleted:
		return EventTransactionCompleted
	case model.PaymentStatusFailed:
		return EventTransactionFailed
	case model.PaymentStatusCancelled:
		return EventTransactionCancelled
	case model.PaymentStatusExpired:
		return EventTransactionExpired
	default:
		return EventTransactionProcessing
	}
}

// NewPaymentEvent snapshots t for publishing.
func NewPaymentEvent(eventType string, t *model.PaymentTransaction) PaymentEvent {
	return PaymentEvent{
		Type:              eventType,
		TransactionID:     t.ID,
		ProviderReference: t.ProviderReference,
		UserID:            t.UserID,
		Provider:          t.Provider,
		Status:            t.Status,
		Amount:            t.Amount,
		Currency:          t.Currency,
		SubscriptionID:    t.SubscriptionID,
		OccurredAt:        time.Now().UTC(),
	}
}
