package adapter

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"subscription-payments/internal/domain/model"
)

// SessionParams is everything a provider needs to open a hosted checkout.
type SessionParams struct {
	UserID       int64
	Email        string
	Name         string
	Amount       decimal.Decimal
	Currency     model.Currency
	ProductType  model.ProductType
	BillingCycle *model.BillingCycle
	Description  string
	SuccessURL   string
	CancelURL    string
	Metadata     map[string]string
}

// SessionResult is the provider's answer to a checkout request.
type SessionResult struct {
	ProviderReference string
	CheckoutURL       string
	ExpiresAt         time.Time
	Metadata          map[string]string
}

// WebhookPaymentInfo is what a provider claims about a payment. It is untrusted
// until the engine reconciles it against the stored transaction.
type WebhookPaymentInfo struct {
	ProviderReference string
	Status            model.PaymentStatus
	Amount            decimal.Decimal
	Currency          model.Currency
	PaymentMethod     string
	ErrorMessage      string
	ErrorCode         string
}

// ProviderPaymentStatus is the result of polling a provider. Same shape as a webhook report.
type ProviderPaymentStatus WebhookPaymentInfo

// RefundResult captures a minimal, provider-agnostic result of a refund request.
type RefundResult struct {
	ID         string // provider refund id
	Status     string // provider status e.g. PENDING / DONE
	Amount     decimal.Decimal
	RefundedAt time.Time
}

// ProviderStrategy is the port every payment provider implements.
type ProviderStrategy interface {
	Provider() model.Provider

	// SignatureHeader names the HTTP header the provider puts its webhook signature in.
	SignatureHeader() string

	// CreateSession opens a remote checkout. It has no local side effect.
	CreateSession(ctx context.Context, p SessionParams) (SessionResult, error)

	// VerifySignature is pure; empty or malformed input yields false.
	VerifySignature(payload []byte, signature, secret string) bool

	// ParseWebhookPayload returns domain.ErrMalformedPayload on any decode failure or missing field.
	ParseWebhookPayload(payload []byte) (WebhookPaymentInfo, error)

	// PollStatus returns domain.ErrUnsupportedOperation for webhook-only providers.
	PollStatus(ctx context.Context, providerReference string) (ProviderPaymentStatus, error)

	Refund(ctx context.Context, providerReference string, amount decimal.Decimal, currency model.Currency, reason string) (RefundResult, error)
}
