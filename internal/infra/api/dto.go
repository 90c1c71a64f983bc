package api

import (
	"time"

	"subscription-payments/internal/domain/model"
)

type CreateSessionRequest struct {
	UserID       int64  `json:"user_id" validate:"required,gt=0"`
	Provider     string `json:"provider" validate:"required"`
	ProductType  string `json:"product_type" validate:"required"`
	Currency     string `json:"currency" validate:"required,len=3"`
	BillingCycle string `json:"billing_cycle"`
	SuccessURL   string `json:"success_url" validate:"omitempty,url"`
	CancelURL    string `json:"cancel_url" validate:"omitempty,url"`
}

// VerifyRequest carries a webhook payload verbatim as a string so the signed
// bytes survive the JSON envelope.
type VerifyRequest struct {
	ProviderReference string `json:"provider_reference" validate:"required,max=255"`
	Provider          string `json:"provider"`
	Signature         string `json:"signature"`
	WebhookPayload    string `json:"webhook_payload"`
}

type Transaction struct {
	ID                int64      `json:"id"`
	ProviderReference string     `json:"provider_reference"`
	UserID            int64      `json:"user_id"`
	Provider          string     `json:"provider"`
	Amount            string     `json:"amount"`
	Currency          string     `json:"currency"`
	ProductType       string     `json:"product_type"`
	BillingCycle      *string    `json:"billing_cycle,omitempty"`
	Status            string     `json:"status"`
	PaymentMethod     *string    `json:"payment_method,omitempty"`
	CheckoutURL       string     `json:"checkout_url,omitempty"`
	ExpiresAt         time.Time  `json:"expires_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	FailureReason     *string    `json:"failure_reason,omitempty"`
	FailureCode       *string    `json:"failure_code,omitempty"`
	SubscriptionID    *int64     `json:"subscription_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func toTransaction(t *model.PaymentTransaction) Transaction {
	out := Transaction{
		ID:                t.ID,
		ProviderReference: t.ProviderReference,
		UserID:            t.UserID,
		Provider:          string(t.Provider),
		Amount:            t.Amount.StringFixed(t.Currency.MinorUnits()),
		Currency:          string(t.Currency),
		ProductType:       string(t.ProductType),
		Status:            string(t.Status),
		PaymentMethod:     t.PaymentMethod,
		CheckoutURL:       t.CheckoutURL,
		ExpiresAt:         t.ExpiresAt,
		CompletedAt:       t.CompletedAt,
		FailureReason:     t.FailureReason,
		FailureCode:       t.FailureCode,
		SubscriptionID:    t.SubscriptionID,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
	if t.BillingCycle != nil {
		c := string(*t.BillingCycle)
		out.BillingCycle = &c
	}
	return out
}
