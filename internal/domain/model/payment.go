package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"subscription-payments/internal/domain"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"    // session created; awaiting provider report
	PaymentStatusProcessing PaymentStatus = "processing" // provider reported an intermediate state
	PaymentStatusCompleted  PaymentStatus = "completed"  // verified as paid
	PaymentStatusFailed     PaymentStatus = "failed"     // provider reported failure
	PaymentStatusCancelled  PaymentStatus = "cancelled"  // user abandoned checkout
	PaymentStatusExpired    PaymentStatus = "expired"    // checkout window elapsed
)

// IsAbsorbing reports whether no further transition may leave s.
func (s PaymentStatus) IsAbsorbing() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusExpired:
		return true
	}
	return false
}

// IsOpen reports whether the engine may still transition a transaction in status s.
func (s PaymentStatus) IsOpen() bool {
	return s == PaymentStatusPending || s == PaymentStatusProcessing
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusCompleted,
		PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusExpired:
		return true
	}
	return false
}

// CanTransitionTo encodes the lifecycle: pending -> processing -> terminal, or pending -> terminal.
func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		return target == PaymentStatusProcessing || target.IsAbsorbing()
	case PaymentStatusProcessing:
		return target.IsAbsorbing()
	default:
		return false
	}
}

// OpenStatuses are the states a conditional update may transition from.
var OpenStatuses = []PaymentStatus{PaymentStatusPending, PaymentStatusProcessing}

type Provider string

const (
	ProviderCardPay  Provider = "cardpay"
	ProviderZarinPal Provider = "zarinpal"
	ProviderWallet   Provider = "wallet"
)

func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case ProviderCardPay, ProviderZarinPal, ProviderWallet:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown provider %q", domain.ErrValidation, s)
}

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyIRR Currency = "IRR"
)

func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case CurrencyUSD, CurrencyEUR, CurrencyIRR:
		return c, nil
	}
	return "", fmt.Errorf("%w: unknown currency %q", domain.ErrValidation, s)
}

// MinorUnits is the number of decimal places providers expect for c.
func (c Currency) MinorUnits() int32 {
	if c == CurrencyIRR {
		return 0
	}
	return 2
}

type ProductType string

const (
	ProductPremium  ProductType = "premium"
	ProductBusiness ProductType = "business"
)

func ParseProductType(s string) (ProductType, error) {
	p := ProductType(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case ProductPremium, ProductBusiness:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown product type %q", domain.ErrValidation, s)
}

type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

func ParseBillingCycle(s string) (*BillingCycle, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	c := BillingCycle(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case BillingCycleMonthly, BillingCycleYearly:
		return &c, nil
	}
	return nil, fmt.Errorf("%w: unknown billing cycle %q", domain.ErrValidation, s)
}

// PaymentTransaction is the append-only record of one checkout attempt.
// Amount and Currency are fixed at creation; verification only compares against them.
type PaymentTransaction struct {
	ID                int64
	ProviderReference string
	UserID            int64
	Provider          Provider
	Amount            decimal.Decimal
	Currency          Currency
	ProductType       ProductType
	BillingCycle      *BillingCycle
	Status            PaymentStatus
	PaymentMethod     *string
	CheckoutURL       string
	ExpiresAt         time.Time
	CompletedAt       *time.Time
	FailureReason     *string
	FailureCode       *string
	SubscriptionID    *int64 // set only when completed and activation succeeded
	WebhookPayload    *string
	ProviderMetadata  string // JSON object
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewPaymentTransaction builds a pending transaction from a created checkout session.
func NewPaymentTransaction(userID int64, provider Provider, ref string, amount decimal.Decimal, currency Currency,
	product ProductType, cycle *BillingCycle, checkoutURL string, expiresAt time.Time, meta map[string]string) (*PaymentTransaction, error) {
	if userID <= 0 || ref == "" || !amount.IsPositive() || currency == "" || provider == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now().UTC()
	t := &PaymentTransaction{
		ProviderReference: ref,
		UserID:            userID,
		Provider:          provider,
		Amount:            amount,
		Currency:          currency,
		ProductType:       product,
		BillingCycle:      cycle,
		Status:            PaymentStatusPending,
		CheckoutURL:       checkoutURL,
		ExpiresAt:         expiresAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := t.SetMetadata(meta); err != nil {
		return nil, err
	}
	return t, nil
}

// SetMetadata serializes the provider key-value bag.
func (t *PaymentTransaction) SetMetadata(meta map[string]string) error {
	if len(meta) == 0 {
		t.ProviderMetadata = "{}"
		return nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode provider metadata: %w", err)
	}
	t.ProviderMetadata = string(b)
	return nil
}

func (t *PaymentTransaction) Metadata() map[string]string {
	out := map[string]string{}
	if t.ProviderMetadata == "" {
		return out
	}
	_ = json.Unmarshal([]byte(t.ProviderMetadata), &out)
	return out
}

// Matches reports whether a provider-reported amount/currency equals the stored ones.
// Decimal equality ignores trailing zeros, so 9.99 and 9.990 match.
func (t *PaymentTransaction) Matches(amount decimal.Decimal, currency Currency) bool {
	return t.Currency == currency && t.Amount.Equal(amount)
}

// Transition is the set of fields one verification writes. It never carries Amount or Currency.
type Transition struct {
	Status         PaymentStatus
	PaymentMethod  *string
	CompletedAt    *time.Time
	FailureReason  *string
	FailureCode    *string
	SubscriptionID *int64
	WebhookPayload *string
}

// Apply copies a transition onto t. It refuses moves the lifecycle forbids.
func (t *PaymentTransaction) Apply(tr Transition) error {
	if !t.Status.CanTransitionTo(tr.Status) && !(t.Status == tr.Status && tr.Status.IsOpen()) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidArgument, t.Status, tr.Status)
	}
	t.Status = tr.Status
	if tr.PaymentMethod != nil {
		t.PaymentMethod = tr.PaymentMethod
	}
	if tr.CompletedAt != nil {
		t.CompletedAt = tr.CompletedAt
	}
	if tr.FailureReason != nil {
		t.FailureReason = tr.FailureReason
	}
	if tr.FailureCode != nil {
		t.FailureCode = tr.FailureCode
	}
	if tr.WebhookPayload != nil {
		t.WebhookPayload = tr.WebhookPayload
	}
	t.SubscriptionID = tr.SubscriptionID
	t.UpdatedAt = time.Now().UTC()
	return nil
}
