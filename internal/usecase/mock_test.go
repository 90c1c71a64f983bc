//go:build !integration

package usecase_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/adapter"
	"subscription-payments/internal/domain/ports/repository"
)

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// =============================
// Adapters
// =============================

// ---- Mock ProviderStrategy ----

// MockStrategy accepts the signature "valid" and parses a small JSON webhook by default.
type MockStrategy struct {
	ProviderName model.Provider

	CreateSessionFunc   func(ctx context.Context, p adapter.SessionParams) (adapter.SessionResult, error)
	VerifySignatureFunc func(payload []byte, signature, secret string) bool
	ParseFunc           func(payload []byte) (adapter.WebhookPaymentInfo, error)
	PollStatusFunc      func(ctx context.Context, ref string) (adapter.ProviderPaymentStatus, error)

	SessionCalls atomic.Int32
	ParseCalls   atomic.Int32
	PollCalls    atomic.Int32
}

var _ adapter.ProviderStrategy = (*MockStrategy)(nil)

func NewMockStrategy(p model.Provider) *MockStrategy {
	return &MockStrategy{ProviderName: p}
}

func (m *MockStrategy) Provider() model.Provider { return m.ProviderName }

func (m *MockStrategy) SignatureHeader() string { return "X-Test-Signature" }

func (m *MockStrategy) CreateSession(ctx context.Context, p adapter.SessionParams) (adapter.SessionResult, error) {
	n := m.SessionCalls.Add(1)
	if m.CreateSessionFunc != nil {
		return m.CreateSessionFunc(ctx, p)
	}
	ref := fmt.Sprintf("%s_ref_%d", m.ProviderName, n)
	return adapter.SessionResult{ProviderReference: ref, CheckoutURL: "https://pay.example/" + ref}, nil
}

func (m *MockStrategy) VerifySignature(payload []byte, signature, secret string) bool {
	if m.VerifySignatureFunc != nil {
		return m.VerifySignatureFunc(payload, signature, secret)
	}
	return signature == "valid" && secret != ""
}

type mockWebhook struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Method    string `json:"method"`
	Error     string `json:"error"`
	Code      string `json:"code"`
}

func webhookJSON(ref, status, amount, currency string) []byte {
	b, _ := json.Marshal(mockWebhook{Reference: ref, Status: status, Amount: amount, Currency: currency, Method: "card"})
	return b
}

func (m *MockStrategy) ParseWebhookPayload(payload []byte) (adapter.WebhookPaymentInfo, error) {
	m.ParseCalls.Add(1)
	if m.ParseFunc != nil {
		return m.ParseFunc(payload)
	}
	var w mockWebhook
	if err := json.Unmarshal(payload, &w); err != nil || w.Reference == "" || w.Status == "" {
		return adapter.WebhookPaymentInfo{}, domain.ErrMalformedPayload
	}
	amount, err := decimal.NewFromString(w.Amount)
	if err != nil {
		return adapter.WebhookPaymentInfo{}, domain.ErrMalformedPayload
	}
	return adapter.WebhookPaymentInfo{
		ProviderReference: w.Reference,
		Status:            model.PaymentStatus(w.Status),
		Amount:            amount,
		Currency:          model.Currency(w.Currency),
		PaymentMethod:     w.Method,
		ErrorMessage:      w.Error,
		ErrorCode:         w.Code,
	}, nil
}

func (m *MockStrategy) PollStatus(ctx context.Context, ref string) (adapter.ProviderPaymentStatus, error) {
	m.PollCalls.Add(1)
	if m.PollStatusFunc != nil {
		return m.PollStatusFunc(ctx, ref)
	}
	return adapter.ProviderPaymentStatus{}, domain.ErrUnsupportedOperation
}

func (m *MockStrategy) Refund(ctx context.Context, ref string, amount decimal.Decimal, currency model.Currency, reason string) (adapter.RefundResult, error) {
	return adapter.RefundResult{ID: "refund-" + ref, Status: "DONE", Amount: amount}, nil
}

// ---- Mock EventPublisher ----

type MockPublisher struct {
	mu     sync.Mutex
	Events []adapter.PaymentEvent
	Err    error
}

func (m *MockPublisher) Publish(ctx context.Context, evt adapter.PaymentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, evt)
	return m.Err
}

func (m *MockPublisher) Count(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.Events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// ---- Mock Alerter ----

type MockAlerter struct {
	mu   sync.Mutex
	Sent []string
}

func (m *MockAlerter) Alert(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, text)
	return nil
}

func (m *MockAlerter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// =============================
// Repositories
// =============================

// ---- Mock Catalog ----

type MockCatalog struct {
	Plans  map[model.ProductType]*model.SubscriptionPlan
	Prices map[model.Currency]decimal.Decimal
}

var _ repository.Catalog = (*MockCatalog)(nil)

func NewMockCatalog() *MockCatalog {
	return &MockCatalog{
		Plans: map[model.ProductType]*model.SubscriptionPlan{
			model.ProductPremium: {
				ID: "premium-monthly", Name: "Premium", ProductType: model.ProductPremium,
				BillingCycle: model.BillingCycleMonthly, DurationDays: 30,
			},
		},
		Prices: map[model.Currency]decimal.Decimal{model.CurrencyUSD: decimal.RequireFromString("9.99")},
	}
}

func (c *MockCatalog) GetPrice(ctx context.Context, product model.ProductType, currency model.Currency, cycle *model.BillingCycle) (decimal.Decimal, error) {
	if _, ok := c.Plans[product]; !ok {
		return decimal.Zero, fmt.Errorf("%w: no plan for %s", domain.ErrValidation, product)
	}
	p, ok := c.Prices[currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no price in %s", domain.ErrValidation, currency)
	}
	return p, nil
}

func (c *MockCatalog) ResolvePlan(ctx context.Context, product model.ProductType, cycle *model.BillingCycle) (*model.SubscriptionPlan, error) {
	p, ok := c.Plans[product]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

// ---- Mock SubscriptionRepository (decorates a real one) ----

type MockSubscriptionRepo struct {
	repository.SubscriptionRepository

	SaveFunc     func(ctx context.Context, tx repository.Tx, sub *model.UserSubscription) error
	LockUserFunc func(ctx context.Context, tx repository.Tx, userID int64) error
}

func (m *MockSubscriptionRepo) LockUser(ctx context.Context, tx repository.Tx, userID int64) error {
	if m.LockUserFunc != nil {
		return m.LockUserFunc(ctx, tx, userID)
	}
	return m.SubscriptionRepository.LockUser(ctx, tx, userID)
}

func (m *MockSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, sub *model.UserSubscription) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, sub)
	}
	return m.SubscriptionRepository.Save(ctx, tx, sub)
}

// ---- Static secrets ----

type staticSecrets map[model.Provider]string

func (s staticSecrets) WebhookSecret(p model.Provider) string { return s[p] }
