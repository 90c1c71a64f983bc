package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/adapter"
)

var _ adapter.ProviderStrategy = (*NoopStrategy)(nil)

const NoopSignatureHeader = "X-Noop-Signature"

type noopIntent struct {
	amount   decimal.Decimal
	currency model.Currency
	status   model.PaymentStatus
}

// NoopStrategy is an in-memory provider for local runs and tests. It stands in for
// a real provider name, signs webhooks with hex HMAC-SHA256 of the body, and
// answers polls from the state set with SetStatus.
type NoopStrategy struct {
	provider model.Provider

	mu      sync.Mutex
	seq     int64
	intents map[string]*noopIntent
}

func NewNoopStrategy(p model.Provider) *NoopStrategy {
	return &NoopStrategy{
		provider: p,
		intents:  make(map[string]*noopIntent),
	}
}

func (g *NoopStrategy) Provider() model.Provider { return g.provider }

func (g *NoopStrategy) SignatureHeader() string { return NoopSignatureHeader }

func (g *NoopStrategy) next() string {
	g.seq++
	return fmt.Sprintf("noop-%s-%d", g.provider, g.seq)
}

func (g *NoopStrategy) CreateSession(ctx context.Context, p adapter.SessionParams) (adapter.SessionResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ref := g.next()
	g.intents[ref] = &noopIntent{amount: p.Amount, currency: p.Currency, status: model.PaymentStatusPending}
	return adapter.SessionResult{
		ProviderReference: ref,
		CheckoutURL:       "https://example.test/pay/" + ref,
		ExpiresAt:         time.Now().Add(30 * time.Minute).UTC(),
	}, nil
}

// SetStatus changes what PollStatus reports for ref.
func (g *NoopStrategy) SetStatus(ref string, s model.PaymentStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[ref]
	if !ok {
		return domain.ErrNotFound
	}
	in.status = s
	return nil
}

func (g *NoopStrategy) VerifySignature(payload []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	return equalHex(hmacHex(secret, payload), signature)
}

// SignNoop returns the signature NoopStrategy expects for payload.
func SignNoop(payload []byte, secret string) string {
	return hmacHex(secret, payload)
}

// NoopWebhook is the webhook body NoopStrategy parses.
type NoopWebhook struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Method    string `json:"method,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (g *NoopStrategy) ParseWebhookPayload(payload []byte) (adapter.WebhookPaymentInfo, error) {
	var w NoopWebhook
	if err := json.Unmarshal(payload, &w); err != nil {
		return adapter.WebhookPaymentInfo{}, fmt.Errorf("%w: %w", domain.ErrMalformedPayload, err)
	}
	status := model.PaymentStatus(w.Status)
	if w.Reference == "" || !status.Valid() {
		return adapter.WebhookPaymentInfo{}, fmt.Errorf("%w: reference or status", domain.ErrMalformedPayload)
	}
	amount, err := decimal.NewFromString(w.Amount)
	if err != nil {
		return adapter.WebhookPaymentInfo{}, fmt.Errorf("%w: amount: %w", domain.ErrMalformedPayload, err)
	}
	currency, err := model.ParseCurrency(w.Currency)
	if err != nil {
		return adapter.WebhookPaymentInfo{}, fmt.Errorf("%w: %w", domain.ErrMalformedPayload, err)
	}
	return adapter.WebhookPaymentInfo{
		ProviderReference: w.Reference,
		Status:            status,
		Amount:            amount,
		Currency:          currency,
		PaymentMethod:     w.Method,
		ErrorCode:         w.ErrorCode,
		ErrorMessage:      w.Error,
	}, nil
}

func (g *NoopStrategy) PollStatus(ctx context.Context, ref string) (adapter.ProviderPaymentStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[ref]
	if !ok {
		return adapter.ProviderPaymentStatus{}, fmt.Errorf("%w: noop: unknown reference %s", domain.ErrProviderRequest, ref)
	}
	return adapter.ProviderPaymentStatus{
		ProviderReference: ref,
		Status:            in.status,
		Amount:            in.amount,
		Currency:          in.currency,
		PaymentMethod:     "noop",
	}, nil
}

func (g *NoopStrategy) Refund(ctx context.Context, ref string, amount decimal.Decimal, currency model.Currency, reason string) (adapter.RefundResult, error) {
	return adapter.RefundResult{
		ID:         "refund-" + ref,
		Status:     "DONE",
		Amount:     amount,
		RefundedAt: time.Now(),
	}, nil
}
