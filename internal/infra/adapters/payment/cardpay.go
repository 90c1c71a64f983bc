package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"subscription-payments/internal/config"
	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/adapter"
)

var _ adapter.ProviderStrategy = (*CardPayStrategy)(nil)

const CardPaySignatureHeader = "CardPay-Signature"

// CardPayStrategy talks to the card processor's REST API. Webhooks carry a
// timestamped HMAC-SHA256 signature over "<unix>.<body>".
type CardPayStrategy struct {
	baseURL   string
	apiKey    string
	tolerance time.Duration
	client    *http.Client
	now       func() time.Time
	logger    *zerolog.Logger
}

func NewCardPayStrategy(cfg config.CardPayConfig, logger *zerolog.Logger) (*CardPayStrategy, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: cardpay api key empty", domain.ErrInvalidArgument)
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("%w: cardpay base url: %w", domain.ErrInvalidArgument, err)
	}
	l := logger.With().Str("component", "cardpay").Logger()
	return &CardPayStrategy{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		tolerance: cfg.SignatureTolerance,
		client:    newHTTPClient(),
		now:       time.Now,
		logger:    &l,
	}, nil
}

func (s *CardPayStrategy) Provider() model.Provider { return model.ProviderCardPay }

func (s *CardPayStrategy) SignatureHeader() string { return CardPaySignatureHeader }

func (s *CardPayStrategy) auth() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.apiKey}
}

type cardPaySessionRequest struct {
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	Description   string            `json:"description,omitempty"`
	SuccessURL    string            `json:"success_url"`
	CancelURL     string            `json:"cancel_url"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type cardPaySession struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *CardPayStrategy) CreateSession(ctx context.Context, p adapter.SessionParams) (adapter.SessionResult, error) {
	minor, err := toMinor(p.Amount, p.Currency)
	if err != nil {
		return adapter.SessionResult{}, err
	}
	body := cardPaySessionRequest{
		Amount:        minor,
		Currency:      strings.ToLower(string(p.Currency)),
		CustomerEmail: p.Email,
		Description:   p.Description,
		SuccessURL:    p.SuccessURL,
		CancelURL:     p.CancelURL,
		Metadata:      p.Metadata,
	}
	var out cardPaySession
	if err := doJSON(ctx, s.client, http.MethodPost, s.baseURL+"/v1/checkout/sessions", s.auth(), body, &out); err != nil {
		return adapter.SessionResult{}, err
	}
	if out.ID == "" || out.URL == "" {
		return adapter.SessionResult{}, fmt.Errorf("%w: cardpay session response missing id or url", domain.ErrProviderRequest)
	}
	res := adapter.SessionResult{
		ProviderReference: out.ID,
		CheckoutURL:       out.URL,
		Metadata:          map[string]string{"cardpay_session": out.ID},
	}
	if out.ExpiresAt > 0 {
		res.ExpiresAt = time.Unix(out.ExpiresAt, 0).UTC()
	}
	return res, nil
}

// VerifySignature accepts any v1 signature that matches and a timestamp within tolerance.
func (s *CardPayStrategy) VerifySignature(payload []byte, signature, secret string) bool {
	if secret == "" || signature == "" || len(payload) == 0 {
		return false
	}
	sig, err := parseTimestampedSignature(signature)
	if err != nil {
		return false
	}
	if s.tolerance > 0 {
		age := s.now().Sub(sig.ts)
		if age > s.tolerance || age < -s.tolerance {
			return false
		}
	}
	expected := hmacHex(secret, append([]byte(fmt.Sprintf("%d.", sig.ts.Unix())), payload...))
	for _, v := range sig.sigs {
		if equalHex(expected, v) {
			return true
		}
	}
	return false
}

// cardPayPayment is the payment object shared by webhook events and session lookups.
type cardPayPayment struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	AmountTotal   *int64 `json:"amount_total"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"payment_method"`
	LastError     *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

type cardPayEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object cardPayPayment `json:"object"`
	} `json:"data"`
}

func (s *CardPayStrategy) ParseWebhookPayload(payload []byte) (adapter.WebhookPaymentInfo, error) {
	var evt cardPayEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return adapter.WebhookPaymentInfo{}, fmt.Errorf("%w: cardpay: %w", domain.ErrMalformedPayload, err)
	}
	return s.toInfo(evt.Data.Object)
}

func (s *CardPayStrategy) toInfo(p cardPayPayment) (adapter.WebhookPaymentInfo, error) {
	if p.ID == "" || p.AmountTotal == nil || p.Currency == "" {
		return adapter.WebhookPaymentInfo{}, fmt.Errorf("%w: cardpay: missing id, amount or currency", domain.ErrMalformedPayload)
	}
	status, ok := cardPayStatus(p.Status)
	if !ok {
		return adapter.WebhookPaymentInfo{}, fmt.Errorf("%w: cardpay: unknown status %q", domain.ErrMalformedPayload, p.Status)
	}
	currency, err := model.ParseCurrency(p.Currency)
	if err != nil {
		return adapter.WebhookPaymentInfo{}, fmt.Errorf("%w: cardpay: %w", domain.ErrMalformedPayload, err)
	}
	info := adapter.WebhookPaymentInfo{
		ProviderReference: p.ID,
		Status:            status,
		Amount:            fromMinor(*p.AmountTotal, currency),
		Currency:          currency,
		PaymentMethod:     p.PaymentMethod,
	}
	if p.LastError != nil {
		info.ErrorCode = p.LastError.Code
		info.ErrorMessage = p.LastError.Message
	}
	return info, nil
}

func cardPayStatus(s string) (model.PaymentStatus, bool) {
	switch s {
	case "succeeded", "paid":
		return model.PaymentStatusCompleted, true
	case "open", "requires_payment":
		return model.PaymentStatusPending, true
	case "processing":
		return model.PaymentStatusProcessing, true
	case "failed":
		return model.PaymentStatusFailed, true
	case "canceled":
		return model.PaymentStatusCancelled, true
	case "expired":
		return model.PaymentStatusExpired, true
	}
	return "", false
}

func (s *CardPayStrategy) PollStatus(ctx context.Context, ref string) (adapter.ProviderPaymentStatus, error) {
	var p cardPayPayment
	if err := doJSON(ctx, s.client, http.MethodGet, s.baseURL+"/v1/checkout/sessions/"+url.PathEscape(ref), s.auth(), nil, &p); err != nil {
		return adapter.ProviderPaymentStatus{}, err
	}
	info, err := s.toInfo(p)
	if err != nil {
		return adapter.ProviderPaymentStatus{}, fmt.Errorf("%w: %w", domain.ErrProviderRequest, err)
	}
	s.logger.Debug().Str("status", string(info.Status)).Msg("cardpay session polled")
	return adapter.ProviderPaymentStatus(info), nil
}

type cardPayRefund struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Amount  int64  `json:"amount"`
	Created int64  `json:"created"`
}

func (s *CardPayStrategy) Refund(ctx context.Context, ref string, amount decimal.Decimal, currency model.Currency, reason string) (adapter.RefundResult, error) {
	minor, err := toMinor(amount, currency)
	if err != nil {
		return adapter.RefundResult{}, err
	}
	body := map[string]any{"session": ref, "amount": minor, "reason": reason}
	var out cardPayRefund
	if err := doJSON(ctx, s.client, http.MethodPost, s.baseURL+"/v1/refunds", s.auth(), body, &out); err != nil {
		return adapter.RefundResult{}, err
	}
	return adapter.RefundResult{
		ID:         out.ID,
		Status:     strings.ToUpper(out.Status),
		Amount:     fromMinor(out.Amount, currency),
		RefundedAt: time.Unix(out.Created, 0).UTC(),
	}, nil
}
