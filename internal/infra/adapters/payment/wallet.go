package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"subscription-payments/internal/config"
	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/adapter"
)

var _ adapter.ProviderStrategy = (*WalletStrategy)(nil)

const WalletSignatureHeader = "X-Wallet-Signature"

// WalletStrategy integrates a webhook-only digital wallet. Each webhook carries an
// HS256 JWT whose body_sha256 claim binds it to the exact request body.
type WalletStrategy struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zerolog.Logger
}

func NewWalletStrategy(cfg config.WalletConfig, logger *zerolog.Logger) (*WalletStrategy, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: wallet api key empty", domain.ErrInvalidArgument)
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("%w: wallet base url: %w", domain.ErrInvalidArgument, err)
	}
	l := logger.With().Str("component", "wallet").Logger()
	return &WalletStrategy{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  newHTTPClient(),
		logger:  &l,
	}, nil
}

func (s *WalletStrategy) Provider() model.Provider { return model.ProviderWallet }

func (s *WalletStrategy) SignatureHeader() string { return WalletSignatureHeader }

func (s *WalletStrategy) auth() map[string]string {
	return map[string]string{"X-Api-Key": s.apiKey}
}

func (s *WalletStrategy) CreateSession(ctx context.Context, p adapter.SessionParams) (adapter.SessionResult, error) {
	body := map[string]any{
		"amount":      p.Amount.StringFixed(p.Currency.MinorUnits()),
		"currency":    string(p.Currency),
		"customer":    map[string]string{"email": p.Email, "name": p.Name},
		"description": p.Description,
		"return_url":  p.SuccessURL,
		"cancel_url":  p.CancelURL,
		"metadata":    p.Metadata,
	}
	var out struct {
		PaymentID   string    `json:"payment_id"`
		RedirectURL string    `json:"redirect_url"`
		ExpiresAt   time.Time `json:"expires_at"`
	}
	if err := doJSON(ctx, s.client, http.MethodPost, s.baseURL+"/api/payments", s.auth(), body, &out); err != nil {
		return adapter.SessionResult{}, err
	}
	if out.PaymentID == "" || out.RedirectURL == "" {
		return adapter.SessionResult{}, fmt.Errorf("%w: wallet response missing payment_id or redirect_url", domain.ErrProviderRequest)
	}
	return adapter.SessionResult{
		ProviderReference: out.PaymentID,
		CheckoutURL:       out.RedirectURL,
		ExpiresAt:         out.ExpiresAt,
	}, nil
}

// WebhookClaims are the claims of a wallet webhook signature token.
type WebhookClaims struct {
	BodySHA256 string `json:"body_sha256"`
	jwt.RegisteredClaims
}

func (s *WalletStrategy) VerifySignature(payload []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	claims := &WebhookClaims{}
	tkn, err := jwt.ParseWithClaims(signature, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !tkn.Valid {
		return false
	}
	sum := sha256.Sum256(payload)
	return equalHex(hex.EncodeToString(sum[:]), claims.BodySHA256)
}

// SignWalletWebhook mints a signature token for payload, as the wallet does.
func SignWalletWebhook(payload []byte, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	sum := sha256.Sum256(payload)
	claims := WebhookClaims{
		BodySHA256: hex.EncodeToString(sum[:]),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "wallet",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

type walletWebhook struct {
	PaymentID     string `json:"payment_id"`
	State         string `json:"state"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	WalletType    string `json:"wallet_type"`
	DeclineCode   string `json:"decline_code"`
	DeclineReason string `json:"decline_reason"`
}

func (s *WalletStrategy) ParseWebhookPayload(payload []byte) (adapter.WebhookPaymentInfo, error) {
	var w walletWebhook
	if err := json.Unmarshal(payload, &w); err != nil {
		return adapter.WebhookPaymentInfo{}, fmt.Errorf("%w: wallet: %w", domain.ErrMalformedPayload, err)
	}
	if w.PaymentID == "" || w.Amount == "" || w.Currency == "" {
		return adapter.WebhookPaymentInfo{}, fmt.Errorf("%w: wallet: missing payment_id, amount or currency", domain.ErrMalformedPayload)
	}
	status, ok := walletStatus(w.State)
	if !ok {
		return adapter.WebhookPaymentInfo{}, fmt.Errorf("%w: wallet: unknown state %q", domain.ErrMalformedPayload, w.State)
	}
	amount, err := decimal.NewFromString(w.Amount)
	if err != nil {
		return adapter.WebhookPaymentInfo{}, fmt.Errorf("%w: wallet: amount: %w", domain.ErrMalformedPayload, err)
	}
	currency, err := model.ParseCurrency(w.Currency)
	if err != nil {
		return adapter.WebhookPaymentInfo{}, fmt.Errorf("%w: wallet: %w", domain.ErrMalformedPayload, err)
	}
	method := "wallet"
	if w.WalletType != "" {
		method = "wallet:" + strings.ToLower(w.WalletType)
	}
	return adapter.WebhookPaymentInfo{
		ProviderReference: w.PaymentID,
		Status:            status,
		Amount:            amount,
		Currency:          currency,
		PaymentMethod:     method,
		ErrorCode:         w.DeclineCode,
		ErrorMessage:      w.DeclineReason,
	}, nil
}

func walletStatus(s string) (model.PaymentStatus, bool) {
	switch strings.ToUpper(s) {
	case "PAID", "CAPTURED":
		return model.PaymentStatusCompleted, true
	case "CREATED":
		return model.PaymentStatusPending, true
	case "AUTHORIZED":
		return model.PaymentStatusProcessing, true
	case "DECLINED", "ERROR":
		return model.PaymentStatusFailed, true
	case "CANCELLED":
		return model.PaymentStatusCancelled, true
	case "EXPIRED":
		return model.PaymentStatusExpired, true
	}
	return "", false
}

// PollStatus is not offered by the wallet; state only arrives by webhook.
func (s *WalletStrategy) PollStatus(ctx context.Context, ref string) (adapter.ProviderPaymentStatus, error) {
	return adapter.ProviderPaymentStatus{}, fmt.Errorf("%w: wallet is webhook-only", domain.ErrUnsupportedOperation)
}

func (s *WalletStrategy) Refund(ctx context.Context, ref string, amount decimal.Decimal, currency model.Currency, reason string) (adapter.RefundResult, error) {
	body := map[string]string{
		"amount":   amount.StringFixed(currency.MinorUnits()),
		"currency": string(currency),
		"reason":   reason,
	}
	var out struct {
		RefundID  string    `json:"refund_id"`
		State     string    `json:"state"`
		Amount    string    `json:"amount"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := doJSON(ctx, s.client, http.MethodPost, s.baseURL+"/api/payments/"+url.PathEscape(ref)+"/refunds", s.auth(), body, &out); err != nil {
		return adapter.RefundResult{}, err
	}
	refunded, err := decimal.NewFromString(out.Amount)
	if err != nil {
		refunded = amount
	}
	return adapter.RefundResult{ID: out.RefundID, Status: strings.ToUpper(out.State), Amount: refunded, RefundedAt: out.CreatedAt}, nil
}
