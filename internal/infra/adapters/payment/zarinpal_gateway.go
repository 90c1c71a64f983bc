package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"subscription-payments/internal/config"
	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/adapter"
)

var _ adapter.ProviderStrategy = (*ZarinPalGateway)(nil)

const ZarinPalSignatureHeader = "X-ZarinPal-Signature"

// ZarinPalGateway implements the provider strategy using REST v4 for request/verify
// and GraphQL v4 for refunds. ZarinPal only settles in IRR.
type ZarinPalGateway struct {
	merchantID      string
	callback        string
	apiBase         string
	startPayBase    string
	client          *http.Client
	accessToken     string // OAuth2 access token (GraphQL)
	graphqlEndpoint string
	logger          *zerolog.Logger
}

func NewZarinPalGateway(cfg config.ZarinPalConfig, logger *zerolog.Logger) (*ZarinPalGateway, error) {
	if cfg.MerchantID == "" {
		return nil, fmt.Errorf("%w: merchant id empty", domain.ErrInvalidArgument)
	}
	if _, err := url.Parse(cfg.CallbackURL); err != nil {
		return nil, fmt.Errorf("%w: invalid callback url: %w", domain.ErrInvalidArgument, err)
	}
	l := logger.With().Str("component", "zarinpal").Logger()
	z := &ZarinPalGateway{
		merchantID:      cfg.MerchantID,
		callback:        cfg.CallbackURL,
		apiBase:         "https://api.zarinpal.com/pg/v4",
		startPayBase:    "https://www.zarinpal.com/pg/StartPay/",
		client:          newHTTPClient(),
		accessToken:     cfg.AccessToken,
		graphqlEndpoint: "https://api.zarinpal.com/api/v4/graphql",
		logger:          &l,
	}
	if cfg.Sandbox {
		z.apiBase = "https://sandbox.zarinpal.com/pg/v4"
		z.startPayBase = "https://sandbox.zarinpal.com/pg/StartPay/"
	}
	if cfg.GraphQLEndpoint != "" {
		z.graphqlEndpoint = cfg.GraphQLEndpoint
	}
	return z, nil
}

// SetEndpoints overrides the REST base, StartPay prefix and GraphQL endpoint.
func (z *ZarinPalGateway) SetEndpoints(apiBase, startPayBase, graphqlEndpoint string) {
	z.apiBase = strings.TrimRight(apiBase, "/")
	z.startPayBase = startPayBase
	z.graphqlEndpoint = graphqlEndpoint
}

func (z *ZarinPalGateway) Provider() model.Provider { return model.ProviderZarinPal }

func (z *ZarinPalGateway) SignatureHeader() string { return ZarinPalSignatureHeader }

// zarinPalResult is the envelope every REST v4 response shares. Errors is an object
// on failure and an empty array on success.
type zarinPalResult[T any] struct {
	Data   T               `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

func (r zarinPalResult[T]) failed() bool {
	e := strings.TrimSpace(string(r.Errors))
	return e != "" && e != "[]" && e != "null" && e != "{}"
}

// CreateSession calls /payment/request.json and returns the authority and StartPay URL.
func (z *ZarinPalGateway) CreateSession(ctx context.Context, p adapter.SessionParams) (adapter.SessionResult, error) {
	if p.Currency != model.CurrencyIRR {
		return adapter.SessionResult{}, fmt.Errorf("%w: zarinpal only accepts IRR, got %s", domain.ErrValidation, p.Currency)
	}
	amount, err := toMinor(p.Amount, p.Currency)
	if err != nil {
		return adapter.SessionResult{}, err
	}
	callback := z.callback
	if callback == "" {
		callback = p.SuccessURL
	}
	payload := map[string]any{
		"merchant_id":  z.merchantID,
		"amount":       amount,
		"description":  p.Description,
		"callback_url": callback,
	}
	if p.Email != "" {
		payload["metadata"] = map[string]string{"email": p.Email}
	}
	var out zarinPalResult[struct {
		Authority string `json:"authority"`
		Code      int    `json:"code"`
		Message   string `json:"message"`
	}]
	if err := doJSON(ctx, z.client, http.MethodPost, z.apiBase+"/payment/request.json", nil, payload, &out); err != nil {
		return adapter.SessionResult{}, err
	}
	if out.failed() || out.Data.Code != 100 || out.Data.Authority == "" {
		return adapter.SessionResult{}, fmt.Errorf("%w: zarinpal request failed: code %d %s", domain.ErrProviderRequest, out.Data.Code, out.Errors)
	}
	return adapter.SessionResult{
		ProviderReference: out.Data.Authority,
		CheckoutURL:       z.startPayBase + out.Data.Authority,
		Metadata:          map[string]string{"authority": out.Data.Authority},
	}, nil
}

// zarinPalCallback is the JSON body the callback relay forwards for each payment.
type zarinPalCallback struct {
	Authority string `json:"authority"`
	Status    string `json:"status"`
	Amount    *int64 `json:"amount"`
	RefID     int64  `json:"ref_id"`
	CardPan   string `json:"card_pan"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
}

// VerifySignature checks hex HMAC-SHA256(amount + authority + status + secret).
func (z *ZarinPalGateway) VerifySignature(payload []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	var cb zarinPalCallback
	if err := json.Unmarshal(payload, &cb); err != nil || cb.Amount == nil {
		return false
	}
	return equalHex(zarinPalSign(secret, *cb.Amount, cb.Authority, cb.Status), signature)
}

func zarinPalSign(secret string, amount int64, authority, status string) string {
	data := strconv.FormatInt(amount, 10) + authority + status + secret
	return hmacHex(secret, []byte(data))
}

func (z *ZarinPalGateway) ParseWebhookPayload(payload []byte) (adapter.WebhookPaymentInfo, error) {
	var cb zarinPalCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return adapter.WebhookPaymentInfo{}, fmt.Errorf("%w: zarinpal: %w", domain.ErrMalformedPayload, err)
	}
	if cb.Authority == "" || cb.Amount == nil {
		return adapter.WebhookPaymentInfo{}, fmt.Errorf("%w: zarinpal: missing authority or amount", domain.ErrMalformedPayload)
	}
	status, ok := zarinPalStatus(cb.Status)
	if !ok {
		return adapter.WebhookPaymentInfo{}, fmt.Errorf("%w: zarinpal: unknown status %q", domain.ErrMalformedPayload, cb.Status)
	}
	info := adapter.WebhookPaymentInfo{
		ProviderReference: cb.Authority,
		Status:            status,
		Amount:            fromMinor(*cb.Amount, model.CurrencyIRR),
		Currency:          model.CurrencyIRR,
	}
	if cb.CardPan != "" {
		info.PaymentMethod = "card"
	}
	if status == model.PaymentStatusFailed {
		info.ErrorCode = strconv.Itoa(cb.Code)
		info.ErrorMessage = cb.Message
	}
	return info, nil
}

// zarinPalStatus maps callback statuses. A callback never completes a payment:
// ZarinPal reverses unverified payments, so "OK" only means the payer returned and
// PollStatus must still call verify.
func zarinPalStatus(s string) (model.PaymentStatus, bool) {
	switch strings.ToUpper(s) {
	case "PENDING":
		return model.PaymentStatusPending, true
	case "OK", "VERIFIED", "IN_BANK", "PAID":
		return model.PaymentStatusProcessing, true
	case "NOK", "FAILED":
		return model.PaymentStatusFailed, true
	case "CANCELED", "REVERSED":
		return model.PaymentStatusCancelled, true
	case "EXPIRED":
		return model.PaymentStatusExpired, true
	}
	return "", false
}

// PollStatus verifies authorities that ZarinPal lists as paid but unverified. The
// verify call needs the amount, which only that listing reports, so any other
// authority cannot be polled.
func (z *ZarinPalGateway) PollStatus(ctx context.Context, authority string) (adapter.ProviderPaymentStatus, error) {
	var list zarinPalResult[struct {
		Code        int `json:"code"`
		Authorities []struct {
			Authority string `json:"authority"`
			Amount    int64  `json:"amount"`
		} `json:"authorities"`
	}]
	if err := doJSON(ctx, z.client, http.MethodPost, z.apiBase+"/payment/unVerified.json", nil,
		map[string]any{"merchant_id": z.merchantID}, &list); err != nil {
		return adapter.ProviderPaymentStatus{}, err
	}
	if list.failed() {
		return adapter.ProviderPaymentStatus{}, fmt.Errorf("%w: zarinpal unVerified: %s", domain.ErrProviderRequest, list.Errors)
	}
	var amount int64 = -1
	for _, a := range list.Data.Authorities {
		if a.Authority == authority {
			amount = a.Amount
			break
		}
	}
	if amount < 0 {
		return adapter.ProviderPaymentStatus{}, fmt.Errorf("%w: zarinpal authority %s is not awaiting verification", domain.ErrUnsupportedOperation, authority)
	}

	refID, code, err := z.verify(ctx, authority, amount)
	if err != nil {
		return adapter.ProviderPaymentStatus{}, err
	}
	st := adapter.ProviderPaymentStatus{
		ProviderReference: authority,
		Amount:            fromMinor(amount, model.CurrencyIRR),
		Currency:          model.CurrencyIRR,
		PaymentMethod:     "card",
	}
	// 100 is a fresh verification, 101 means it was already verified.
	if (code == 100 || code == 101) && refID != 0 {
		st.Status = model.PaymentStatusCompleted
	} else {
		st.Status = model.PaymentStatusFailed
		st.ErrorCode = strconv.Itoa(code)
		st.ErrorMessage = "zarinpal verify rejected the payment"
	}
	z.logger.Debug().Int("code", code).Str("status", string(st.Status)).Msg("zarinpal authority verified")
	return st, nil
}

func (z *ZarinPalGateway) verify(ctx context.Context, authority string, amount int64) (refID int64, code int, err error) {
	payload := map[string]any{
		"merchant_id": z.merchantID,
		"amount":      amount,
		"authority":   authority,
	}
	var out zarinPalResult[struct {
		Code    int    `json:"code"`
		RefID   int64  `json:"ref_id"`
		CardPan string `json:"card_pan"`
	}]
	if err := doJSON(ctx, z.client, http.MethodPost, z.apiBase+"/payment/verify.json", nil, payload, &out); err != nil {
		return 0, 0, err
	}
	return out.Data.RefID, out.Data.Code, nil
}

// Refund issues a refund via the GraphQL AddRefund mutation.
func (z *ZarinPalGateway) Refund(ctx context.Context, authority string, amount decimal.Decimal, currency model.Currency, reason string) (adapter.RefundResult, error) {
	if z.accessToken == "" {
		return adapter.RefundResult{}, fmt.Errorf("%w: zarinpal refund requires payment.zarinpal.access_token", domain.ErrUnsupportedOperation)
	}
	rials, err := toMinor(amount, model.CurrencyIRR)
	if err != nil {
		return adapter.RefundResult{}, err
	}
	reqBody := map[string]any{
		"query": `mutation AddRefund($session_id: ID!, $amount: BigInteger!, $description: String, $method: InstantPayoutActionTypeEnum, $reason: RefundReasonEnum) {
  resource: AddRefund(session_id: $session_id, amount: $amount, description: $description, method: $method, reason: $reason) {
    id
    amount
    timeline { refund_amount refund_time refund_status }
  }
}`,
		"variables": map[string]any{
			"session_id":  authority,
			"amount":      rials,
			"description": reason,
			"method":      "CARD",
			"reason":      "CUSTOMER_REQUEST",
		},
	}
	var out struct {
		Data struct {
			Resource struct {
				ID       string `json:"id"`
				Timeline struct {
					RefundAmount int64  `json:"refund_amount"`
					RefundTime   string `json:"refund_time"`
					RefundStatus string `json:"refund_status"`
				} `json:"timeline"`
			} `json:"resource"`
		} `json:"data"`
		Errors json.RawMessage `json:"errors"`
	}
	headers := map[string]string{"Authorization": "Bearer " + z.accessToken}
	if err := doJSON(ctx, z.client, http.MethodPost, z.graphqlEndpoint, headers, reqBody, &out); err != nil {
		return adapter.RefundResult{}, err
	}
	if e := strings.TrimSpace(string(out.Errors)); e != "" && e != "null" {
		return adapter.RefundResult{}, fmt.Errorf("%w: refund gql error: %s", domain.ErrProviderRequest, e)
	}
	var rt time.Time
	if t := out.Data.Resource.Timeline.RefundTime; t != "" {
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			rt = parsed
		}
	}
	return adapter.RefundResult{
		ID:         out.Data.Resource.ID,
		Status:     out.Data.Resource.Timeline.RefundStatus,
		Amount:     fromMinor(out.Data.Resource.Timeline.RefundAmount, model.CurrencyIRR),
		RefundedAt: rt,
	}, nil
}
