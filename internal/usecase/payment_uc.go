package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/adapter"
	"subscription-payments/internal/domain/ports/repository"
	"subscription-payments/internal/infra/logging"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

// HistoryPageSize is the fixed page size of GetUserHistory.
const HistoryPageSize = 20

// PaymentUseCase is the verification engine plus the session and query operations around it.
type PaymentUseCase interface {
	CreatePaymentSession(ctx context.Context, req SessionRequest) (*model.PaymentTransaction, error)
	VerifyPayment(ctx context.Context, req VerificationRequest) (*VerificationOutcome, error)
	GetTransactionByID(ctx context.Context, id int64) (*model.PaymentTransaction, error)
	GetUserHistory(ctx context.Context, userID int64, page int) (*HistoryPage, error)
	// ExpireTransaction moves an open transaction whose checkout window elapsed to expired.
	ExpireTransaction(ctx context.Context, provider model.Provider, ref string) (*VerificationOutcome, error)
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*model.PaymentTransaction, error)
}

// SecretSource yields per-provider webhook secrets.
type SecretSource interface {
	WebhookSecret(p model.Provider) string
}

type SessionRequest struct {
	UserID       int64
	Provider     model.Provider
	ProductType  model.ProductType
	Currency     model.Currency
	BillingCycle *model.BillingCycle
	SuccessURL   string
	CancelURL    string
}

type VerificationRequest struct {
	ProviderReference string
	// Provider narrows the lookup when the caller knows it (webhook routes do).
	Provider       model.Provider
	Signature      string
	WebhookPayload []byte
	// Reconcile lets a scheduled poll through the gate for processing transactions.
	// Signed provider deliveries pass it without the flag.
	Reconcile bool
}

type VerificationOutcome struct {
	TransactionID  int64               `json:"transaction_id"`
	Status         model.PaymentStatus `json:"status"`
	SubscriptionID *int64              `json:"subscription_id,omitempty"`
	Message        string              `json:"message"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
}

type HistoryPage struct {
	Items    []*model.PaymentTransaction
	Total    int
	Page     int
	PageSize int
}

// SessionDefaults fills what a session request leaves out.
type SessionDefaults struct {
	SuccessURL string
	CancelURL  string
	TTL        time.Duration
}

type paymentUC struct {
	payments  repository.PaymentTransactionRepository
	users     repository.UserRepository
	catalog   repository.Catalog
	tm        repository.TransactionManager
	registry  *StrategyRegistry
	activator SubscriptionActivator
	secrets   SecretSource
	publisher adapter.EventPublisher
	alerter   adapter.Alerter
	defaults  SessionDefaults
	devMode   bool
	now       func() time.Time
	log       *zerolog.Logger
}

// PaymentDeps groups the collaborators of the payment use case.
type PaymentDeps struct {
	Payments  repository.PaymentTransactionRepository
	Users     repository.UserRepository
	Catalog   repository.Catalog
	TM        repository.TransactionManager
	Registry  *StrategyRegistry
	Activator SubscriptionActivator
	Secrets   SecretSource
	Publisher adapter.EventPublisher
	Alerter   adapter.Alerter
	Defaults  SessionDefaults
	DevMode   bool
}

func NewPaymentUseCase(d PaymentDeps, logger *zerolog.Logger) *paymentUC {
	l := logger.With().Str("component", "payment_engine").Logger()
	if d.Defaults.TTL <= 0 {
		d.Defaults.TTL = 30 * time.Minute
	}
	return &paymentUC{
		payments:  d.Payments,
		users:     d.Users,
		catalog:   d.Catalog,
		tm:        d.TM,
		registry:  d.Registry,
		activator: d.Activator,
		secrets:   d.Secrets,
		publisher: d.Publisher,
		alerter:   d.Alerter,
		defaults:  d.Defaults,
		devMode:   d.DevMode,
		now:       func() time.Time { return time.Now().UTC() },
		log:       &l,
	}
}

// errLostRace aborts a unit of work whose conditional update matched no open row.
var errLostRace = errors.New("transaction left the open states concurrently")

// -----------------------------
// Sessions
// -----------------------------

func (u *paymentUC) CreatePaymentSession(ctx context.Context, req SessionRequest) (*model.PaymentTransaction, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.CreatePaymentSession")()

	if req.UserID <= 0 || req.ProductType == "" || req.Currency == "" {
		return nil, fmt.Errorf("%w: user, product and currency are required", domain.ErrValidation)
	}
	strategy, err := u.registry.Resolve(req.Provider)
	if err != nil {
		return nil, err
	}

	user, err := u.users.FindByID(ctx, repository.NoTX, req.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("user %d: %w", req.UserID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: load user: %w", domain.ErrPersistence, err)
	}
	price, err := u.catalog.GetPrice(ctx, req.ProductType, req.Currency, req.BillingCycle)
	if err != nil {
		return nil, err
	}

	successURL, cancelURL := req.SuccessURL, req.CancelURL
	if successURL == "" {
		successURL = u.defaults.SuccessURL
	}
	if cancelURL == "" {
		cancelURL = u.defaults.CancelURL
	}

	res, err := strategy.CreateSession(ctx, adapter.SessionParams{
		UserID:       user.ID,
		Email:        user.Email,
		Name:         user.Name,
		Amount:       price,
		Currency:     req.Currency,
		ProductType:  req.ProductType,
		BillingCycle: req.BillingCycle,
		Description:  sessionDescription(req),
		SuccessURL:   successURL,
		CancelURL:    cancelURL,
		Metadata:     map[string]string{"user_id": fmt.Sprint(user.ID), "product": string(req.ProductType)},
	})
	if err != nil {
		u.log.Warn().Err(err).Str("provider", string(req.Provider)).Int64("user_id", req.UserID).Msg("create session failed")
		if errors.Is(err, domain.ErrProviderRequest) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrProviderRequest, err)
	}

	expiresAt := res.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = u.now().Add(u.defaults.TTL)
	}
	t, err := model.NewPaymentTransaction(user.ID, req.Provider, res.ProviderReference, price, req.Currency,
		req.ProductType, req.BillingCycle, res.CheckoutURL, expiresAt, res.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: provider returned an unusable session: %w", domain.ErrProviderRequest, err)
	}
	if err := u.payments.Insert(ctx, repository.NoTX, t); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: duplicate provider reference: %w", domain.ErrProviderRequest, err)
		}
		return nil, fmt.Errorf("%w: insert transaction: %w", domain.ErrPersistence, err)
	}

	u.log.Info().Int64("transaction_id", t.ID).Str("provider", string(t.Provider)).
		Str("provider_reference", logging.Redact(t.ProviderReference, u.devMode)).
		Str("amount", t.Amount.String()).Str("currency", string(t.Currency)).Msg("payment session created")
	return t, nil
}

func sessionDescription(req SessionRequest) string {
	d := "subscription " + string(req.ProductType)
	if req.BillingCycle != nil {
		d += " (" + string(*req.BillingCycle) + ")"
	}
	return d
}

// -----------------------------
// Verification
// -----------------------------

func (u *paymentUC) VerifyPayment(ctx context.Context, req VerificationRequest) (*VerificationOutcome, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.VerifyPayment")()

	ref := strings.TrimSpace(req.ProviderReference)
	if ref == "" {
		return nil, fmt.Errorf("%w: provider reference is required", domain.ErrValidation)
	}
	log := u.log.With().Str("provider_reference", logging.Redact(ref, u.devMode)).Logger()

	// 1. lookup
	t, err := u.load(ctx, repository.NoTX, req.Provider, ref)
	if err != nil {
		return nil, err
	}

	// 2. idempotency gate
	if gated(t.Status, req) {
		log.Debug().Int64("transaction_id", t.ID).Str("status", string(t.Status)).Msg("verification repeat; returning stored outcome")
		return outcomeOf(t), nil
	}

	// 3. strategy
	strategy, err := u.registry.Resolve(t.Provider)
	if err != nil {
		return nil, err
	}

	// 4. authenticity
	if len(req.WebhookPayload) > 0 {
		if req.Signature == "" || !strategy.VerifySignature(req.WebhookPayload, req.Signature, u.secrets.WebhookSecret(t.Provider)) {
			log.Warn().Int64("transaction_id", t.ID).Str("provider", string(t.Provider)).Msg("webhook signature rejected")
			return nil, fmt.Errorf("%w: %s", domain.ErrInvalidSignature, t.Provider)
		}
	}

	// 5. facts
	info, err := u.facts(ctx, strategy, ref, req.WebhookPayload)
	if err != nil {
		return nil, err
	}
	if info.ProviderReference != "" && info.ProviderReference != t.ProviderReference {
		return nil, fmt.Errorf("%w: payload references %q", domain.ErrMalformedPayload, info.ProviderReference)
	}

	// 6. reconciliation
	if !t.Matches(info.Amount, info.Currency) {
		log.Warn().Int64("transaction_id", t.ID).Int64("user_id", t.UserID).
			Str("expected", t.Amount.String()+" "+string(t.Currency)).
			Str("reported", info.Amount.String()+" "+string(info.Currency)).
			Str("reported_status", string(info.Status)).Msg("amount mismatch; transaction left untouched")
		return nil, fmt.Errorf("%w: expected %s %s, reported %s %s", domain.ErrAmountMismatch,
			t.Amount, t.Currency, info.Amount, info.Currency)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 7-8. transition and persist, detached from caller cancellation
	return u.commit(context.WithoutCancel(ctx), t, req, info)
}

// gated reports whether a verification must echo the stored outcome instead of transitioning.
// A processing transaction moves on only for a provider delivery (whose signature is
// checked before any mutation) or a reconciliation pass.
func gated(s model.PaymentStatus, req VerificationRequest) bool {
	if s.IsAbsorbing() {
		return true
	}
	return s == model.PaymentStatusProcessing && !req.Reconcile && len(req.WebhookPayload) == 0
}

func (u *paymentUC) load(ctx context.Context, tx repository.Tx, provider model.Provider, ref string) (*model.PaymentTransaction, error) {
	t, err := u.payments.FindByReference(ctx, tx, provider, ref)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, ref)
		}
		return nil, fmt.Errorf("%w: load transaction: %w", domain.ErrPersistence, err)
	}
	return t, nil
}

func (u *paymentUC) facts(ctx context.Context, strategy adapter.ProviderStrategy, ref string, payload []byte) (adapter.WebhookPaymentInfo, error) {
	if len(payload) > 0 {
		info, err := strategy.ParseWebhookPayload(payload)
		if err != nil {
			if errors.Is(err, domain.ErrMalformedPayload) {
				return adapter.WebhookPaymentInfo{}, err
			}
			return adapter.WebhookPaymentInfo{}, fmt.Errorf("%w: %w", domain.ErrMalformedPayload, err)
		}
		return info, nil
	}
	st, err := strategy.PollStatus(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrUnsupportedOperation) {
			return adapter.WebhookPaymentInfo{}, fmt.Errorf("%w: %s", domain.ErrVerificationDataUnavailable, strategy.Provider())
		}
		if errors.Is(err, domain.ErrProviderRequest) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return adapter.WebhookPaymentInfo{}, err
		}
		return adapter.WebhookPaymentInfo{}, fmt.Errorf("%w: poll %s: %w", domain.ErrProviderRequest, strategy.Provider(), err)
	}
	return adapter.WebhookPaymentInfo(st), nil
}

// commit re-reads the transaction under a row lock and applies the transition in one unit of work.
// A caller that loses the race finds an absorbing status and returns the winner's outcome.
func (u *paymentUC) commit(ctx context.Context, snapshot *model.PaymentTransaction, req VerificationRequest, info adapter.WebhookPaymentInfo) (*VerificationOutcome, error) {
	var (
		result        *model.PaymentTransaction
		changed       bool
		activationErr error
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		t, err := u.load(ctx, tx, snapshot.Provider, snapshot.ProviderReference)
		if err != nil {
			return err
		}
		if gated(t.Status, req) {
			result = t
			return nil
		}

		prev := t.Status
		tr := u.transitionFor(t, info, req.WebhookPayload)
		if tr.Status == model.PaymentStatusCompleted {
			var subID int64
			activationErr = u.tm.WithSavepoint(ctx, tx, func(ctx context.Context, sp repository.Tx) error {
				id, err := u.activator.Activate(ctx, sp, t)
				subID = id
				return err
			})
			if activationErr == nil {
				tr.SubscriptionID = &subID
			}
		}
		if err := t.Apply(tr); err != nil {
			return err
		}

		ok, err := u.payments.UpdateIfOpen(ctx, tx, t)
		if err != nil {
			return fmt.Errorf("%w: update transaction: %w", domain.ErrPersistence, err)
		}
		if !ok {
			return errLostRace
		}
		result, changed = t, prev != t.Status
		return nil
	})
	if errors.Is(err, errLostRace) {
		stored, lerr := u.load(ctx, repository.NoTX, snapshot.Provider, snapshot.ProviderReference)
		if lerr != nil {
			return nil, lerr
		}
		return outcomeOf(stored), nil
	}
	if err != nil {
		if errors.Is(err, domain.ErrPersistence) || errors.Is(err, domain.ErrTransactionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	if changed {
		u.afterCommit(ctx, result, activationErr)
	}
	return outcomeOf(result), nil
}

func (u *paymentUC) transitionFor(t *model.PaymentTransaction, info adapter.WebhookPaymentInfo, payload []byte) model.Transition {
	tr := model.Transition{}
	if len(payload) > 0 {
		raw := string(payload)
		tr.WebhookPayload = &raw
	}
	switch info.Status {
	case model.PaymentStatusCompleted:
		now := u.now()
		tr.Status = model.PaymentStatusCompleted
		tr.CompletedAt = &now
		if info.PaymentMethod != "" {
			m := info.PaymentMethod
			tr.PaymentMethod = &m
		}
	case model.PaymentStatusFailed, model.PaymentStatusCancelled, model.PaymentStatusExpired:
		tr.Status = info.Status
		reason := info.ErrorMessage
		if reason == "" {
			reason = "provider reported " + string(info.Status)
		}
		tr.FailureReason = &reason
		if info.ErrorCode != "" {
			code := info.ErrorCode
			tr.FailureCode = &code
		}
	case model.PaymentStatusPending:
		// nothing attempted yet; a processing transaction never moves back
		tr.Status = t.Status
	default:
		tr.Status = model.PaymentStatusProcessing
	}
	return tr
}

func (u *paymentUC) afterCommit(ctx context.Context, t *model.PaymentTransaction, activationErr error) {
	log := u.log.With().Int64("transaction_id", t.ID).Int64("user_id", t.UserID).
		Str("provider", string(t.Provider)).Str("provider_reference", logging.Redact(t.ProviderReference, u.devMode)).Logger()

	log.Info().Str("status", string(t.Status)).Msg("payment transitioned")
	u.publish(ctx, adapter.NewPaymentEvent(adapter.EventForStatus(t.Status), t))

	if activationErr == nil {
		return
	}
	log.Error().Err(activationErr).Str("amount", t.Amount.String()).Str("currency", string(t.Currency)).
		Msg("payment completed but subscription activation failed; manual remediation required")
	evt := adapter.NewPaymentEvent(adapter.EventActivationFailed, t)
	evt.Reason = activationErr.Error()
	u.publish(ctx, evt)
	if u.alerter != nil {
		text := fmt.Sprintf("Subscription activation failed\ntransaction: %d\nuser: %d\nprovider: %s\nreference: %s\namount: %s %s\ncause: %v",
			t.ID, t.UserID, t.Provider, t.ProviderReference, t.Amount, t.Currency, activationErr)
		if err := u.alerter.Alert(ctx, text); err != nil {
			log.Warn().Err(err).Msg("activation failure alert not delivered")
		}
	}
}

func (u *paymentUC) publish(ctx context.Context, evt adapter.PaymentEvent) {
	if u.publisher == nil {
		return
	}
	if err := u.publisher.Publish(ctx, evt); err != nil {
		u.log.Warn().Err(err).Str("event", evt.Type).Int64("transaction_id", evt.TransactionID).Msg("event publish failed")
	}
}

// outcomeOf derives the verification outcome from a persisted transaction. Every
// caller, first or repeated, goes through it so racing callers see identical results.
func outcomeOf(t *model.PaymentTransaction) *VerificationOutcome {
	o := &VerificationOutcome{
		TransactionID:  t.ID,
		Status:         t.Status,
		SubscriptionID: t.SubscriptionID,
		CompletedAt:    t.CompletedAt,
	}
	switch t.Status {
	case model.PaymentStatusCompleted:
		if t.SubscriptionID != nil {
			o.Message = "payment completed; subscription activated"
		} else {
			o.Message = "payment completed; subscription activation pending remediation"
		}
	case model.PaymentStatusProcessing:
		o.Message = "payment is being processed by the provider"
	case model.PaymentStatusPending:
		o.Message = "payment is awaiting provider confirmation"
	default:
		o.Message = "payment " + string(t.Status)
		if t.FailureReason != nil && *t.FailureReason != "" {
			o.Message += ": " + *t.FailureReason
		}
	}
	return o
}

// -----------------------------
// Expiry
// -----------------------------

func (u *paymentUC) ExpireTransaction(ctx context.Context, provider model.Provider, ref string) (*VerificationOutcome, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.ExpireTransaction")()

	var (
		result  *model.PaymentTransaction
		changed bool
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		t, err := u.load(ctx, tx, provider, ref)
		if err != nil {
			return err
		}
		result = t
		// a processing payment is in the provider's hands; only its report settles it
		if t.Status != model.PaymentStatusPending || u.now().Before(t.ExpiresAt) {
			return nil
		}
		reason := "checkout window elapsed"
		if err := t.Apply(model.Transition{Status: model.PaymentStatusExpired, FailureReason: &reason}); err != nil {
			return err
		}
		ok, err := u.payments.UpdateIfOpen(ctx, tx, t)
		if err != nil {
			return fmt.Errorf("%w: expire transaction: %w", domain.ErrPersistence, err)
		}
		if !ok {
			return errLostRace
		}
		changed = true
		return nil
	})
	if errors.Is(err, errLostRace) {
		stored, lerr := u.load(ctx, repository.NoTX, provider, ref)
		if lerr != nil {
			return nil, lerr
		}
		return outcomeOf(stored), nil
	}
	if err != nil {
		return nil, err
	}
	if changed {
		u.afterCommit(context.WithoutCancel(ctx), result, nil)
	}
	return outcomeOf(result), nil
}

func (u *paymentUC) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*model.PaymentTransaction, error) {
	out, err := u.payments.ListOpenOlderThan(ctx, repository.NoTX, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list open transactions: %w", domain.ErrPersistence, err)
	}
	return out, nil
}

// -----------------------------
// Queries
// -----------------------------

func (u *paymentUC) GetTransactionByID(ctx context.Context, id int64) (*model.PaymentTransaction, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.GetTransactionByID")()
	if id <= 0 {
		return nil, fmt.Errorf("%w: transaction id must be positive", domain.ErrValidation)
	}
	t, err := u.payments.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: id %d", domain.ErrTransactionNotFound, id)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return t, nil
}

func (u *paymentUC) GetUserHistory(ctx context.Context, userID int64, page int) (*HistoryPage, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.GetUserHistory")()
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id must be positive", domain.ErrValidation)
	}
	if page < 1 {
		page = 1
	}
	items, total, err := u.payments.ListByUser(ctx, repository.NoTX, userID, HistoryPageSize, (page-1)*HistoryPageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: list user payments: %w", domain.ErrPersistence, err)
	}
	return &HistoryPage{Items: items, Total: total, Page: page, PageSize: HistoryPageSize}, nil
}
