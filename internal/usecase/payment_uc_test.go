//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/adapter"
	"subscription-payments/internal/domain/ports/repository"
	"subscription-payments/internal/infra/db/memory"
	"subscription-payments/internal/usecase"
)

const testRef = "cs_test_1"

// engineEnv wires the payment use case to the in-memory store and mocks.
type engineEnv struct {
	store     *memory.Store
	subs      *MockSubscriptionRepo
	strategy  *MockStrategy
	publisher *MockPublisher
	alerter   *MockAlerter
	catalog   *MockCatalog
	uc        usecase.PaymentUseCase
}

func newEngineEnv(t *testing.T) *engineEnv {
	t.Helper()
	store := memory.NewStore()
	store.PutUser(model.User{ID: 7, Email: "user7@example.com", Name: "Seven"})

	env := &engineEnv{
		store:     store,
		subs:      &MockSubscriptionRepo{SubscriptionRepository: store.Subscriptions()},
		strategy:  NewMockStrategy(model.ProviderCardPay),
		publisher: &MockPublisher{},
		alerter:   &MockAlerter{},
		catalog:   NewMockCatalog(),
	}
	registry, err := usecase.NewStrategyRegistry(env.strategy)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	env.uc = usecase.NewPaymentUseCase(usecase.PaymentDeps{
		Payments:  store.Payments(),
		Users:     store.Users(),
		Catalog:   env.catalog,
		TM:        store.TxManager(),
		Registry:  registry,
		Activator: usecase.NewSubscriptionActivator(env.subs, env.catalog, newTestLogger()),
		Secrets:   staticSecrets{model.ProviderCardPay: "whsec_test"},
		Publisher: env.publisher,
		Alerter:   env.alerter,
	}, newTestLogger())
	return env
}

// seed stores a pending 9.99 USD premium transaction for user 7.
func (e *engineEnv) seed(t *testing.T, provider model.Provider, ref string) *model.PaymentTransaction {
	t.Helper()
	p, err := model.NewPaymentTransaction(7, provider, ref, decimal.RequireFromString("9.99"), model.CurrencyUSD,
		model.ProductPremium, nil, "https://pay.example/"+ref, time.Now().Add(time.Hour), nil)
	if err != nil {
		t.Fatalf("build transaction: %v", err)
	}
	if err := e.store.Payments().Insert(context.Background(), nil, p); err != nil {
		t.Fatalf("insert transaction: %v", err)
	}
	return p
}

func (e *engineEnv) stored(t *testing.T, ref string) *model.PaymentTransaction {
	t.Helper()
	p, err := e.store.Payments().FindByReference(context.Background(), nil, "", ref)
	if err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	return p
}

// sameOutcome compares outcomes by value; pointer fields come from different loads.
func sameOutcome(a, b *usecase.VerificationOutcome) bool {
	if a.TransactionID != b.TransactionID || a.Status != b.Status || a.Message != b.Message {
		return false
	}
	if (a.SubscriptionID == nil) != (b.SubscriptionID == nil) || (a.SubscriptionID != nil && *a.SubscriptionID != *b.SubscriptionID) {
		return false
	}
	if (a.CompletedAt == nil) != (b.CompletedAt == nil) || (a.CompletedAt != nil && !a.CompletedAt.Equal(*b.CompletedAt)) {
		return false
	}
	return true
}

func webhook(ref, status, amount, currency string) usecase.VerificationRequest {
	return usecase.VerificationRequest{
		ProviderReference: ref,
		Signature:         "valid",
		WebhookPayload:    webhookJSON(ref, status, amount, currency),
	}
}

func TestPaymentUseCase_VerifyPayment_Scenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("A: completed webhook completes and activates", func(t *testing.T) {
		// --- Arrange ---
		env := newEngineEnv(t)
		env.seed(t, model.ProviderCardPay, testRef)

		// --- Act ---
		out, err := env.uc.VerifyPayment(ctx, webhook(testRef, "completed", "9.99", "USD"))

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if out.Status != model.PaymentStatusCompleted || out.SubscriptionID == nil || out.CompletedAt == nil {
			t.Fatalf("unexpected outcome: %+v", out)
		}
		stored := env.stored(t, testRef)
		if stored.Status != model.PaymentStatusCompleted || stored.PaymentMethod == nil || *stored.PaymentMethod != "card" {
			t.Errorf("stored transaction not completed: %+v", stored)
		}
		if stored.WebhookPayload == nil {
			t.Error("expected raw webhook payload to be kept for audit")
		}
		sub, err := env.store.Subscriptions().FindByUser(ctx, nil, 7)
		if err != nil || sub.ID != *out.SubscriptionID {
			t.Fatalf("expected subscription %d for user 7, got %v, %v", *out.SubscriptionID, sub, err)
		}
		if !sub.ActiveAt(time.Now()) {
			t.Error("expected subscription to be active")
		}
		if env.publisher.Count(adapter.EventTransactionCompleted) != 1 {
			t.Errorf("expected one completed event, got %v", env.publisher.Events)
		}
	})

	t.Run("B: amount mismatch leaves transaction pending", func(t *testing.T) {
		env := newEngineEnv(t)
		env.seed(t, model.ProviderCardPay, testRef)

		_, err := env.uc.VerifyPayment(ctx, webhook(testRef, "completed", "1.00", "USD"))

		if !errors.Is(err, domain.ErrAmountMismatch) {
			t.Fatalf("expected ErrAmountMismatch, got %v", err)
		}
		if domain.KindOf(err) != domain.KindAmountMismatch {
			t.Errorf("expected kind amount_mismatch, got %s", domain.KindOf(err))
		}
		if s := env.stored(t, testRef).Status; s != model.PaymentStatusPending {
			t.Errorf("expected pending, got %s", s)
		}
		if env.store.Subscriptions().Count() != 0 {
			t.Error("no subscription may be created on mismatch")
		}
	})

	t.Run("C: unknown reference", func(t *testing.T) {
		env := newEngineEnv(t)

		_, err := env.uc.VerifyPayment(ctx, webhook("cs_missing", "completed", "9.99", "USD"))

		if !errors.Is(err, domain.ErrTransactionNotFound) || domain.KindOf(err) != domain.KindTransactionNotFound {
			t.Fatalf("expected TransactionNotFound, got %v (%s)", err, domain.KindOf(err))
		}
		if env.strategy.ParseCalls.Load() != 0 {
			t.Error("strategy must not be consulted for an unknown reference")
		}
	})

	t.Run("D: already completed echoes the stored outcome", func(t *testing.T) {
		env := newEngineEnv(t)
		env.seed(t, model.ProviderCardPay, testRef)
		first, err := env.uc.VerifyPayment(ctx, webhook(testRef, "completed", "9.99", "USD"))
		if err != nil {
			t.Fatalf("first verification: %v", err)
		}

		second, err := env.uc.VerifyPayment(ctx, webhook(testRef, "completed", "9.99", "USD"))

		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if !sameOutcome(first, second) {
			t.Errorf("expected identical outcome, got %+v vs %+v", second, first)
		}
		if env.store.Subscriptions().Count() != 1 {
			t.Errorf("expected exactly one subscription, got %d", env.store.Subscriptions().Count())
		}
		if env.strategy.ParseCalls.Load() != 1 {
			t.Errorf("repeat must not parse again, parse calls = %d", env.strategy.ParseCalls.Load())
		}
		if env.publisher.Count(adapter.EventTransactionCompleted) != 1 {
			t.Error("repeat must not publish again")
		}
	})
}

func TestPaymentUseCase_VerifyPayment_Gates(t *testing.T) {
	ctx := context.Background()

	t.Run("should reject a bad signature without mutation", func(t *testing.T) {
		env := newEngineEnv(t)
		env.seed(t, model.ProviderCardPay, testRef)
		req := webhook(testRef, "completed", "9.99", "USD")
		req.Signature = "forged"

		_, err := env.uc.VerifyPayment(ctx, req)

		if !errors.Is(err, domain.ErrInvalidSignature) {
			t.Fatalf("expected ErrInvalidSignature, got %v", err)
		}
		if env.stored(t, testRef).Status != model.PaymentStatusPending || env.strategy.ParseCalls.Load() != 0 {
			t.Error("rejected webhook must not be parsed or applied")
		}
	})

	t.Run("should reject a payload without a signature", func(t *testing.T) {
		env := newEngineEnv(t)
		env.seed(t, model.ProviderCardPay, testRef)
		req := webhook(testRef, "completed", "9.99", "USD")
		req.Signature = ""

		if _, err := env.uc.VerifyPayment(ctx, req); !errors.Is(err, domain.ErrInvalidSignature) {
			t.Fatalf("expected ErrInvalidSignature, got %v", err)
		}
	})

	t.Run("should reject a mismatch even when the provider reports failure", func(t *testing.T) {
		env := newEngineEnv(t)
		env.seed(t, model.ProviderCardPay, testRef)

		_, err := env.uc.VerifyPayment(ctx, webhook(testRef, "failed", "9.99", "EUR"))

		if !errors.Is(err, domain.ErrAmountMismatch) {
			t.Fatalf("expected ErrAmountMismatch, got %v", err)
		}
	})

	t.Run("should report malformed payloads", func(t *testing.T) {
		env := newEngineEnv(t)
		env.seed(t, model.ProviderCardPay, testRef)
		req := usecase.VerificationRequest{ProviderReference: testRef, Signature: "valid", WebhookPayload: []byte(`{"reference":`)}

		if _, err := env.uc.VerifyPayment(ctx, req); domain.KindOf(err) != domain.KindMalformedPayload {
			t.Fatalf("expected malformed_payload, got %v", err)
		}
	})

	t.Run("should refuse a payload about another reference", func(t *testing.T) {
		env := newEngineEnv(t)
		env.seed(t, model.ProviderCardPay, testRef)
		req := webhook(testRef, "completed", "9.99", "USD")
		req.WebhookPayload = webhookJSON("cs_other", "completed", "9.99", "USD")

		if _, err := env.uc.VerifyPayment(ctx, req); !errors.Is(err, domain.ErrMalformedPayload) {
			t.Fatalf("expected ErrMalformedPayload, got %v", err)
		}
	})

	t.Run("should fail with data unavailable for webhook-only providers", func(t *testing.T) {
		env := newEngineEnv(t)
		env.seed(t, model.ProviderCardPay, testRef)

		_, err := env.uc.VerifyPayment(ctx, usecase.VerificationRequest{ProviderReference: testRef})

		if !errors.Is(err, domain.ErrVerificationDataUnavailable) {
			t.Fatalf("expected ErrVerificationDataUnavailable, got %v", err)
		}
	})

	t.Run("should fail fast for an unconfigured provider", func(t *testing.T) {
		env := newEngineEnv(t)
		env.seed(t, model.ProviderWallet, "wal_1")

		_, err := env.uc.VerifyPayment(ctx, webhook("wal_1", "completed", "9.99", "USD"))

		if !errors.Is(err, domain.ErrUnconfiguredProvider) {
			t.Fatalf("expected ErrUnconfiguredProvider, got %v", err)
		}
		if env.stored(t, "wal_1").Status != model.PaymentStatusPending {
			t.Error("unconfigured provider must not mutate the transaction")
		}
	})

	t.Run("should require a provider reference", func(t *testing.T) {
		env := newEngineEnv(t)
		if _, err := env.uc.VerifyPayment(ctx, usecase.VerificationRequest{ProviderReference: "  "}); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("should abort without mutation when the caller cancelled", func(t *testing.T) {
		env := newEngineEnv(t)
		env.seed(t, model.ProviderCardPay, testRef)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		if _, err := env.uc.VerifyPayment(cctx, webhook(testRef, "completed", "9.99", "USD")); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if env.stored(t, testRef).Status != model.PaymentStatusPending {
			t.Error("cancelled verification must not mutate")
		}
	})
}

func TestPaymentUseCase_VerifyPayment_Transitions(t *testing.T) {
	ctx := context.Background()

	t.Run("should poll when no payload is supplied", func(t *testing.T) {
		env := newEngineEnv(t)
		env.seed(t, model.ProviderCardPay, testRef)
		env.strategy.PollStatusFunc = func(ctx context.Context, ref string) (adapter.ProviderPaymentStatus, error) {
			return adapter.ProviderPaymentStatus{ProviderReference: ref, Status: model.PaymentStatusCompleted,
				Amount: decimal.RequireFromString("9.990"), Currency: model.CurrencyUSD}, nil
		}

		out, err := env.uc.VerifyPayment(ctx, usecase.VerificationRequest{ProviderReference: testRef})

		if err != nil || out.Status != model.PaymentStatusCompleted {
			t.Fatalf("expected completion via poll, got %+v, %v", out, err)
		}
		if stored := env.stored(t, testRef); stored.WebhookPayload != nil {
			t.Error("polled verification has no webhook payload to store")
		}
	})

	t.Run("should record failure details", func(t *testing.T) {
		env := newEngineEnv(t)
		env.seed(t, model.ProviderCardPay, testRef)
		env.strategy.ParseFunc = func(payload []byte) (adapter.WebhookPaymentInfo, error) {
			return adapter.WebhookPaymentInfo{ProviderReference: testRef, Status: model.PaymentStatusFailed,
				Amount: decimal.RequireFromString("9.99"), Currency: model.CurrencyUSD,
				ErrorMessage: "card declined", ErrorCode: "card_declined"}, nil
		}

		out, err := env.uc.VerifyPayment(ctx, webhook(testRef, "failed", "9.99", "USD"))

		if err != nil || out.Status != model.PaymentStatusFailed || out.SubscriptionID != nil {
			t.Fatalf("unexpected outcome %+v, %v", out, err)
		}
		stored := env.stored(t, testRef)
		if stored.FailureReason == nil || *stored.FailureReason != "card declined" || stored.FailureCode == nil || *stored.FailureCode != "card_declined" {
			t.Errorf("failure details not recorded: %+v", stored)
		}

		// a later success report cannot resurrect a failed transaction
		env.strategy.ParseFunc = nil
		again, err := env.uc.VerifyPayment(ctx, webhook(testRef, "completed", "9.99", "USD"))
		if err != nil || again.Status != model.PaymentStatusFailed {
			t.Errorf("expected failed echo, got %+v, %v", again, err)
		}
		if env.store.Subscriptions().Count() != 0 {
			t.Error("failed payment must not activate")
		}
	})

	t.Run("should map cancelled reports to cancelled", func(t *testing.T) {
		env := newEngineEnv(t)
		env.seed(t, model.ProviderCardPay, testRef)

		out, err := env.uc.VerifyPayment(ctx, webhook(testRef, "cancelled", "9.99", "USD"))

		if err != nil || out.Status != model.PaymentStatusCancelled {
			t.Fatalf("expected cancelled, got %+v, %v", out, err)
		}
	})

	t.Run("should keep a pending transaction pending when nothing was attempted", func(t *testing.T) {
		env := newEngineEnv(t)
		env.seed(t, model.ProviderCardPay, testRef)

		out, err := env.uc.VerifyPayment(ctx, webhook(testRef, "pending", "9.99", "USD"))

		if err != nil || out.Status != model.PaymentStatusPending {
			t.Fatalf("expected pending, got %+v, %v", out, err)
		}
		if env.publisher.Count(adapter.EventTransactionProcessing) != 0 {
			t.Error("an unchanged status must not publish")
		}

		done, err := env.uc.VerifyPayment(ctx, webhook(testRef, "completed", "9.99", "USD"))
		if err != nil || done.Status != model.PaymentStatusCompleted || done.SubscriptionID == nil {
			t.Fatalf("expected completion after the pending report, got %+v, %v", done, err)
		}
	})

	t.Run("should settle a processing transaction on a later signed delivery", func(t *testing.T) {
		// --- Arrange ---
		env := newEngineEnv(t)
		env.seed(t, model.ProviderCardPay, testRef)
		out, err := env.uc.VerifyPayment(ctx, webhook(testRef, "processing", "9.99", "USD"))
		if err != nil || out.Status != model.PaymentStatusProcessing {
			t.Fatalf("expected processing, got %+v, %v", out, err)
		}

		// --- Act ---
		done, err := env.uc.VerifyPayment(ctx, webhook(testRef, "completed", "9.99", "USD"))

		// --- Assert ---
		if err != nil || done.Status != model.PaymentStatusCompleted || done.SubscriptionID == nil {
			t.Fatalf("expected completion with a subscription, got %+v, %v", done, err)
		}
		if env.store.Subscriptions().Count() != 1 {
			t.Errorf("expected one subscription, got %d", env.store.Subscriptions().Count())
		}
		if env.publisher.Count(adapter.EventTransactionProcessing) != 1 || env.publisher.Count(adapter.EventTransactionCompleted) != 1 {
			t.Error("expected one processing and one completion event")
		}
	})

	t.Run("should still check the signature of a delivery for a processing transaction", func(t *testing.T) {
		env := newEngineEnv(t)
		env.seed(t, model.ProviderCardPay, testRef)
		if _, err := env.uc.VerifyPayment(ctx, webhook(testRef, "processing", "9.99", "USD")); err != nil {
			t.Fatalf("setup: %v", err)
		}
		forged := webhook(testRef, "completed", "9.99", "USD")
		forged.Signature = "forged"

		if _, err := env.uc.VerifyPayment(ctx, forged); !errors.Is(err, domain.ErrInvalidSignature) {
			t.Fatalf("expected ErrInvalidSignature, got %v", err)
		}
		if env.stored(t, testRef).Status != model.PaymentStatusProcessing {
			t.Error("a forged delivery must not settle the transaction")
		}
	})

	t.Run("should gate plain polls of a processing transaction until reconciled", func(t *testing.T) {
		env := newEngineEnv(t)
		env.seed(t, model.ProviderCardPay, testRef)
		if _, err := env.uc.VerifyPayment(ctx, webhook(testRef, "processing", "9.99", "USD")); err != nil {
			t.Fatalf("setup: %v", err)
		}
		env.strategy.PollStatusFunc = func(ctx context.Context, ref string) (adapter.ProviderPaymentStatus, error) {
			return adapter.ProviderPaymentStatus{ProviderReference: ref, Status: model.PaymentStatusCompleted,
				Amount: decimal.RequireFromString("9.99"), Currency: model.CurrencyUSD}, nil
		}

		echo, err := env.uc.VerifyPayment(ctx, usecase.VerificationRequest{ProviderReference: testRef})
		if err != nil || echo.Status != model.PaymentStatusProcessing || env.strategy.PollCalls.Load() != 0 {
			t.Fatalf("expected a processing echo without polling, got %+v, %v", echo, err)
		}

		done, err := env.uc.VerifyPayment(ctx, usecase.VerificationRequest{ProviderReference: testRef, Reconcile: true})
		if err != nil || done.Status != model.PaymentStatusCompleted || done.SubscriptionID == nil {
			t.Fatalf("expected reconciled completion, got %+v, %v", done, err)
		}
	})

	t.Run("should extend an existing subscription on a repeat purchase", func(t *testing.T) {
		env := newEngineEnv(t)
		env.seed(t, model.ProviderCardPay, testRef)
		env.seed(t, model.ProviderCardPay, "cs_test_2")

		first, err := env.uc.VerifyPayment(ctx, webhook(testRef, "completed", "9.99", "USD"))
		if err != nil {
			t.Fatalf("first verification: %v", err)
		}
		before, _ := env.store.Subscriptions().FindByUser(ctx, nil, 7)

		second, err := env.uc.VerifyPayment(ctx, webhook("cs_test_2", "completed", "9.99", "USD"))
		if err != nil {
			t.Fatalf("second verification: %v", err)
		}
		after, _ := env.store.Subscriptions().FindByUser(ctx, nil, 7)

		if *first.SubscriptionID != *second.SubscriptionID {
			t.Errorf("expected the same subscription to be extended, got %d and %d", *first.SubscriptionID, *second.SubscriptionID)
		}
		if got := after.EndDate.Sub(before.EndDate); got != 30*24*time.Hour {
			t.Errorf("expected end date pushed by 30 days, got %v", got)
		}
	})
}

func TestPaymentUseCase_ActivationIsolation(t *testing.T) {
	ctx := context.Background()

	// --- Arrange ---
	env := newEngineEnv(t)
	env.seed(t, model.ProviderCardPay, testRef)
	env.subs.SaveFunc = func(ctx context.Context, tx repository.Tx, sub *model.UserSubscription) error {
		return errors.New("subscriptions table unavailable")
	}

	// --- Act ---
	out, err := env.uc.VerifyPayment(ctx, webhook(testRef, "completed", "9.99", "USD"))

	// --- Assert ---
	if err != nil {
		t.Fatalf("activation failure must not surface, got %v", err)
	}
	if out.Status != model.PaymentStatusCompleted || out.SubscriptionID != nil {
		t.Fatalf("expected completed without subscription, got %+v", out)
	}
	stored := env.stored(t, testRef)
	if stored.Status != model.PaymentStatusCompleted || stored.SubscriptionID != nil || stored.CompletedAt == nil {
		t.Errorf("completion must persist despite activation failure: %+v", stored)
	}
	if env.alerter.Len() != 1 {
		t.Errorf("expected one remediation alert, got %d", env.alerter.Len())
	}
	if env.publisher.Count(adapter.EventActivationFailed) != 1 {
		t.Error("expected an activation.failed event")
	}
}

func TestPaymentUseCase_ConcurrentVerification(t *testing.T) {
	ctx := context.Background()
	env := newEngineEnv(t)
	env.seed(t, model.ProviderCardPay, testRef)

	const callers = 16
	var (
		wg       sync.WaitGroup
		outcomes = make([]*usecase.VerificationOutcome, callers)
		errs     = make([]error, callers)
		start    = make(chan struct{})
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			outcomes[i], errs[i] = env.uc.VerifyPayment(ctx, webhook(testRef, "completed", "9.99", "USD"))
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if !sameOutcome(outcomes[i], outcomes[0]) {
			t.Errorf("caller %d saw %+v, caller 0 saw %+v", i, outcomes[i], outcomes[0])
		}
	}
	if n := env.store.Subscriptions().Count(); n != 1 {
		t.Errorf("expected exactly one activation, got %d subscriptions", n)
	}
	if n := env.publisher.Count(adapter.EventTransactionCompleted); n != 1 {
		t.Errorf("expected exactly one completion event, got %d", n)
	}
}

func TestPaymentUseCase_CreatePaymentSession(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist a pending transaction priced by the catalog", func(t *testing.T) {
		env := newEngineEnv(t)
		var params adapter.SessionParams
		env.strategy.CreateSessionFunc = func(ctx context.Context, p adapter.SessionParams) (adapter.SessionResult, error) {
			params = p
			return adapter.SessionResult{ProviderReference: "cs_new", CheckoutURL: "https://pay.example/cs_new",
				Metadata: map[string]string{"session": "cs_new"}}, nil
		}

		tx, err := env.uc.CreatePaymentSession(ctx, usecase.SessionRequest{
			UserID: 7, Provider: model.ProviderCardPay, ProductType: model.ProductPremium, Currency: model.CurrencyUSD,
		})

		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if tx.ID == 0 || tx.Status != model.PaymentStatusPending || !tx.Amount.Equal(decimal.RequireFromString("9.99")) {
			t.Errorf("unexpected transaction: %+v", tx)
		}
		if tx.ExpiresAt.IsZero() {
			t.Error("expected a default expiry")
		}
		if params.Email != "user7@example.com" || params.Name != "Seven" {
			t.Errorf("expected user details forwarded, got %+v", params)
		}
		if env.stored(t, "cs_new").Metadata()["session"] != "cs_new" {
			t.Error("expected provider metadata to be stored")
		}
	})

	t.Run("should not call any provider for an unconfigured one", func(t *testing.T) {
		env := newEngineEnv(t)
		_, err := env.uc.CreatePaymentSession(ctx, usecase.SessionRequest{
			UserID: 7, Provider: model.ProviderZarinPal, ProductType: model.ProductPremium, Currency: model.CurrencyUSD,
		})
		if !errors.Is(err, domain.ErrUnconfiguredProvider) {
			t.Fatalf("expected ErrUnconfiguredProvider, got %v", err)
		}
	})

	t.Run("should surface an unknown user", func(t *testing.T) {
		env := newEngineEnv(t)
		_, err := env.uc.CreatePaymentSession(ctx, usecase.SessionRequest{
			UserID: 404, Provider: model.ProviderCardPay, ProductType: model.ProductPremium, Currency: model.CurrencyUSD,
		})
		if !errors.Is(err, domain.ErrNotFound) || env.strategy.SessionCalls.Load() != 0 {
			t.Fatalf("expected ErrNotFound before any provider call, got %v", err)
		}
	})

	t.Run("should store nothing when the provider refuses", func(t *testing.T) {
		env := newEngineEnv(t)
		env.strategy.CreateSessionFunc = func(ctx context.Context, p adapter.SessionParams) (adapter.SessionResult, error) {
			return adapter.SessionResult{}, errors.New("503 from provider")
		}
		_, err := env.uc.CreatePaymentSession(ctx, usecase.SessionRequest{
			UserID: 7, Provider: model.ProviderCardPay, ProductType: model.ProductPremium, Currency: model.CurrencyUSD,
		})
		if !errors.Is(err, domain.ErrProviderRequest) {
			t.Fatalf("expected ErrProviderRequest, got %v", err)
		}
		page, _ := env.uc.GetUserHistory(ctx, 7, 1)
		if page.Total != 0 {
			t.Errorf("expected no stored transactions, got %d", page.Total)
		}
	})

	t.Run("should reject a currency without a price", func(t *testing.T) {
		env := newEngineEnv(t)
		_, err := env.uc.CreatePaymentSession(ctx, usecase.SessionRequest{
			UserID: 7, Provider: model.ProviderCardPay, ProductType: model.ProductPremium, Currency: model.CurrencyIRR,
		})
		if domain.KindOf(err) != domain.KindValidation {
			t.Fatalf("expected validation_error, got %v", err)
		}
	})
}

func TestPaymentUseCase_Queries(t *testing.T) {
	ctx := context.Background()
	env := newEngineEnv(t)
	for i := 0; i < 23; i++ {
		env.seed(t, model.ProviderCardPay, fmt.Sprintf("cs_hist_%02d", i))
	}

	t.Run("should page history twenty at a time", func(t *testing.T) {
		first, err := env.uc.GetUserHistory(ctx, 7, 0)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if first.Page != 1 || len(first.Items) != usecase.HistoryPageSize || first.Total != 23 {
			t.Errorf("unexpected first page: page=%d items=%d total=%d", first.Page, len(first.Items), first.Total)
		}
		second, _ := env.uc.GetUserHistory(ctx, 7, 2)
		if len(second.Items) != 3 {
			t.Errorf("expected 3 items on page 2, got %d", len(second.Items))
		}
		empty, _ := env.uc.GetUserHistory(ctx, 99, 1)
		if empty.Total != 0 || len(empty.Items) != 0 {
			t.Errorf("expected empty history, got %+v", empty)
		}
	})

	t.Run("should report a missing transaction id", func(t *testing.T) {
		if _, err := env.uc.GetTransactionByID(ctx, 9999); !errors.Is(err, domain.ErrTransactionNotFound) {
			t.Fatalf("expected ErrTransactionNotFound, got %v", err)
		}
		got, err := env.uc.GetTransactionByID(ctx, 1)
		if err != nil || got.ID != 1 {
			t.Errorf("expected transaction 1, got %v, %v", got, err)
		}
	})
}

func TestPaymentUseCase_ExpireTransaction(t *testing.T) {
	ctx := context.Background()
	env := newEngineEnv(t)

	fresh := env.seed(t, model.ProviderCardPay, "cs_fresh")
	stale, _ := model.NewPaymentTransaction(7, model.ProviderCardPay, "cs_stale", decimal.RequireFromString("9.99"),
		model.CurrencyUSD, model.ProductPremium, nil, "", time.Now().Add(-time.Minute), nil)
	_ = env.store.Payments().Insert(ctx, nil, stale)

	out, err := env.uc.ExpireTransaction(ctx, model.ProviderCardPay, "cs_stale")
	if err != nil || out.Status != model.PaymentStatusExpired {
		t.Fatalf("expected expired, got %+v, %v", out, err)
	}
	if env.publisher.Count(adapter.EventTransactionExpired) != 1 {
		t.Error("expected an expired event")
	}

	out, err = env.uc.ExpireTransaction(ctx, model.ProviderCardPay, fresh.ProviderReference)
	if err != nil || out.Status != model.PaymentStatusPending {
		t.Errorf("open checkout window must not expire, got %+v, %v", out, err)
	}

	inFlight, _ := model.NewPaymentTransaction(7, model.ProviderCardPay, "cs_in_flight", decimal.RequireFromString("9.99"),
		model.CurrencyUSD, model.ProductPremium, nil, "", time.Now().Add(-time.Minute), nil)
	_ = env.store.Payments().Insert(ctx, nil, inFlight)
	if _, err := env.uc.VerifyPayment(ctx, webhook("cs_in_flight", "processing", "9.99", "USD")); err != nil {
		t.Fatalf("setup: %v", err)
	}
	out, err = env.uc.ExpireTransaction(ctx, model.ProviderCardPay, "cs_in_flight")
	if err != nil || out.Status != model.PaymentStatusProcessing {
		t.Errorf("a processing payment must not expire, got %+v, %v", out, err)
	}
}

func TestStrategyRegistry(t *testing.T) {
	if _, err := usecase.NewStrategyRegistry(NewMockStrategy(model.ProviderCardPay), NewMockStrategy(model.ProviderCardPay)); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected duplicate registration to fail, got %v", err)
	}
	r, err := usecase.NewStrategyRegistry(NewMockStrategy(model.ProviderWallet))
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if s, err := r.Resolve(model.ProviderWallet); err != nil || s.Provider() != model.ProviderWallet {
		t.Errorf("expected wallet strategy, got %v, %v", s, err)
	}
	if _, err := r.Resolve(model.ProviderCardPay); domain.KindOf(err) != domain.KindUnconfiguredProvider {
		t.Errorf("expected unconfigured_provider, got %v", err)
	}
}
