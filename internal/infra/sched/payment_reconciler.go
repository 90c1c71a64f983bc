package sched

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"subscription-payments/internal/config"
	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/repository"
	"subscription-payments/internal/infra/logging"
	"subscription-payments/internal/infra/metrics"
	"subscription-payments/internal/infra/worker"
	"subscription-payments/internal/usecase"
)

const reconcilerLockKey = "payments:reconciler"

// PaymentReconciler periodically re-verifies open transactions whose webhook never
// arrived, and expires the ones whose checkout window elapsed. Only the replica
// holding the lock runs a pass.
type PaymentReconciler struct {
	uc     usecase.PaymentUseCase
	locker repository.Locker
	cfg    config.ReconcilerConfig
	log    *zerolog.Logger
	now    func() time.Time
}

// Summary counts what one pass did.
type Summary struct {
	Scanned int
	Settled int
	Expired int
	Open    int
	Failed  int
}

func NewPaymentReconciler(uc usecase.PaymentUseCase, locker repository.Locker, cfg config.ReconcilerConfig, logger *zerolog.Logger) *PaymentReconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * cfg.Interval
	}
	l := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{uc: uc, locker: locker, cfg: cfg, log: &l, now: time.Now}
}

func (w *PaymentReconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.cfg.Interval).Dur("stale_after", w.cfg.StaleAfter).Msg("Starting payment reconciler")
	t := time.NewTicker(w.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping payment reconciler")
			return ctx.Err()
		case <-t.C:
			if _, err := w.RunOnce(ctx); err != nil && !errors.Is(err, domain.ErrLockHeld) {
				w.log.Error().Err(err).Msg("reconciliation pass failed")
			}
		}
	}
}

// RunOnce performs one pass. It returns domain.ErrLockHeld when another replica is reconciling.
func (w *PaymentReconciler) RunOnce(ctx context.Context) (Summary, error) {
	var sum Summary
	token, err := w.locker.TryLock(ctx, reconcilerLockKey, w.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			metrics.IncReconcilerRun("skipped")
		} else {
			metrics.IncReconcilerRun("error")
		}
		return sum, err
	}
	defer func() {
		if err := w.locker.Unlock(context.WithoutCancel(ctx), reconcilerLockKey, token); err != nil {
			w.log.Warn().Err(err).Msg("release reconciler lock")
		}
	}()

	stale, err := w.uc.ListStale(ctx, w.now().Add(-w.cfg.StaleAfter), w.cfg.BatchSize)
	if err != nil {
		metrics.IncReconcilerRun("error")
		return sum, err
	}

	var mu sync.Mutex
	pool := worker.NewPool(w.cfg.Workers, w.log)
	pool.Start(ctx)
	for _, t := range stale {
		t := t
		if err := pool.Submit(ctx, func(ctx context.Context) error {
			outcome := w.reconcile(ctx, t)
			metrics.IncReconcilerItem(outcome)
			mu.Lock()
			defer mu.Unlock()
			sum.Scanned++
			switch outcome {
			case "settled":
				sum.Settled++
			case "expired":
				sum.Expired++
			case "open":
				sum.Open++
			default:
				sum.Failed++
			}
			return nil
		}); err != nil {
			break
		}
	}
	pool.Close()

	metrics.IncReconcilerRun("ok")
	if sum.Scanned > 0 {
		w.log.Info().Int("scanned", sum.Scanned).Int("settled", sum.Settled).Int("expired", sum.Expired).
			Int("open", sum.Open).Int("failed", sum.Failed).Msg("reconciliation pass finished")
	}
	return sum, ctx.Err()
}

func (w *PaymentReconciler) reconcile(ctx context.Context, t *model.PaymentTransaction) string {
	log := w.log.With().Int64("transaction_id", t.ID).Str("provider", string(t.Provider)).Logger()
	ctx = logging.WithProvider(ctx, string(t.Provider))

	out, err := w.uc.VerifyPayment(ctx, usecase.VerificationRequest{
		ProviderReference: t.ProviderReference,
		Provider:          t.Provider,
		Reconcile:         true,
	})
	switch {
	case err == nil && out.Status.IsAbsorbing():
		log.Info().Str("status", string(out.Status)).Msg("transaction reconciled")
		return "settled"
	case err == nil, errors.Is(err, domain.ErrVerificationDataUnavailable):
		return w.expireIfElapsed(ctx, t, &log)
	default:
		log.Warn().Err(err).Str("kind", string(domain.KindOf(err))).Msg("re-verification failed")
		return "error"
	}
}

func (w *PaymentReconciler) expireIfElapsed(ctx context.Context, t *model.PaymentTransaction, log *zerolog.Logger) string {
	if w.now().Before(t.ExpiresAt) {
		return "open"
	}
	out, err := w.uc.ExpireTransaction(ctx, t.Provider, t.ProviderReference)
	if err != nil {
		log.Warn().Err(err).Msg("expire transaction failed")
		return "error"
	}
	if out.Status == model.PaymentStatusExpired {
		log.Info().Msg("transaction expired")
		return "expired"
	}
	if out.Status.IsAbsorbing() {
		return "settled"
	}
	return "open"
}
