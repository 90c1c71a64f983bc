package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/repository"
	"subscription-payments/internal/infra/logging"
)

// Compile-time check
var _ SubscriptionActivator = (*subscriptionActivator)(nil)

// SubscriptionActivator grants or extends the subscription a completed payment pays for.
type SubscriptionActivator interface {
	// Activate returns the subscription id. Every failure wraps domain.ErrActivationFailed.
	Activate(ctx context.Context, tx repository.Tx, t *model.PaymentTransaction) (int64, error)
}

type subscriptionActivator struct {
	subs    repository.SubscriptionRepository
	catalog repository.Catalog
	now     func() time.Time
	log     *zerolog.Logger
}

func NewSubscriptionActivator(subs repository.SubscriptionRepository, catalog repository.Catalog, logger *zerolog.Logger) *subscriptionActivator {
	l := logger.With().Str("component", "activator").Logger()
	return &subscriptionActivator{
		subs:    subs,
		catalog: catalog,
		now:     func() time.Time { return time.Now().UTC() },
		log:     &l,
	}
}

func (a *subscriptionActivator) Activate(ctx context.Context, tx repository.Tx, t *model.PaymentTransaction) (int64, error) {
	defer logging.TraceDuration(a.log, "SubscriptionActivator.Activate")()

	plan, err := a.catalog.ResolvePlan(ctx, t.ProductType, t.BillingCycle)
	if err != nil {
		return 0, fmt.Errorf("%w: resolve plan for %s: %w", domain.ErrActivationFailed, t.ProductType, err)
	}

	if err := a.subs.LockUser(ctx, tx, t.UserID); err != nil {
		return 0, fmt.Errorf("%w: lock user %d: %w", domain.ErrActivationFailed, t.UserID, err)
	}
	now := a.now()
	sub, err := a.subs.FindByUser(ctx, tx, t.UserID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		sub, err = model.NewUserSubscription(t.UserID, plan, now)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", domain.ErrActivationFailed, err)
		}
	case err != nil:
		return 0, fmt.Errorf("%w: load subscription: %w", domain.ErrActivationFailed, err)
	default:
		if err := sub.Extend(plan, now); err != nil {
			return 0, fmt.Errorf("%w: %w", domain.ErrActivationFailed, err)
		}
	}

	if err := a.subs.Save(ctx, tx, sub); err != nil {
		return 0, fmt.Errorf("%w: save subscription: %w", domain.ErrActivationFailed, err)
	}
	a.log.Debug().Int64("user_id", t.UserID).Int64("subscription_id", sub.ID).
		Str("plan_id", plan.ID).Time("end_date", sub.EndDate).Msg("subscription activated")
	return sub.ID, nil
}
