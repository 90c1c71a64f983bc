package catalog

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"subscription-payments/internal/config"
	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/repository"
)

var _ repository.Catalog = (*Static)(nil)

type planKey struct {
	product model.ProductType
	cycle   model.BillingCycle
}

// Static is an immutable catalog built once from configuration.
type Static struct {
	plans    map[planKey]*model.SubscriptionPlan
	defaults map[model.ProductType]model.BillingCycle
}

// New validates the configured plans and indexes them by product and cycle.
func New(cfg config.CatalogConfig) (*Static, error) {
	c := &Static{
		plans:    make(map[planKey]*model.SubscriptionPlan, len(cfg.Plans)),
		defaults: map[model.ProductType]model.BillingCycle{},
	}
	for _, pc := range cfg.Plans {
		product, err := model.ParseProductType(pc.Product)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", pc.ID, err)
		}
		cycle, err := model.ParseBillingCycle(pc.Cycle)
		if err != nil || cycle == nil {
			return nil, fmt.Errorf("plan %s: %w: billing cycle %q", pc.ID, domain.ErrValidation, pc.Cycle)
		}
		prices := make(map[model.Currency]decimal.Decimal, len(pc.Prices))
		for cur, amount := range pc.Prices {
			currency, err := model.ParseCurrency(cur)
			if err != nil {
				return nil, fmt.Errorf("plan %s: %w", pc.ID, err)
			}
			d, err := decimal.NewFromString(amount)
			if err != nil {
				return nil, fmt.Errorf("plan %s: %w: price %q", pc.ID, domain.ErrValidation, amount)
			}
			prices[currency] = d
		}
		plan, err := model.NewSubscriptionPlan(pc.ID, pc.Name, product, *cycle, pc.DurationDays, prices)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", pc.ID, err)
		}

		key := planKey{product, *cycle}
		if _, dup := c.plans[key]; dup {
			return nil, fmt.Errorf("%w: duplicate plan for %s/%s", domain.ErrValidation, product, *cycle)
		}
		c.plans[key] = plan
		if pc.Default {
			c.defaults[product] = *cycle
		}
	}
	return c, nil
}

// ResolvePlan returns the plan for product and cycle. A nil cycle selects the
// product's default plan, falling back to monthly.
func (c *Static) ResolvePlan(ctx context.Context, product model.ProductType, cycle *model.BillingCycle) (*model.SubscriptionPlan, error) {
	want := model.BillingCycleMonthly
	if d, ok := c.defaults[product]; ok {
		want = d
	}
	if cycle != nil {
		want = *cycle
	}
	p, ok := c.plans[planKey{product, want}]
	if !ok {
		return nil, fmt.Errorf("%w: no %s plan for %s", domain.ErrNotFound, want, product)
	}
	return p, nil
}

func (c *Static) GetPrice(ctx context.Context, product model.ProductType, currency model.Currency, cycle *model.BillingCycle) (decimal.Decimal, error) {
	p, err := c.ResolvePlan(ctx, product, cycle)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	price, ok := p.Prices[currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: plan %s has no %s price", domain.ErrValidation, p.ID, currency)
	}
	return price, nil
}
