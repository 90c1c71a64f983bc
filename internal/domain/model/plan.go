package model

import (
	"time"

	"github.com/shopspring/decimal"

	"subscription-payments/internal/domain"
)

// SubscriptionPlan is what a product/billing-cycle pair activates.
type SubscriptionPlan struct {
	ID           string
	Name         string
	ProductType  ProductType
	BillingCycle BillingCycle
	DurationDays int
	Prices       map[Currency]decimal.Decimal
}

func (p *SubscriptionPlan) IsZero() bool { return p == nil || p.ID == "" }

func (p *SubscriptionPlan) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}

// NewSubscriptionPlan validates and constructs a plan.
func NewSubscriptionPlan(id, name string, product ProductType, cycle BillingCycle, durationDays int, prices map[Currency]decimal.Decimal) (*SubscriptionPlan, error) {
	if id == "" || name == "" || product == "" || cycle == "" || durationDays <= 0 || len(prices) == 0 {
		return nil, domain.ErrInvalidArgument
	}
	for _, p := range prices {
		if !p.IsPositive() {
			return nil, domain.ErrInvalidArgument
		}
	}
	return &SubscriptionPlan{
		ID:           id,
		Name:         name,
		ProductType:  product,
		BillingCycle: cycle,
		DurationDays: durationDays,
		Prices:       prices,
	}, nil
}
