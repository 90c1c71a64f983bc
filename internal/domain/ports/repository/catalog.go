package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"subscription-payments/internal/domain/model"
)

// Catalog answers pricing questions. A nil billing cycle means the product's default cycle.
type Catalog interface {
	GetPrice(ctx context.Context, product model.ProductType, currency model.Currency, cycle *model.BillingCycle) (decimal.Decimal, error)
	ResolvePlan(ctx context.Context, product model.ProductType, cycle *model.BillingCycle) (*model.SubscriptionPlan, error)
}
