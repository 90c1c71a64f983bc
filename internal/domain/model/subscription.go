package model

import (
	"time"

	"subscription-payments/internal/domain"
)

// UserSubscription is the entitlement a completed payment grants. Its lifetime is
// independent of any single payment: repeat payments extend EndDate.
type UserSubscription struct {
	ID        int64
	UserID    int64
	PlanID    string
	StartDate time.Time
	EndDate   time.Time
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewUserSubscription starts a subscription at now covering one plan period.
func NewUserSubscription(userID int64, plan *SubscriptionPlan, now time.Time) (*UserSubscription, error) {
	if userID <= 0 || plan.IsZero() || plan.Duration() <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &UserSubscription{
		UserID:    userID,
		PlanID:    plan.ID,
		StartDate: now,
		EndDate:   now.Add(plan.Duration()),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Extend renews the subscription from its end date, or from now if it already lapsed,
// so remaining paid time is never truncated.
func (us *UserSubscription) Extend(plan *SubscriptionPlan, now time.Time) error {
	if plan.IsZero() || plan.Duration() <= 0 {
		return domain.ErrInvalidArgument
	}
	from := us.EndDate
	if !us.IsActive || now.After(us.EndDate) {
		from = now
	}
	us.EndDate = from.Add(plan.Duration())
	us.PlanID = plan.ID
	us.IsActive = true
	us.UpdatedAt = now
	return nil
}

// ActiveAt reports whether the subscription covers t.
func (us *UserSubscription) ActiveAt(t time.Time) bool {
	return us.IsActive && !t.Before(us.StartDate) && t.Before(us.EndDate)
}
