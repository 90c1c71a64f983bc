package repository

import (
	"context"

	"subscription-payments/internal/domain/model"
)

// SubscriptionRepository is the port for user subscriptions.
type SubscriptionRepository interface {
	// LockUser serializes subscription writes for userID until tx ends.
	LockUser(ctx context.Context, tx Tx, userID int64) error
	// FindByUser returns the user's latest subscription or domain.ErrNotFound.
	FindByUser(ctx context.Context, tx Tx, userID int64) (*model.UserSubscription, error)
	// Save inserts when sub.ID is zero and updates otherwise.
	Save(ctx context.Context, tx Tx, sub *model.UserSubscription) error
}
