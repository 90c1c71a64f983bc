package repository

import (
	"context"
	"time"

	"subscription-payments/internal/domain/model"
)

// -----------------------------
// Payment transactions
// -----------------------------

type PaymentTransactionRepository interface {
	// Insert assigns t.ID. A duplicate (provider, reference) yields domain.ErrAlreadyExists.
	Insert(ctx context.Context, tx Tx, t *model.PaymentTransaction) error
	FindByID(ctx context.Context, tx Tx, id int64) (*model.PaymentTransaction, error)
	// FindByReference locks the row for the rest of tx when tx is non-nil.
	// An empty provider matches any provider.
	FindByReference(ctx context.Context, tx Tx, provider model.Provider, ref string) (*model.PaymentTransaction, error)
	// UpdateIfOpen writes t only while the stored row is still pending or processing.
	// It reports false when another writer already moved the row to an absorbing state.
	UpdateIfOpen(ctx context.Context, tx Tx, t *model.PaymentTransaction) (bool, error)
	// ListByUser returns one page, newest first, and the total count for the user.
	ListByUser(ctx context.Context, tx Tx, userID int64, limit, offset int) ([]*model.PaymentTransaction, int, error)
	ListOpenOlderThan(ctx context.Context, tx Tx, before time.Time, limit int) ([]*model.PaymentTransaction, error)
}
