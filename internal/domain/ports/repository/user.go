package repository

import (
	"context"

	"subscription-payments/internal/domain/model"
)

// -----------------------------
// Users
// -----------------------------

type UserRepository interface {
	FindByID(ctx context.Context, tx Tx, id int64) (*model.User, error)
}
