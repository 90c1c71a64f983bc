package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager executes a function within a database transaction, passing the
// underlying transaction handle via `tx`.
//
// Repositories accept `tx` and detect a live transaction on the implementation side
// to run SELECT ... FOR UPDATE and tx-bound Exec/Query. A nil tx is the
// non-transactional path.
//
// USAGE
//
//	tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx Tx) error {
//		t, err := payments.FindByReference(ctx, tx, provider, ref) // row now locked
//		...
//		return tm.WithSavepoint(ctx, tx, func(ctx context.Context, sp Tx) error {
//			return subs.Save(ctx, sp, sub) // rolled back alone if it fails
//		})
//	})
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
	// WithSavepoint runs fn in a nested transaction of tx. An error from fn rolls back
	// only fn's writes; the outer transaction stays usable.
	WithSavepoint(ctx context.Context, tx Tx, fn func(ctx context.Context, tx Tx) error) error
}
