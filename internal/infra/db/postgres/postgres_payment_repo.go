package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/repository"
)

var _ repository.PaymentTransactionRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, provider_reference, user_id, provider, amount::text, currency, product_type, billing_cycle,
  status, payment_method, checkout_url, expires_at, completed_at, failure_reason, failure_code, subscription_id,
  webhook_payload, provider_metadata::text, created_at, updated_at`

func scanPayment(row pgx.Row) (*model.PaymentTransaction, error) {
	var (
		t                                   model.PaymentTransaction
		provider, currency, product, status string
		amount                              string
		cycle                               *string
	)
	if err := row.Scan(&t.ID, &t.ProviderReference, &t.UserID, &provider, &amount, &currency, &product, &cycle,
		&status, &t.PaymentMethod, &t.CheckoutURL, &t.ExpiresAt, &t.CompletedAt, &t.FailureReason, &t.FailureCode,
		&t.SubscriptionID, &t.WebhookPayload, &t.ProviderMetadata, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q", domain.ErrReadDatabaseRow, amount)
	}
	t.Amount = d
	t.Provider = model.Provider(provider)
	t.Currency = model.Currency(currency)
	t.ProductType = model.ProductType(product)
	t.Status = model.PaymentStatus(status)
	if cycle != nil {
		c := model.BillingCycle(*cycle)
		t.BillingCycle = &c
	}
	return &t, nil
}

func (r *paymentRepo) Insert(ctx context.Context, tx repository.Tx, t *model.PaymentTransaction) error {
	const q = `
INSERT INTO payment_transactions (
  provider_reference, user_id, provider, amount, currency, product_type, billing_cycle, status,
  checkout_url, expires_at, provider_metadata, created_at, updated_at
) VALUES ($1,$2,$3,$4::numeric,$5,$6,$7,$8,$9,$10,$11::jsonb,$12,$13)
RETURNING id;`

	var cycle *string
	if t.BillingCycle != nil {
		s := string(*t.BillingCycle)
		cycle = &s
	}
	meta := t.ProviderMetadata
	if meta == "" {
		meta = "{}"
	}
	row, err := pickRow(ctx, r.pool, tx, q, t.ProviderReference, t.UserID, string(t.Provider), t.Amount.String(),
		string(t.Currency), string(t.ProductType), cycle, string(t.Status), t.CheckoutURL, t.ExpiresAt, meta,
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return err
	}
	if err := row.Scan(&t.ID); err != nil {
		return mapErr("insert payment transaction", err)
	}
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.PaymentTransaction, error) {
	q := `SELECT ` + paymentColumns + ` FROM payment_transactions WHERE id=$1`
	if isTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	t, err := scanPayment(row)
	if err != nil {
		return nil, mapErr("find payment transaction", err)
	}
	return t, nil
}

// FindByReference resolves (provider, reference). With an empty provider the
// lowest id wins, so the answer is stable.
func (r *paymentRepo) FindByReference(ctx context.Context, tx repository.Tx, provider model.Provider, ref string) (*model.PaymentTransaction, error) {
	q := `SELECT ` + paymentColumns + ` FROM payment_transactions
 WHERE provider_reference=$1 AND ($2 = '' OR provider=$2)
 ORDER BY id ASC LIMIT 1`
	if isTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, ref, string(provider))
	if err != nil {
		return nil, err
	}
	t, err := scanPayment(row)
	if err != nil {
		return nil, mapErr("find payment transaction by reference", err)
	}
	return t, nil
}

// UpdateIfOpen writes the verification fields only while the row is pending or
// processing. Amount and currency are never part of the update.
func (r *paymentRepo) UpdateIfOpen(ctx context.Context, tx repository.Tx, t *model.PaymentTransaction) (bool, error) {
	const q = `
UPDATE payment_transactions
   SET status = $2,
       payment_method = $3,
       completed_at = $4,
       failure_reason = $5,
       failure_code = $6,
       subscription_id = $7,
       webhook_payload = $8,
       updated_at = $9
 WHERE id = $1
   AND status IN ('pending','processing')`

	cmd, err := execSQL(ctx, r.pool, tx, q, t.ID, string(t.Status), t.PaymentMethod, t.CompletedAt,
		t.FailureReason, t.FailureCode, t.SubscriptionID, t.WebhookPayload, t.UpdatedAt)
	if err != nil {
		return false, mapErr("update payment transaction", err)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID int64, limit, offset int) ([]*model.PaymentTransaction, int, error) {
	var total int
	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM payment_transactions WHERE user_id=$1`, userID)
	if err != nil {
		return nil, 0, err
	}
	if err := row.Scan(&total); err != nil {
		return nil, 0, mapErr("count payment transactions", err)
	}
	if total == 0 || offset >= total {
		return []*model.PaymentTransaction{}, total, nil
	}

	q := `SELECT ` + paymentColumns + ` FROM payment_transactions
 WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
	out, err := r.list(ctx, tx, q, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *paymentRepo) ListOpenOlderThan(ctx context.Context, tx repository.Tx, before time.Time, limit int) ([]*model.PaymentTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + paymentColumns + ` FROM payment_transactions
 WHERE status IN ('pending','processing') AND created_at < $1 ORDER BY created_at ASC, id ASC LIMIT $2`
	return r.list(ctx, tx, q, before, limit)
}

func (r *paymentRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.PaymentTransaction, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapErr("list payment transactions", err)
	}
	defer rows.Close()

	out := []*model.PaymentTransaction{}
	for rows.Next() {
		t, err := scanPayment(rows)
		if err != nil {
			return nil, mapErr("scan payment transaction", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list payment transactions", err)
	}
	return out, nil
}
