package postgres

import (
	"context"
	"hash/fnv"
	"strconv"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/repository"
)

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

// hashToInt64 derives an advisory lock key.
func hashToInt64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64() & ((1 << 63) - 1))
}

// LockUser takes a transaction-scoped advisory lock, so concurrent activations for a
// user without any subscription row still run one after the other.
func (r *subscriptionRepo) LockUser(ctx context.Context, tx repository.Tx, userID int64) error {
	if !isTx(tx) {
		return domain.ErrInvalidExecContext
	}
	if _, err := execSQL(ctx, r.pool, tx, "SELECT pg_advisory_xact_lock($1)", hashToInt64("user_subscription:"+strconv.FormatInt(userID, 10))); err != nil {
		return mapErr("lock user subscriptions", err)
	}
	return nil
}

func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.UserSubscription) error {
	if s == nil || s.UserID <= 0 {
		return domain.ErrInvalidArgument
	}
	if s.ID == 0 {
		const q = `
INSERT INTO user_subscriptions (user_id, plan_id, start_date, end_date, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id;`
		row, err := pickRow(ctx, r.pool, tx, q, s.UserID, s.PlanID, s.StartDate, s.EndDate, s.IsActive, s.CreatedAt, s.UpdatedAt)
		if err != nil {
			return err
		}
		if err := row.Scan(&s.ID); err != nil {
			return mapErr("insert subscription", err)
		}
		return nil
	}

	const q = `
UPDATE user_subscriptions
   SET plan_id=$2, start_date=$3, end_date=$4, is_active=$5, updated_at=$6
 WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, s.ID, s.PlanID, s.StartDate, s.EndDate, s.IsActive, s.UpdatedAt)
	if err != nil {
		return mapErr("update subscription", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *subscriptionRepo) FindByUser(ctx context.Context, tx repository.Tx, userID int64) (*model.UserSubscription, error) {
	q := `
SELECT id, user_id, plan_id, start_date, end_date, is_active, created_at, updated_at
  FROM user_subscriptions
 WHERE user_id=$1
 ORDER BY end_date DESC, id DESC
 LIMIT 1`
	if isTx(tx) {
		q += " FOR UPDATE"
	}
	return r.queryOne(ctx, tx, q, userID)
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, sql string, args ...any) (*model.UserSubscription, error) {
	row, err := pickRow(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}

	s := &model.UserSubscription{}
	if err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &s.StartDate, &s.EndDate, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, mapErr("find subscription", err)
	}
	return s, nil
}
