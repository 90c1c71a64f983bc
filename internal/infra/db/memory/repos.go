package memory

import (
	"context"
	"sort"
	"time"

	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/repository"
)

var (
	_ repository.PaymentTransactionRepository = (*PaymentRepo)(nil)
	_ repository.SubscriptionRepository       = (*SubscriptionRepo)(nil)
	_ repository.UserRepository               = (*UserRepo)(nil)
)

// -----------------------------
// Payment transactions
// -----------------------------

type PaymentRepo struct{ s *Store }

func (r *PaymentRepo) Insert(ctx context.Context, tx repository.Tx, t *model.PaymentTransaction) error {
	return r.s.write(tx, func(st *state) error {
		for _, p := range st.payments {
			if p.Provider == t.Provider && p.ProviderReference == t.ProviderReference {
				return domain.ErrAlreadyExists
			}
		}
		st.seqPayment++
		t.ID = st.seqPayment
		st.payments[t.ID] = *t
		return nil
	})
}

func (r *PaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.PaymentTransaction, error) {
	var out *model.PaymentTransaction
	err := r.s.read(tx, func(st *state) error {
		p, ok := st.payments[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *PaymentRepo) FindByReference(ctx context.Context, tx repository.Tx, provider model.Provider, ref string) (*model.PaymentTransaction, error) {
	var out *model.PaymentTransaction
	err := r.s.read(tx, func(st *state) error {
		for id, p := range st.payments {
			if p.ProviderReference != ref || (provider != "" && p.Provider != provider) {
				continue
			}
			if out == nil || id < out.ID {
				cp := p
				out = &cp
			}
		}
		if out == nil {
			return domain.ErrNotFound
		}
		return nil
	})
	return out, err
}

func (r *PaymentRepo) UpdateIfOpen(ctx context.Context, tx repository.Tx, t *model.PaymentTransaction) (bool, error) {
	var updated bool
	err := r.s.write(tx, func(st *state) error {
		cur, ok := st.payments[t.ID]
		if !ok {
			return domain.ErrNotFound
		}
		if !cur.Status.IsOpen() {
			return nil
		}
		// amount and currency are immutable
		next := *t
		next.Amount, next.Currency = cur.Amount, cur.Currency
		st.payments[t.ID] = next
		updated = true
		return nil
	})
	return updated, err
}

func (r *PaymentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID int64, limit, offset int) ([]*model.PaymentTransaction, int, error) {
	var (
		out   []*model.PaymentTransaction
		total int
	)
	err := r.s.read(tx, func(st *state) error {
		var all []*model.PaymentTransaction
		for _, p := range st.payments {
			if p.UserID == userID {
				cp := p
				all = append(all, &cp)
			}
		}
		sort.Slice(all, func(i, j int) bool {
			if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
				return all[i].CreatedAt.After(all[j].CreatedAt)
			}
			return all[i].ID > all[j].ID
		})
		total = len(all)
		if offset >= total {
			return nil
		}
		end := total
		if limit > 0 && offset+limit < end {
			end = offset + limit
		}
		out = all[offset:end]
		return nil
	})
	return out, total, err
}

func (r *PaymentRepo) ListOpenOlderThan(ctx context.Context, tx repository.Tx, before time.Time, limit int) ([]*model.PaymentTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*model.PaymentTransaction
	err := r.s.read(tx, func(st *state) error {
		for _, p := range st.payments {
			if p.Status.IsOpen() && p.CreatedAt.Before(before) {
				cp := p
				out = append(out, &cp)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
		if len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

// -----------------------------
// Subscriptions
// -----------------------------

type SubscriptionRepo struct{ s *Store }

// LockUser is a no-op: every store write already holds the store mutex.
func (r *SubscriptionRepo) LockUser(ctx context.Context, tx repository.Tx, userID int64) error {
	return nil
}

func (r *SubscriptionRepo) FindByUser(ctx context.Context, tx repository.Tx, userID int64) (*model.UserSubscription, error) {
	var out *model.UserSubscription
	err := r.s.read(tx, func(st *state) error {
		for _, sub := range st.subs {
			if sub.UserID != userID {
				continue
			}
			if out == nil || sub.EndDate.After(out.EndDate) {
				cp := sub
				out = &cp
			}
		}
		if out == nil {
			return domain.ErrNotFound
		}
		return nil
	})
	return out, err
}

func (r *SubscriptionRepo) Save(ctx context.Context, tx repository.Tx, sub *model.UserSubscription) error {
	return r.s.write(tx, func(st *state) error {
		if sub.ID == 0 {
			st.seqSub++
			sub.ID = st.seqSub
		} else if _, ok := st.subs[sub.ID]; !ok {
			return domain.ErrNotFound
		}
		st.subs[sub.ID] = *sub
		return nil
	})
}

// Count returns the number of stored subscriptions.
func (r *SubscriptionRepo) Count() int {
	n := 0
	_ = r.s.read(nil, func(st *state) error {
		n = len(st.subs)
		return nil
	})
	return n
}

// -----------------------------
// Users
// -----------------------------

type UserRepo struct{ s *Store }

func (r *UserRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.User, error) {
	var out *model.User
	err := r.s.read(tx, func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = &u
		return nil
	})
	return out, err
}
