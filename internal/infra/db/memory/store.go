// Package memory is an in-process implementation of the repository ports. Units of
// work are serialized, which gives the same at-most-once guarantees as row locks.
package memory

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v4"

	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/repository"
)

var _ repository.TransactionManager = (*TxManager)(nil)

type state struct {
	seqPayment int64
	seqSub     int64
	payments   map[int64]model.PaymentTransaction
	subs       map[int64]model.UserSubscription
	users      map[int64]model.User
}

func newState() *state {
	return &state{
		payments: map[int64]model.PaymentTransaction{},
		subs:     map[int64]model.UserSubscription{},
		users:    map[int64]model.User{},
	}
}

func (s *state) clone() *state {
	c := &state{
		seqPayment: s.seqPayment,
		seqSub:     s.seqSub,
		payments:   make(map[int64]model.PaymentTransaction, len(s.payments)),
		subs:       make(map[int64]model.UserSubscription, len(s.subs)),
		users:      make(map[int64]model.User, len(s.users)),
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.subs {
		c.subs[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	return c
}

// unit is the tx handle repositories receive. It owns a private working copy.
type unit struct {
	st *state
}

// Store holds committed state. Reads outside a unit of work see committed data only.
type Store struct {
	work sync.Mutex // held for the whole of a unit of work or an autocommit write
	mu   sync.Mutex // guards st
	st   *state
}

func NewStore() *Store {
	return &Store{st: newState()}
}

// PutUser seeds a user record.
func (s *Store) PutUser(u model.User) {
	s.work.Lock()
	defer s.work.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.users[u.ID] = u
}

func (s *Store) Payments() *PaymentRepo           { return &PaymentRepo{s: s} }
func (s *Store) Subscriptions() *SubscriptionRepo { return &SubscriptionRepo{s: s} }
func (s *Store) Users() *UserRepo                 { return &UserRepo{s: s} }
func (s *Store) TxManager() *TxManager            { return &TxManager{s: s} }

// read runs fn against the tx's working copy, or against committed state when tx is nil.
func (s *Store) read(tx repository.Tx, fn func(st *state) error) error {
	switch v := tx.(type) {
	case *unit:
		return fn(v.st)
	case nil:
		s.mu.Lock()
		defer s.mu.Unlock()
		return fn(s.st)
	default:
		return domain.ErrInvalidExecContext
	}
}

// write is read plus autocommit serialization for the nil tx.
func (s *Store) write(tx repository.Tx, fn func(st *state) error) error {
	if tx == nil {
		s.work.Lock()
		defer s.work.Unlock()
	}
	return s.read(tx, fn)
}

type TxManager struct{ s *Store }

// WithTx ignores isolation options; units of work never interleave.
func (m *TxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.s.work.Lock()
	defer m.s.work.Unlock()

	m.s.mu.Lock()
	u := &unit{st: m.s.st.clone()}
	m.s.mu.Unlock()

	if err := fn(ctx, u); err != nil {
		return err
	}

	m.s.mu.Lock()
	m.s.st = u.st
	m.s.mu.Unlock()
	return nil
}

func (m *TxManager) WithSavepoint(ctx context.Context, tx repository.Tx, fn func(ctx context.Context, tx repository.Tx) error) error {
	parent, ok := tx.(*unit)
	if !ok {
		return domain.ErrInvalidExecContext
	}
	child := &unit{st: parent.st.clone()}
	if err := fn(ctx, child); err != nil {
		return err
	}
	parent.st = child.st
	return nil
}
