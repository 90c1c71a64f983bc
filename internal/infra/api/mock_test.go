//go:build !integration

package api_test

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

type MockPaymentUseCase struct {
	CreatePaymentSessionFunc func(ctx context.Context, req usecase.SessionRequest) (*model.PaymentTransaction, error)
	VerifyPaymentFunc        func(ctx context.Context, req usecase.VerificationRequest) (*usecase.VerificationOutcome, error)
	GetTransactionByIDFunc   func(ctx context.Context, id int64) (*model.PaymentTransaction, error)
	GetUserHistoryFunc       func(ctx context.Context, userID int64, page int) (*usecase.HistoryPage, error)
	ExpireTransactionFunc    func(ctx context.Context, provider model.Provider, ref string) (*usecase.VerificationOutcome, error)
	ListStaleFunc            func(ctx context.Context, olderThan time.Time, limit int) ([]*model.PaymentTransaction, error)
}

var _ usecase.PaymentUseCase = (*MockPaymentUseCase)(nil)

func (m *MockPaymentUseCase) CreatePaymentSession(ctx context.Context, req usecase.SessionRequest) (*model.PaymentTransaction, error) {
	return m.CreatePaymentSessionFunc(ctx, req)
}
func (m *MockPaymentUseCase) VerifyPayment(ctx context.Context, req usecase.VerificationRequest) (*usecase.VerificationOutcome, error) {
	return m.VerifyPaymentFunc(ctx, req)
}
func (m *MockPaymentUseCase) GetTransactionByID(ctx context.Context, id int64) (*model.PaymentTransaction, error) {
	return m.GetTransactionByIDFunc(ctx, id)
}
func (m *MockPaymentUseCase) GetUserHistory(ctx context.Context, userID int64, page int) (*usecase.HistoryPage, error) {
	return m.GetUserHistoryFunc(ctx, userID, page)
}
func (m *MockPaymentUseCase) ExpireTransaction(ctx context.Context, provider model.Provider, ref string) (*usecase.VerificationOutcome, error) {
	return m.ExpireTransactionFunc(ctx, provider, ref)
}
func (m *MockPaymentUseCase) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*model.PaymentTransaction, error) {
	return m.ListStaleFunc(ctx, olderThan, limit)
}

// denyAll is a Limiter that rejects everything.
type denyAll struct{}

func (denyAll) Allow(ctx context.Context, key string) (bool, error) { return false, nil }

// recordingLimiter allows everything and remembers the keys it was asked about.
type recordingLimiter struct {
	mu   sync.Mutex
	keys []string
}

func (l *recordingLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return true, nil
}

func (l *recordingLimiter) last() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.keys) == 0 {
		return ""
	}
	return l.keys[len(l.keys)-1]
}
