package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/ports/repository"
)

var _ repository.Locker = (*RedisLocker)(nil)

// RedisLocker is a single-instance SET NX lease. Unlock only releases a lease the
// caller still owns.
type RedisLocker struct {
	cli    RedisClient
	prefix string
}

func NewLocker(c RedisClient) *RedisLocker {
	return &RedisLocker{cli: c, prefix: "lock:"}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := l.cli.SetNX(ctx, l.prefix+key, token, ttl)
	if err != nil {
		return "", fmt.Errorf("%w: acquire lock %s: %w", domain.ErrOperationFailed, key, err)
	}
	if !ok {
		return "", domain.ErrLockHeld
	}
	return token, nil
}

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	if token == "" {
		return domain.ErrInvalidArgument
	}
	if _, err := l.cli.CompareAndDelete(ctx, l.prefix+key, token); err != nil {
		return fmt.Errorf("%w: release lock %s: %w", domain.ErrOperationFailed, key, err)
	}
	return nil
}
