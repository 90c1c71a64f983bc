package repository

import (
	"context"
	"time"
)

// Locker is a best-effort mutual exclusion primitive shared between replicas.
type Locker interface {
	// TryLock returns domain.ErrLockHeld when another holder owns key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
