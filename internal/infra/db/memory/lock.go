package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/ports/repository"
)

var _ repository.Locker = (*Locker)(nil)

// Locker is the single-process stand-in for the Redis lease.
type Locker struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

type lease struct {
	token   string
	expires time.Time
}

func NewLocker() *Locker {
	return &Locker{leases: map[string]lease{}, now: time.Now}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.leases[key]; ok && l.now().Before(cur.expires) {
		return "", domain.ErrLockHeld
	}
	token := uuid.NewString()
	l.leases[key] = lease{token: token, expires: l.now().Add(ttl)}
	return token, nil
}

func (l *Locker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.leases[key]; ok && cur.token == token {
		delete(l.leases, key)
	}
	return nil
}
