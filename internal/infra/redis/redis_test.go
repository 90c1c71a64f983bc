//go:build !integration

package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"subscription-payments/internal/domain"
)

type mockClient struct {
	RedisClient

	SetNXFunc            func(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	CompareAndDeleteFunc func(ctx context.Context, key, value string) (bool, error)
	IncrFunc             func(ctx context.Context, key string) (int64, error)
	ExpireFunc           func(ctx context.Context, key string, ttl time.Duration) error
}

func (m *mockClient) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return m.SetNXFunc(ctx, key, value, ttl)
}
func (m *mockClient) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	return m.CompareAndDeleteFunc(ctx, key, value)
}
func (m *mockClient) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrFunc(ctx, key)
}
func (m *mockClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return m.ExpireFunc(ctx, key, ttl)
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("should acquire a free lease and release it with the same token", func(t *testing.T) {
		// --- Arrange ---
		held := map[string]string{}
		cli := &mockClient{
			SetNXFunc: func(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
				if _, ok := held[key]; ok {
					return false, nil
				}
				held[key] = value.(string)
				return true, nil
			},
			CompareAndDeleteFunc: func(ctx context.Context, key, value string) (bool, error) {
				if held[key] != value {
					return false, nil
				}
				delete(held, key)
				return true, nil
			},
		}
		l := NewLocker(cli)

		// --- Act ---
		token, err := l.TryLock(ctx, "reconciler", time.Minute)
		_, errHeld := l.TryLock(ctx, "reconciler", time.Minute)

		// --- Assert ---
		if err != nil || token == "" {
			t.Fatalf("expected a token, got %q, %v", token, err)
		}
		if !errors.Is(errHeld, domain.ErrLockHeld) {
			t.Errorf("expected ErrLockHeld for a second holder, got %v", errHeld)
		}
		if err := l.Unlock(ctx, "reconciler", "someone-else"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := held["lock:reconciler"]; !ok {
			t.Error("a foreign token must not release the lease")
		}
		if err := l.Unlock(ctx, "reconciler", token); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(held) != 0 {
			t.Error("expected the lease to be released")
		}
	})

	t.Run("should wrap redis failures", func(t *testing.T) {
		cli := &mockClient{
			SetNXFunc: func(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
				return false, errors.New("connection refused")
			},
		}
		_, err := NewLocker(cli).TryLock(ctx, "k", time.Second)
		if !errors.Is(err, domain.ErrOperationFailed) {
			t.Errorf("expected ErrOperationFailed, got %v", err)
		}
	})
}

func TestRateLimiter_Allow(t *testing.T) {
	// --- Arrange ---
	ctx := context.Background()
	counts := map[string]int64{}
	expired := 0
	cli := &mockClient{
		IncrFunc: func(ctx context.Context, key string) (int64, error) {
			counts[key]++
			return counts[key], nil
		},
		ExpireFunc: func(ctx context.Context, key string, ttl time.Duration) error {
			expired++
			return nil
		},
	}
	rl := NewRateLimiter(cli, 2, time.Second)
	key := WebhookKey("cardpay", "10.0.0.1")

	// --- Act ---
	var allowed []bool
	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		allowed = append(allowed, ok)
	}

	// --- Assert ---
	if !allowed[0] || !allowed[1] || allowed[2] {
		t.Errorf("expected two requests through then a block, got %v", allowed)
	}
	if expired != 1 {
		t.Errorf("expected the window to be set once, got %d", expired)
	}
	if key != "rate_limit:webhook:cardpay:10.0.0.1" {
		t.Errorf("unexpected key %q", key)
	}
}
