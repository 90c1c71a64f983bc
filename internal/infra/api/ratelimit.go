package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/infra/logging"
	"subscription-payments/internal/infra/metrics"
	"subscription-payments/internal/infra/redis"
)

// Limiter decides whether one more request under key may pass.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter is a per-key token bucket held in process memory.
type LocalLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	rps     rate.Limit
	burst   int
	idle    time.Duration
}

func NewLocalLimiter(rps float64, burst int) *LocalLimiter {
	return &LocalLimiter{
		clients: make(map[string]*clientLimiter),
		rps:     rate.Limit(rps),
		burst:   burst,
		idle:    15 * time.Minute,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = time.Now()
	lim := c.limiter
	l.mu.Unlock()
	return lim.Allow(), nil
}

// Sweep drops buckets idle longer than the idle window until ctx ends.
func (l *LocalLimiter) Sweep(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.mu.Lock()
			for k, c := range l.clients {
				if time.Since(c.lastSeen) > l.idle {
					delete(l.clients, k)
				}
			}
			l.mu.Unlock()
		}
	}
}

// clientIP returns the peer address, or the forwarded client address when
// trustProxy is set.
func clientIP(r *http.Request, trustProxy bool) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !trustProxy {
		return host
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}
	return host
}

// WebhookRateLimit throttles webhook deliveries per provider and source address.
// A limiter error lets the request through.
func WebhookRateLimit(l Limiter, trustProxy bool, logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provider := model.Provider(chi.URLParam(r, "provider"))
			ok, err := l.Allow(r.Context(), redis.WebhookKey(provider, clientIP(r, trustProxy)))
			if err != nil {
				log := logging.With(r.Context(), logger)
				log.Warn().Err(err).Msg("rate limiter unavailable")
				ok = true
			}
			if !ok {
				metrics.IncRateLimited("webhook")
				WriteError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
