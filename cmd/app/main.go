package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"subscription-payments/internal/config"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/adapter"
	"subscription-payments/internal/domain/ports/repository"
	"subscription-payments/internal/infra/adapters/events"
	payAdapters "subscription-payments/internal/infra/adapters/payment"
	tele "subscription-payments/internal/infra/adapters/telegram"
	"subscription-payments/internal/infra/api"
	"subscription-payments/internal/infra/catalog"
	"subscription-payments/internal/infra/db/memory"
	pg "subscription-payments/internal/infra/db/postgres"
	"subscription-payments/internal/infra/logging"
	"subscription-payments/internal/infra/metrics"
	red "subscription-payments/internal/infra/redis"
	"subscription-payments/internal/infra/sched"
	"subscription-payments/internal/usecase"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

const devWebhookSecret = "dev-webhook-secret"

type repos struct {
	payments repository.PaymentTransactionRepository
	subs     repository.SubscriptionRepository
	users    repository.UserRepository
	tm       repository.TransactionManager
}

// secrets falls back to a fixed secret for providers served by noop strategies in dev mode.
type secrets struct {
	cfg config.PaymentConfig
	dev bool
}

func (s secrets) WebhookSecret(p model.Provider) string {
	if v := s.cfg.WebhookSecret(p); v != "" || !s.dev {
		return v
	}
	return devWebhookSecret
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("payments service stopped")
	}
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	var wg sync.WaitGroup
	defer func() {
		stop()
		wg.Wait()
	}()
	goBg := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	// ---- Redis ----
	var redisClient red.RedisClient
	if cfg.Redis.URL != "" {
		c, err := red.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer c.Close()
		redisClient = c
	}

	// ---- Storage ----
	var r repos
	var checks = map[string]api.HealthCheck{}
	switch cfg.Database.Driver {
	case "memory":
		store := memory.NewStore()
		store.PutUser(model.User{ID: 1, Email: "dev@example.com", Name: "Dev User", CreatedAt: time.Now().UTC()})
		r = repos{payments: store.Payments(), subs: store.Subscriptions(), users: store.Users(), tm: store.TxManager()}
		logger.Warn().Msg("using in-memory store; data is lost on exit")
	default:
		pool, err := pg.Connect(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()
		goBg(func() { pg.ReportPoolStats(ctx, pool, 15*time.Second, logger) })

		var users repository.UserRepository = pg.NewPostgresUserRepo(pool)
		if redisClient != nil {
			users = pg.NewUserRepoCacheDecorator(users, redisClient, logger)
		}
		r = repos{payments: pg.NewPaymentRepo(pool), subs: pg.NewSubscriptionRepo(pool), users: users, tm: pg.NewTxManager(pool)}
		checks["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
	}

	// ---- Locking and rate limiting ----
	var locker repository.Locker
	var limiter api.Limiter
	if redisClient != nil {
		locker = red.NewLocker(redisClient)
		limiter = red.NewRateLimiter(redisClient, cfg.HTTP.WebhookBurst, time.Second)
		checks["redis"] = redisClient.Ping
	} else {
		locker = memory.NewLocker()
		local := api.NewLocalLimiter(cfg.HTTP.WebhookRPS, cfg.HTTP.WebhookBurst)
		goBg(func() { local.Sweep(ctx, 10*time.Minute) })
		limiter = local
	}

	// ---- Events ----
	var publisher adapter.EventPublisher = events.NewNoopPublisher(logger)
	if cfg.NATS.URL != "" {
		nc, err := events.Connect(cfg.NATS, logger)
		if err != nil {
			return err
		}
		defer nc.Close()
		if err := nc.EnsureStream(ctx, cfg.NATS.Stream); err != nil {
			return err
		}
		publisher = events.NewNATSPublisher(nc.JetStream(), logger)
		checks["nats"] = func(context.Context) error { return nc.HealthCheck() }
	}
	publisher = events.NewInstrumentedPublisher(publisher)

	// ---- Alerts ----
	var alerter adapter.Alerter = tele.NewNoopAlerter(logger)
	if cfg.Telegram.Token != "" {
		a, err := tele.NewAlerter(cfg.Telegram, logger)
		if err != nil {
			return err
		}
		alerter = a
	}

	// ---- Payment strategies ----
	strategies, err := buildStrategies(cfg, logger)
	if err != nil {
		return err
	}
	registry, err := usecase.NewStrategyRegistry(strategies...)
	if err != nil {
		return err
	}

	// ---- Use cases ----
	cat, err := catalog.New(cfg.Catalog)
	if err != nil {
		return err
	}
	activator := usecase.NewSubscriptionActivator(r.subs, cat, logger)
	whSecrets := secrets{cfg: cfg.Payment, dev: cfg.Runtime.Dev}
	payUC := usecase.NewPaymentUseCase(usecase.PaymentDeps{
		Payments:  r.payments,
		Users:     r.users,
		Catalog:   cat,
		TM:        r.tm,
		Registry:  registry,
		Activator: activator,
		Secrets:   whSecrets,
		Publisher: publisher,
		Alerter:   alerter,
		Defaults: usecase.SessionDefaults{
			SuccessURL: cfg.Payment.SuccessURL,
			CancelURL:  cfg.Payment.CancelURL,
			TTL:        cfg.Payment.SessionTTL,
		},
		DevMode: cfg.Runtime.Dev,
	}, logger)

	// ---- Reconciler ----
	if cfg.Reconciler.Enabled {
		rec := sched.NewPaymentReconciler(payUC, locker, cfg.Reconciler, logger)
		goBg(func() { _ = rec.Run(ctx) })
	}

	// ---- HTTP ----
	srv := api.NewServer(payUC, registry, limiter, whSecrets, cfg.HTTP, logger)
	for name, check := range checks {
		srv.AddHealthCheck(name, check)
	}
	httpServer := srv.NewHTTPServer()
	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Interface("providers", registry.Providers()).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	// ---- Graceful shutdown ----
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case err := <-errc:
		stop()
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// buildStrategies returns one strategy per enabled provider. In dev mode, or with
// the in-memory store, disabled providers are served by noop strategies.
func buildStrategies(cfg *config.Config, logger *zerolog.Logger) ([]adapter.ProviderStrategy, error) {
	stub := cfg.Runtime.Dev || cfg.Database.Driver == "memory"
	var out []adapter.ProviderStrategy

	if cfg.Payment.CardPay.Enabled {
		s, err := payAdapters.NewCardPayStrategy(cfg.Payment.CardPay, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	} else if stub {
		out = append(out, payAdapters.NewNoopStrategy(model.ProviderCardPay))
	}

	if cfg.Payment.ZarinPal.Enabled {
		s, err := payAdapters.NewZarinPalGateway(cfg.Payment.ZarinPal, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	} else if stub {
		out = append(out, payAdapters.NewNoopStrategy(model.ProviderZarinPal))
	}

	if cfg.Payment.Wallet.Enabled {
		s, err := payAdapters.NewWalletStrategy(cfg.Payment.Wallet, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	} else if stub {
		out = append(out, payAdapters.NewNoopStrategy(model.ProviderWallet))
	}
	return out, nil
}
