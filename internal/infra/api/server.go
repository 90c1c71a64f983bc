package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"subscription-payments/internal/config"
	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/infra/logging"
	"subscription-payments/internal/infra/metrics"
	"subscription-payments/internal/usecase"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Server is the HTTP surface of the payment engine.
type Server struct {
	payUC    usecase.PaymentUseCase
	registry *usecase.StrategyRegistry
	limiter  Limiter
	secrets  usecase.SecretSource
	checks   map[string]HealthCheck
	cfg      config.HTTPConfig
	log      *zerolog.Logger
}

func NewServer(payUC usecase.PaymentUseCase, registry *usecase.StrategyRegistry, limiter Limiter, secrets usecase.SecretSource, cfg config.HTTPConfig, logger *zerolog.Logger) *Server {
	if limiter == nil {
		limiter = NewLocalLimiter(cfg.WebhookRPS, cfg.WebhookBurst)
	}
	return &Server{
		payUC:    payUC,
		registry: registry,
		limiter:  limiter,
		secrets:  secrets,
		checks:   map[string]HealthCheck{},
		cfg:      cfg,
		log:      logger,
	}
}

func (s *Server) AddHealthCheck(name string, fn HealthCheck) {
	s.checks[name] = fn
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Timeout(s.cfg.RequestTimeout), BodyLimit(s.cfg.MaxBodyBytes))

		r.Post("/payments/sessions", s.handleCreateSession)
		r.Post("/payments/verify", s.handleVerify)
		r.Get("/payments/{id}", s.handleGetTransaction)
		r.Get("/users/{userID}/payments", s.handleUserHistory)
		r.With(WebhookRateLimit(s.limiter, s.cfg.TrustProxyHeaders, s.log)).Post("/webhooks/{provider}", s.handleWebhook)
	})
	return r
}

// NewHTTPServer wraps the handler with the configured address.
func (s *Server) NewHTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}
	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	WriteJSON(w, status, map[string]interface{}{"status": overall, "checks": results})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		ValidationError(w, err)
		return
	}

	sreq, err := sessionRequestFrom(req)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	t, err := s.payUC.CreatePaymentSession(r.Context(), sreq)
	metrics.IncPaymentSession(string(sreq.Provider), err == nil)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteData(w, http.StatusCreated, toTransaction(t))
}

func sessionRequestFrom(req CreateSessionRequest) (usecase.SessionRequest, error) {
	provider, err := model.ParseProvider(req.Provider)
	if err != nil {
		return usecase.SessionRequest{}, err
	}
	product, err := model.ParseProductType(req.ProductType)
	if err != nil {
		return usecase.SessionRequest{}, err
	}
	currency, err := model.ParseCurrency(req.Currency)
	if err != nil {
		return usecase.SessionRequest{}, err
	}
	cycle, err := model.ParseBillingCycle(req.BillingCycle)
	if err != nil {
		return usecase.SessionRequest{}, err
	}
	return usecase.SessionRequest{
		UserID:       req.UserID,
		Provider:     provider,
		ProductType:  product,
		Currency:     currency,
		BillingCycle: cycle,
		SuccessURL:   req.SuccessURL,
		CancelURL:    req.CancelURL,
	}, nil
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		ValidationError(w, err)
		return
	}

	vreq := usecase.VerificationRequest{
		ProviderReference: req.ProviderReference,
		Signature:         req.Signature,
	}
	if req.Provider != "" {
		p, err := model.ParseProvider(req.Provider)
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
		vreq.Provider = p
	}
	if req.WebhookPayload != "" {
		vreq.WebhookPayload = []byte(req.WebhookPayload)
	}
	s.verify(w, r, vreq)
}

// handleWebhook accepts a provider delivery. The reference comes from the
// "reference" query parameter when present, otherwise from the payload itself;
// a payload is only parsed once its signature checks out.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider, err := model.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	strategy, err := s.registry.Resolve(provider)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		ValidationError(w, err)
		return
	}
	if len(body) == 0 {
		s.writeErr(w, r, fmt.Errorf("%w: empty webhook body", domain.ErrMalformedPayload))
		return
	}

	sig := r.Header.Get(strategy.SignatureHeader())
	ref := strings.TrimSpace(r.URL.Query().Get("reference"))
	if ref == "" {
		if sig == "" || !strategy.VerifySignature(body, sig, s.secrets.WebhookSecret(provider)) {
			log := logging.With(r.Context(), s.log)
			log.Warn().Str("provider", string(provider)).Msg("unsigned webhook rejected before parsing")
			s.writeErr(w, r, fmt.Errorf("%w: %s", domain.ErrInvalidSignature, provider))
			return
		}
		info, err := strategy.ParseWebhookPayload(body)
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
		ref = info.ProviderReference
	}

	s.verify(w, r.WithContext(logging.WithProvider(r.Context(), string(provider))), usecase.VerificationRequest{
		ProviderReference: ref,
		Provider:          provider,
		Signature:         sig,
		WebhookPayload:    body,
	})
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request, req usecase.VerificationRequest) {
	start := time.Now()
	out, err := s.payUC.VerifyPayment(r.Context(), req)
	if err != nil {
		metrics.ObserveVerify(string(req.Provider), false, string(domain.KindOf(err)), time.Since(start))
		s.writeErr(w, r, err)
		return
	}
	metrics.ObserveVerify(string(req.Provider), true, "", time.Since(start))
	WriteData(w, http.StatusOK, out)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid transaction id")
		return
	}
	t, err := s.payUC.GetTransactionByID(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteData(w, http.StatusOK, toTransaction(t))
}

func (s *Server) handleUserHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid user id")
		return
	}
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid page")
			return
		}
	}

	hp, err := s.payUC.GetUserHistory(r.Context(), userID, page)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	items := make([]Transaction, 0, len(hp.Items))
	for _, t := range hp.Items {
		items = append(items, toTransaction(t))
	}
	WritePaginated(w, items, &Pagination{
		Page:     hp.Page,
		PageSize: hp.PageSize,
		Total:    hp.Total,
		HasMore:  hp.Page*hp.PageSize < hp.Total,
	})
}

// writeErr maps an engine error to a status and a machine-readable code.
// Server-side failures never echo internal detail.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		WriteError(w, http.StatusGatewayTimeout, "TIMEOUT", "request timed out")
		return
	}
	kind := domain.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log := logging.With(r.Context(), s.log)
		log.Error().Err(err).Str("kind", string(kind)).Msg("request failed")
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	WriteError(w, status, strings.ToUpper(string(kind)), msg)
}
