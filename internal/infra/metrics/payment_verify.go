package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		PaymentVerifyRequests,
		PaymentVerifyDuration,
		paymentSessionsTotal,
		httpRateLimitedTotal,
	)
}

var (
	// Count of verification calls grouped by provider, result and bounded reason.
	// result: ok|fail
	// reason (fail only): an error kind such as invalid_signature or amount_mismatch
	PaymentVerifyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_verify_requests_total",
			Help: "Count of payment verification calls by provider, result and reason.",
		},
		[]string{"provider", "result", "reason"},
	)

	// Latency of verification grouped by result.
	PaymentVerifyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_verify_duration_seconds",
			Help:    "Duration of payment verification in seconds.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"result"},
	)

	paymentSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_sessions_total",
			Help: "Checkout sessions created by provider and result.",
		},
		[]string{"provider", "result"},
	)

	httpRateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the rate limiter, by route.",
		},
		[]string{"route"},
	)
)

// ObserveVerify records one verification. reason is ignored on success.
func ObserveVerify(provider string, ok bool, reason string, elapsed time.Duration) {
	result := "ok"
	if !ok {
		result = "fail"
	} else {
		reason = ""
	}
	PaymentVerifyRequests.WithLabelValues(orUnknown(provider), result, norm(reason)).Inc()
	PaymentVerifyDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

func IncPaymentSession(provider string, ok bool) {
	result := "ok"
	if !ok {
		result = "fail"
	}
	paymentSessionsTotal.WithLabelValues(orUnknown(provider), result).Inc()
}

func IncRateLimited(route string) {
	httpRateLimitedTotal.WithLabelValues(orUnknown(route)).Inc()
}
