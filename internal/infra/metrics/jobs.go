package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		reconcilerRunsTotal,
		reconcilerItemsTotal,
		alertsSentTotal,
		eventsPublishedTotal,
	)
}

var (
	reconcilerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconciler_runs_total",
			Help: "Reconciler ticks by result.",
		},
		[]string{"result"}, // 'ok', 'error', 'skipped'
	)

	reconcilerItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconciler_items_total",
			Help: "Open transactions handled by the reconciler, by outcome.",
		},
		[]string{"outcome"}, // 'settled', 'expired', 'open', 'error'
	)

	alertsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_sent_total",
			Help: "Operator alerts by delivery status.",
		},
		[]string{"status"}, // 'sent', 'error'
	)

	eventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Domain events by type and delivery status.",
		},
		[]string{"type", "status"},
	)
)

func IncReconcilerRun(result string) {
	reconcilerRunsTotal.WithLabelValues(orUnknown(result)).Inc()
}

func IncReconcilerItem(outcome string) {
	reconcilerItemsTotal.WithLabelValues(orUnknown(outcome)).Inc()
}

func IncAlert(status string) {
	alertsSentTotal.WithLabelValues(orUnknown(status)).Inc()
}

func IncEventPublished(eventType, status string) {
	eventsPublishedTotal.WithLabelValues(orUnknown(eventType), orUnknown(status)).Inc()
}
