package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(subscriptionActivationsTotal)
}

var subscriptionActivationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "subscription_activations_total",
		Help: "Subscription activations after completed payments, by result.",
	},
	[]string{"result"}, // 'ok', 'failed'
)

func IncActivation(ok bool) {
	if ok {
		subscriptionActivationsTotal.WithLabelValues("ok").Inc()
		return
	}
	subscriptionActivationsTotal.WithLabelValues("failed").Inc()
}
