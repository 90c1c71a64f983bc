package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(cacheRequestsTotal) }

var cacheRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "payments_cache_requests_total",
		Help: "Read-through cache lookups by cache and result.",
	},
	[]string{"cache", "result"}, // result: 'hit', 'miss', 'bypass'
)

func IncCacheRequest(cache, result string) {
	cacheRequestsTotal.WithLabelValues(orUnknown(cache), orUnknown(result)).Inc()
}
