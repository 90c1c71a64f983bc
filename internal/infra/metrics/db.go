package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(dbPoolConns, dbPoolAcquireWait) }

var (
	dbPoolConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "payments_db_pool_connections",
			Help: "Postgres pool connections by state.",
		},
		[]string{"state"}, // 'total', 'idle', 'in_use', 'max'
	)

	dbPoolAcquireWait = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "payments_db_pool_acquire_wait_seconds",
		Help: "Cumulative time spent waiting for a pooled connection.",
	})
)

// PoolStat is the subset of pgxpool.Stat the reporter reads.
type PoolStat struct {
	Total, Idle, InUse, Max int32
	AcquireWaitSeconds      float64
}

func SetDBPoolStats(s PoolStat) {
	dbPoolConns.WithLabelValues("total").Set(float64(s.Total))
	dbPoolConns.WithLabelValues("idle").Set(float64(s.Idle))
	dbPoolConns.WithLabelValues("in_use").Set(float64(s.InUse))
	dbPoolConns.WithLabelValues("max").Set(float64(s.Max))
	dbPoolAcquireWait.Set(s.AcquireWaitSeconds)
}
