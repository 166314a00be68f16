package storage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	opsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcache_storage_ops_total",
			Help: "Total number of storage driver operations.",
		},
		[]string{"driver", "op"},
	)
	opErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcache_storage_op_errors_total",
			Help: "Total number of failed storage driver operations.",
		},
		[]string{"driver", "op"},
	)
	opDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatcache_storage_op_duration_seconds",
			Help:    "Storage driver operation latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"driver", "op"},
	)
)

func init() {
	prometheus.MustRegister(opsTotal, opErrorsTotal, opDuration)
}

// observe records one driver operation. Drivers call it on every
// capability method so the three backends stay comparable.
func observe(driver, op string, start time.Time, err error) {
	opsTotal.WithLabelValues(driver, op).Inc()
	opDuration.WithLabelValues(driver, op).Observe(time.Since(start).Seconds())
	if err != nil {
		opErrorsTotal.WithLabelValues(driver, op).Inc()
	}
}
