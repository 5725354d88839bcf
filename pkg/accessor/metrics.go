package accessor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var acquireHistograms = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "termstore_accessor_acquire_duration_seconds",
		Help:    "Time to acquire a store accessor from its pool",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5},
	},
	[]string{"pool"})

var keepAliveFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "termstore_accessor_keep_alive_failures_total",
		Help: "Keep-alive pings that failed, by pool",
	},
	[]string{"pool"})

var passivateFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "termstore_accessor_passivate_failures_total",
		Help: "Accessors destroyed because their transaction could not be rolled back on release",
	},
	[]string{"pool"})
