package commit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var commitDurations = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "termstore_commit_duration_seconds",
		Help:    "Commit durations by outcome",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	},
	[]string{"outcome"})

var changeSetSize = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "termstore_commit_change_set_size",
		Help:    "Index mutations per processed commit",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8), //nolint:mnd
	})
