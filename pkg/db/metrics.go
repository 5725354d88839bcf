package db

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var dbErrorsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "termstore_db_errors_total",
		Help: "Number of failed database operations by operation type",
	},
	[]string{"type"})

var dbRetriesCount = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "termstore_db_tx_retries_total",
		Help: "Number of transactions retried after a serialization failure",
	})
