package params

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	databaseFirstWait  = 50 * time.Millisecond
	databaseWaitGrowth = 1.2
	databaseMaxWait    = 3 * time.Second
	databaseMaxElapsed = 2 * time.Minute
)

type Database struct {
	ConnectionString      string
	MaxOpenConnections    int32
	MaxIdleConnections    int32
	ConnectionMaxLifetime time.Duration
}

// DatabaseRetryStrategy returns the backoff used while waiting for the database to accept
// connections.
func DatabaseRetryStrategy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = databaseFirstWait
	b.Multiplier = databaseWaitGrowth
	b.MaxInterval = databaseMaxWait
	b.MaxElapsedTime = databaseMaxElapsed
	return b
}
