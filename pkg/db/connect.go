package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/treeverse/termstore/pkg/db/params"
	"github.com/treeverse/termstore/pkg/logging"
)

const (
	DefaultMaxOpenConnections    = 25
	DefaultMaxIdleConnections    = 25
	DefaultConnectionMaxLifetime = 5 * time.Minute
)

// Ping checks that a connection can be acquired from pool and answers.
func Ping(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire to ping: %w", err)
	}
	defer conn.Release()
	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// poolConfig parses the connection string of p and applies its pool limits,
// filling unset limits with defaults. Idle connections never exceed open ones.
func poolConfig(p params.Database) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(p.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	cfg.MaxConns = valueOr(p.MaxOpenConnections, DefaultMaxOpenConnections)
	cfg.MinConns = min(valueOr(p.MaxIdleConnections, DefaultMaxIdleConnections), cfg.MaxConns)
	cfg.MaxConnLifetime = valueOr(p.ConnectionMaxLifetime, DefaultConnectionMaxLifetime)
	return cfg, nil
}

func valueOr[T comparable](v, fallback T) T {
	var zero T
	if v == zero {
		return fallback
	}
	return v
}

// ConnectDBPool waits for the database described by p to accept connections
// and returns a pool whose stats are exported to prometheus.
func ConnectDBPool(ctx context.Context, p params.Database) (*pgxpool.Pool, error) {
	cfg, err := poolConfig(p)
	if err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx).WithFields(logging.Fields{
		"db":                cfg.ConnConfig.Database,
		"host":              cfg.ConnConfig.Host,
		"port":              cfg.ConnConfig.Port,
		"user":              cfg.ConnConfig.User,
		"max_open_conns":    cfg.MaxConns,
		"max_idle_conns":    cfg.MinConns,
		"conn_max_lifetime": cfg.MaxConnLifetime,
	})
	log.Info("Connecting to the DB")

	var pool *pgxpool.Pool
	connect := func() error {
		pool, err = openPool(ctx, cfg)
		if err != nil && !isDialError(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	retry := backoff.WithContext(params.DatabaseRetryStrategy(), ctx)
	err = backoff.RetryNotify(connect, retry, func(err error, next time.Duration) {
		log.WithError(err).WithField("next", next).Info("DB not reachable, retrying")
	})
	if err != nil {
		return nil, fmt.Errorf("connect to DB: %w", err)
	}

	collector := pgxpoolprometheus.NewCollector(pool, map[string]string{"db_name": cfg.ConnConfig.Database})
	var registered prometheus.AlreadyRegisteredError
	if err := prometheus.Register(collector); err != nil && !errors.As(err, &registered) {
		log.WithError(err).Warn("Failed to register pool metrics")
	}
	log.Info("DB connection established")
	return pool, nil
}

func openPool(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := Ping(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// ConnectDB connects with ConnectDBPool and wraps the pool as a Database.
func ConnectDB(ctx context.Context, p params.Database) (*PgxDatabase, error) {
	pool, err := ConnectDBPool(ctx, p)
	if err != nil {
		return nil, err
	}
	return NewPgxDatabase(pool), nil
}
