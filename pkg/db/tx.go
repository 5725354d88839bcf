package db

import (
	"context"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/treeverse/termstore/pkg/logging"
)

const (
	SerializationRetryMaxAttempts   = 10
	SerializationRetryStartInterval = 2 * time.Millisecond
)

// Tx is a running transaction. Failures are translated to ErrNotFound when a
// queried row is missing, ErrAlreadyExists on unique violations and
// ErrSerialization once serialization retries are exhausted.
type Tx interface {
	Query(ctx context.Context, query string, args ...interface{}) (pgx.Rows, error)
	Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	GetPrimitive(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	Exec(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error)
}

type dbTx struct {
	tx     pgx.Tx
	logger logging.Logger
}

// queryToString collapses whitespace so multi-line statements log on one line.
func queryToString(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

func (d *dbTx) queryLogger(ctx context.Context, kind, query string, args []interface{}) logging.Logger {
	return d.logger.WithContext(ctx).WithFields(logging.Fields{
		"type":  kind,
		"query": queryToString(query),
		"args":  args,
	})
}

// done traces a finished statement or translates its error.
func (d *dbTx) done(ctx context.Context, kind, query string, args []interface{}, start time.Time, err error) error {
	if err != nil {
		return d.handleSQLError(err, kind, query)
	}
	if d.logger.IsTracing() {
		d.queryLogger(ctx, kind, query, args).WithField("took", time.Since(start)).Trace("SQL statement done")
	}
	return nil
}

func (d *dbTx) Query(ctx context.Context, query string, args ...interface{}) (pgx.Rows, error) {
	start := time.Now()
	rows, err := d.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, d.handleSQLError(err, "query", query)
	}
	return Logged(rows, start, d.queryLogger(ctx, "query", query, args)), nil
}

func (d *dbTx) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	rows, err := d.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	if err := pgxscan.ScanAll(dest, rows); err != nil {
		return d.handleSQLError(err, "select", query)
	}
	return nil
}

func (d *dbTx) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	start := time.Now()
	err := pgxscan.Get(ctx, d.tx, dest, query, args...)
	return d.done(ctx, "get", query, args, start, err)
}

// GetPrimitive scans a single column of a single row into dest.
func (d *dbTx) GetPrimitive(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	start := time.Now()
	err := d.tx.QueryRow(ctx, query, args...).Scan(dest)
	return d.done(ctx, "get", query, args, start, err)
}

func (d *dbTx) Exec(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error) {
	start := time.Now()
	tag, err := d.tx.Exec(ctx, query, args...)
	return tag, d.done(ctx, "exec", query, args, start, err)
}

type TxOpt func(*TxOptions)

// TxOptions control how Transact and Conn.Begin open a transaction.
// Transactions are serializable and read-write unless changed.
type TxOptions struct {
	logger logging.Logger
	pgx    pgx.TxOptions
}

func DefaultTxOptions(ctx context.Context) *TxOptions {
	return &TxOptions{
		logger: logging.FromContext(ctx),
		pgx: pgx.TxOptions{
			IsoLevel:   pgx.Serializable,
			AccessMode: pgx.ReadWrite,
		},
	}
}

func buildTxOptions(ctx context.Context, opts []TxOpt) *TxOptions {
	o := DefaultTxOptions(ctx)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func WithLogger(logger logging.Logger) TxOpt {
	return func(o *TxOptions) { o.logger = logger }
}

func ReadOnly() TxOpt {
	return func(o *TxOptions) { o.pgx.AccessMode = pgx.ReadOnly }
}

func ReadCommitted() TxOpt {
	return func(o *TxOptions) { o.pgx.IsoLevel = pgx.ReadCommitted }
}

func RepeatableRead() TxOpt {
	return func(o *TxOptions) { o.pgx.IsoLevel = pgx.RepeatableRead }
}
