package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/treeverse/termstore/pkg/logging"
)

type TxFunc func(tx Tx) error

type Database interface {
	Transact(ctx context.Context, fn TxFunc, opts ...TxOpt) error
	Acquire(ctx context.Context) (*Conn, error)
	Metadata(ctx context.Context) (map[string]string, error)
	Pool() *pgxpool.Pool
	Close()
}

type PgxDatabase struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

func NewPgxDatabase(pool *pgxpool.Pool) *PgxDatabase {
	return &PgxDatabase{pool: pool, logger: logging.Default()}
}

func (d *PgxDatabase) Close() {
	d.pool.Close()
}

func (d *PgxDatabase) Pool() *pgxpool.Pool {
	return d.pool
}

// Transact runs fn in a transaction, retrying the whole function on serialization failures.
func (d *PgxDatabase) Transact(ctx context.Context, fn TxFunc, opts ...TxOpt) error {
	options := buildTxOptions(ctx, opts)
	var tx pgx.Tx
	defer func() {
		if p := recover(); p != nil && tx != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()
	for attempt := 0; attempt < SerializationRetryMaxAttempts; attempt++ {
		if attempt > 0 {
			duration := SerializationRetryStartInterval * time.Duration(attempt)
			dbRetriesCount.Inc()
			options.logger.
				WithField("attempt", attempt).
				WithField("sleep_interval", duration).
				Warn("retrying transaction due to serialization error")
			time.Sleep(duration)
		}
		var err error
		tx, err = d.pool.BeginTx(ctx, options.pgx)
		if err != nil {
			return err
		}
		err = fn(&dbTx{tx: tx, logger: options.logger})
		if err != nil {
			if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
				return err
			}
			if IsSerializationError(err) {
				continue
			}
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			if IsSerializationError(err) {
				continue
			}
			return err
		}
		return nil
	}
	options.logger.
		WithField("attempt", SerializationRetryMaxAttempts).
		Warn("transaction failed after max attempts due to serialization error")
	return ErrSerialization
}

// Acquire takes a dedicated connection out of the pool.  The caller owns it until Release.
func (d *PgxDatabase) Acquire(ctx context.Context) (*Conn, error) {
	c, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: c}, nil
}

func (d *PgxDatabase) Metadata(ctx context.Context) (map[string]string, error) {
	metadata := make(map[string]string)
	err := d.Transact(ctx, func(tx Tx) error {
		var version string
		if err := tx.GetPrimitive(ctx, &version, "SELECT version()"); err != nil {
			return err
		}
		metadata["postgresql_version"] = version
		type pgSetting struct {
			Name    string `db:"name"`
			Setting string `db:"setting"`
		}
		var settings []pgSetting
		err := tx.Select(ctx, &settings, `SELECT name, setting FROM pg_settings
			WHERE name IN ('TimeZone', 'work_mem', 'default_transaction_isolation')`)
		if err != nil {
			return err
		}
		for _, s := range settings {
			metadata["postgresql_setting_"+s.Name] = s.Setting
		}
		return nil
	}, ReadOnly(), WithLogger(logging.Dummy()))
	return metadata, err
}

// Conn is a single pooled connection on which at most one transaction is open at a time.
type Conn struct {
	conn *pgxpool.Conn
}

var ErrConnReleased = errors.New("connection released")

// Begin starts a transaction on the connection.
func (c *Conn) Begin(ctx context.Context, opts ...TxOpt) (*ConnTx, error) {
	if c.conn == nil {
		return nil, ErrConnReleased
	}
	options := buildTxOptions(ctx, opts)
	tx, err := c.conn.BeginTx(ctx, options.pgx)
	if err != nil {
		return nil, err
	}
	return &ConnTx{dbTx: dbTx{tx: tx, logger: options.logger}}, nil
}

func (c *Conn) Ping(ctx context.Context) error {
	if c.conn == nil {
		return ErrConnReleased
	}
	return c.conn.Ping(ctx)
}

// Release returns the connection to its pool.
func (c *Conn) Release() {
	if c.conn != nil {
		c.conn.Release()
		c.conn = nil
	}
}

// ConnTx is a transaction owned by a Conn.
type ConnTx struct {
	dbTx
}

func (t *ConnTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return t.handleSQLError(err, "commit", "COMMIT")
	}
	return nil
}

// Rollback aborts the transaction.  Rolling back a finished transaction is not an error.
func (t *ConnTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}
