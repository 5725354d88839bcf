package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"github.com/treeverse/termstore/pkg/db"
	"github.com/treeverse/termstore/pkg/ident"
	"github.com/treeverse/termstore/pkg/logging"
	"github.com/treeverse/termstore/pkg/store"
)

const DriverName = "postgres"

//go:embed ddl.sql
var ddl string

const dropAll = `DROP TABLE IF EXISTS locks, lock_areas, revisions, external_refs, commit_infos, branches, properties`

type Driver struct{}

//nolint:gochecknoinits
func init() {
	store.Register(DriverName, &Driver{})
}

func (d *Driver) Open(ctx context.Context, params store.Params) (store.Backend, error) {
	if params.Postgres == nil || params.Postgres.ConnectionString == "" {
		return nil, fmt.Errorf("%w: missing connection string", store.ErrDriverSettings)
	}
	if params.Parser == nil {
		return nil, fmt.Errorf("%w: missing id parser", store.ErrDriverSettings)
	}
	database, err := db.ConnectDB(ctx, *params.Postgres)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", store.ErrConnectFailed, err)
	}
	return NewBackend(database, params.Parser), nil
}

// Backend stores the tables in postgres.  Writers run at READ COMMITTED and serialize on
// row locks; readers run at REPEATABLE READ for a stable snapshot.
type Backend struct {
	db     db.Database
	parser ident.Parser
}

func NewBackend(database db.Database, parser ident.Parser) *Backend {
	return &Backend{db: database, parser: parser}
}

func (b *Backend) Setup(ctx context.Context) error {
	err := b.db.Transact(ctx, func(tx db.Tx) error {
		_, err := tx.Exec(ctx, ddl)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %s", store.ErrSetupFailed, err)
	}
	return nil
}

func (b *Backend) DropAll(ctx context.Context) error {
	return b.db.Transact(ctx, func(tx db.Tx) error {
		_, err := tx.Exec(ctx, dropAll)
		return err
	})
}

func (b *Backend) Connect(ctx context.Context) (store.Conn, error) {
	c, err := b.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", store.ErrConnectFailed, err)
	}
	return &conn{conn: c, parser: b.parser}, nil
}

func (b *Backend) Close() {
	b.db.Close()
}

type conn struct {
	conn   *db.Conn
	parser ident.Parser
	mu     sync.Mutex
	tx     *tx
}

func (c *conn) Begin(ctx context.Context, readOnly bool) (store.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx != nil {
		return nil, store.ErrTxInProgress
	}
	logger := logging.FromContext(ctx)
	opts := []db.TxOpt{db.WithLogger(logger), db.ReadCommitted()}
	if readOnly {
		opts = []db.TxOpt{db.WithLogger(logger), db.RepeatableRead(), db.ReadOnly()}
	}
	dbTx, err := c.conn.Begin(ctx, opts...)
	if err != nil {
		return nil, store.NewError("begin", "", err)
	}
	c.tx = &tx{conn: c, tx: dbTx, parser: c.parser, readOnly: readOnly}
	return c.tx, nil
}

func (c *conn) Reset(ctx context.Context) error {
	c.mu.Lock()
	t := c.tx
	c.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.Rollback(ctx)
}

func (c *conn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *conn) Close() error {
	err := c.Reset(context.Background())
	c.conn.Release()
	return err
}

func (c *conn) finish(t *tx) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx != t || t.done {
		return false
	}
	t.done = true
	c.tx = nil
	return true
}

// translate maps database errors to store errors, wrapped with the failing operation.
func translate(op, table string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrNotFound):
		return store.NewError(op, table, store.ErrNotFound)
	case errors.Is(err, db.ErrAlreadyExists):
		return store.NewError(op, table, store.ErrAlreadyExists)
	default:
		return store.NewError(op, table, err)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
