package mem

import (
	"context"
	"sync"

	"github.com/treeverse/termstore/pkg/store"
)

const DriverName = "mem"

type Driver struct{}

//nolint:gochecknoinits
func init() {
	store.Register(DriverName, &Driver{})
}

// Open returns a new empty backend.  Data lives as long as the backend.
func (d *Driver) Open(_ context.Context, _ store.Params) (store.Backend, error) {
	return New(), nil
}

// Backend keeps all tables in memory.  Writers are serialized; readers see the state
// committed when their transaction began.
type Backend struct {
	writer chan struct{}

	mu      sync.RWMutex
	current *state
	closed  bool
}

func New() *Backend {
	return &Backend{
		writer: make(chan struct{}, 1),
	}
}

func (b *Backend) Setup(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return store.ErrClosed
	}
	if b.current == nil {
		b.current = newState()
	}
	return nil
}

func (b *Backend) Connect(_ context.Context) (store.Conn, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, store.ErrClosed
	}
	return &conn{backend: b}, nil
}

func (b *Backend) DropAll(ctx context.Context) error {
	if err := b.acquireWriter(ctx); err != nil {
		return err
	}
	defer b.releaseWriter()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = nil
	return nil
}

func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func (b *Backend) snapshot() (*state, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, store.ErrClosed
	}
	if b.current == nil {
		return nil, store.NewError("begin", "", store.ErrSetupFailed)
	}
	return b.current, nil
}

func (b *Backend) publish(s *state) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = s
}

func (b *Backend) acquireWriter(ctx context.Context) error {
	select {
	case b.writer <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Backend) releaseWriter() {
	<-b.writer
}

type conn struct {
	backend *Backend
	mu      sync.Mutex
	tx      *tx
}

func (c *conn) Begin(ctx context.Context, readOnly bool) (store.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx != nil {
		return nil, store.ErrTxInProgress
	}
	if !readOnly {
		if err := c.backend.acquireWriter(ctx); err != nil {
			return nil, err
		}
	}
	s, err := c.backend.snapshot()
	if err != nil {
		if !readOnly {
			c.backend.releaseWriter()
		}
		return nil, err
	}
	if !readOnly {
		s = s.clone()
	}
	c.tx = &tx{conn: c, st: s, readOnly: readOnly}
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

func (c *conn) Ping(_ context.Context) error {
	_, err := c.backend.snapshot()
	return err
}

func (c *conn) Close() error {
	return c.Reset(context.Background())
}

// finish detaches t from the connection, reporting whether t was still open.
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
