package accessor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/hashicorp/go-multierror"
	"github.com/jackc/puddle/v2"
	"github.com/rs/xid"
	"github.com/treeverse/termstore/pkg/logging"
	"github.com/treeverse/termstore/pkg/store"
)

const (
	DefaultReaderCapacity  = 7
	DefaultWriterCapacity  = 3
	DefaultKeepAlivePeriod = 4 * time.Hour

	readerPoolName = "reader"
	writerPoolName = "writer"
)

var (
	ErrBadCapacity = errors.New("reader capacity must exceed writer capacity")
	ErrClosed      = errors.New("accessor pools closed")
)

// TxFunc is run inside a transaction of an accessor.
type TxFunc func(tx store.Tx) error

// Transactor runs functions in read or write transactions.
type Transactor interface {
	Read(ctx context.Context, fn TxFunc) error
	Write(ctx context.Context, fn TxFunc) error
}

type Config struct {
	ReaderCapacity  int32
	WriterCapacity  int32
	KeepAlivePeriod time.Duration
}

// Accessor is a pooled backend connection.  Reader accessors only begin read-only
// transactions.
type Accessor struct {
	id       string
	readOnly bool
	conn     store.Conn
	res      *puddle.Resource[*Accessor]
	pool     *pool
}

func (a *Accessor) ID() string {
	return a.id
}

func (a *Accessor) ReadOnly() bool {
	return a.readOnly
}

func (a *Accessor) Begin(ctx context.Context) (store.Tx, error) {
	return a.conn.Begin(ctx, a.readOnly)
}

// pool is one bounded set of accessors over the backend.
type pool struct {
	name     string
	readOnly bool
	backend  store.Backend
	res      *puddle.Pool[*Accessor]
	logger   logging.Logger
}

func newPool(name string, readOnly bool, capacity int32, backend store.Backend, logger logging.Logger) (*pool, error) {
	p := &pool{
		name:     name,
		readOnly: readOnly,
		backend:  backend,
		logger:   logger.WithField("pool", name),
	}
	res, err := puddle.NewPool(&puddle.Config[*Accessor]{
		Constructor: p.activate,
		Destructor:  p.deactivate,
		MaxSize:     capacity,
	})
	if err != nil {
		return nil, fmt.Errorf("%s pool: %w", name, err)
	}
	p.res = res
	return p, nil
}

func (p *pool) activate(ctx context.Context) (*Accessor, error) {
	conn, err := p.backend.Connect(ctx)
	if err != nil {
		return nil, err
	}
	a := &Accessor{
		id:       xid.New().String(),
		readOnly: p.readOnly,
		conn:     conn,
		pool:     p,
	}
	p.logger.WithField(logging.AccessorFieldKey, a.id).Debug("Accessor activated")
	return a, nil
}

func (p *pool) deactivate(a *Accessor) {
	if err := a.conn.Close(); err != nil {
		p.logger.WithField(logging.AccessorFieldKey, a.id).WithError(err).Warn("Failed to close accessor connection")
	}
}

func (p *pool) acquire(ctx context.Context) (*Accessor, error) {
	start := time.Now()
	res, err := p.res.Acquire(ctx)
	acquireHistograms.WithLabelValues(p.name).Observe(time.Since(start).Seconds())
	if errors.Is(err, puddle.ErrClosedPool) {
		return nil, ErrClosed
	}
	if err != nil {
		return nil, err
	}
	a := res.Value()
	a.res = res
	return a, nil
}

// release passivates the accessor: any open transaction is rolled back before the accessor
// re-enters the pool.  An accessor that cannot be passivated is destroyed.
func (p *pool) release(ctx context.Context, a *Accessor) {
	res := a.res
	if res == nil {
		return
	}
	a.res = nil
	if err := a.conn.Reset(context.WithoutCancel(ctx)); err != nil {
		passivateFailures.WithLabelValues(p.name).Inc()
		p.logger.WithContext(ctx).WithField(logging.AccessorFieldKey, a.id).WithError(err).Error("Passivate failed, destroying accessor")
		res.Destroy()
		return
	}
	res.Release()
}

// keepAlive pings every idle accessor.  A failed accessor is reconnected, and destroyed when
// reconnecting fails as well.
func (p *pool) keepAlive(ctx context.Context) int {
	var failed int
	for _, res := range p.res.AcquireAllIdle() {
		a := res.Value()
		err := a.conn.Ping(ctx)
		if err == nil {
			res.ReleaseUnused()
			continue
		}
		failed++
		keepAliveFailures.WithLabelValues(p.name).Inc()
		log := p.logger.WithContext(ctx).WithField(logging.AccessorFieldKey, a.id)
		log.WithError(err).Warn("Accessor keep-alive failed, reconnecting")
		_ = a.conn.Close()
		conn, err := p.backend.Connect(ctx)
		if err != nil {
			log.WithError(err).Warn("Accessor reconnect failed, destroying accessor")
			res.Destroy()
			continue
		}
		a.conn = conn
		res.ReleaseUnused()
	}
	return failed
}

// Pools holds the reader and writer accessor pools of a store.
type Pools struct {
	readers   *pool
	writers   *pool
	period    time.Duration
	scheduler *gocron.Scheduler
	logger    logging.Logger
}

func NewPools(backend store.Backend, cfg Config, logger logging.Logger) (*Pools, error) {
	if cfg.ReaderCapacity == 0 {
		cfg.ReaderCapacity = DefaultReaderCapacity
	}
	if cfg.WriterCapacity == 0 {
		cfg.WriterCapacity = DefaultWriterCapacity
	}
	if cfg.KeepAlivePeriod == 0 {
		cfg.KeepAlivePeriod = DefaultKeepAlivePeriod
	}
	if cfg.WriterCapacity < 1 || cfg.ReaderCapacity <= cfg.WriterCapacity {
		return nil, fmt.Errorf("%w: readers %d, writers %d", ErrBadCapacity, cfg.ReaderCapacity, cfg.WriterCapacity)
	}
	if logger == nil {
		logger = logging.Default()
	}
	readers, err := newPool(readerPoolName, true, cfg.ReaderCapacity, backend, logger)
	if err != nil {
		return nil, err
	}
	writers, err := newPool(writerPoolName, false, cfg.WriterCapacity, backend, logger)
	if err != nil {
		readers.res.Close()
		return nil, err
	}
	return &Pools{
		readers: readers,
		writers: writers,
		period:  cfg.KeepAlivePeriod,
		logger:  logger,
	}, nil
}

// GetReader blocks until a reader accessor is available.
func (p *Pools) GetReader(ctx context.Context) (*Accessor, error) {
	return p.readers.acquire(ctx)
}

// GetWriter blocks until a writer accessor is available.
func (p *Pools) GetWriter(ctx context.Context) (*Accessor, error) {
	return p.writers.acquire(ctx)
}

// Release returns the accessor to its pool.  Releasing twice is a no-op.
func (p *Pools) Release(ctx context.Context, a *Accessor) {
	if a == nil || a.pool == nil {
		return
	}
	a.pool.release(ctx, a)
}

// Read runs fn in a read-only transaction that is always rolled back.
func (p *Pools) Read(ctx context.Context, fn TxFunc) error {
	a, err := p.GetReader(ctx)
	if err != nil {
		return err
	}
	defer p.Release(ctx, a)
	tx, err := a.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	return fn(tx)
}

// Write runs fn in a write transaction, committed when fn succeeds.  Failed transactions are
// never retried.
func (p *Pools) Write(ctx context.Context, fn TxFunc) error {
	a, err := p.GetWriter(ctx)
	if err != nil {
		return err
	}
	defer p.Release(ctx, a)
	tx, err := a.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
			p.logger.WithContext(ctx).WithError(rollbackErr).Warn("Rollback failed")
		}
		return err
	}
	return tx.Commit(ctx)
}

// KeepAlive pings every idle accessor of both pools once, returning the number of failed
// accessors.
func (p *Pools) KeepAlive(ctx context.Context) int {
	return p.readers.keepAlive(ctx) + p.writers.keepAlive(ctx)
}

// StartKeepAlive schedules KeepAlive every keep-alive period until Close.
func (p *Pools) StartKeepAlive(ctx context.Context) error {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	_, err := s.Every(p.period).WaitForSchedule().Do(func() {
		if failed := p.KeepAlive(ctx); failed > 0 {
			p.logger.WithField("failed", failed).Warn("Keep-alive found failed accessors")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule keep-alive: %w", err)
	}
	s.StartAsync()
	p.scheduler = s
	return nil
}

type Stats struct {
	Pool     string
	Total    int32
	Acquired int32
	Idle     int32
	Max      int32
	Acquires int64
	Waited   time.Duration
}

func (p *Pools) Stats() []Stats {
	res := make([]Stats, 0, 2) //nolint:mnd
	for _, pl := range []*pool{p.readers, p.writers} {
		st := pl.res.Stat()
		res = append(res, Stats{
			Pool:     pl.name,
			Total:    st.TotalResources(),
			Acquired: st.AcquiredResources(),
			Idle:     st.IdleResources(),
			Max:      st.MaxResources(),
			Acquires: st.AcquireCount(),
			Waited:   st.AcquireDuration(),
		})
	}
	return res
}

// Close stops the keep-alive task and disposes both pools, waiting for acquired accessors
// to be released.
func (p *Pools) Close() error {
	var err *multierror.Error
	if p.scheduler != nil {
		p.scheduler.Stop()
		p.scheduler = nil
	}
	for _, pl := range []*pool{p.readers, p.writers} {
		pl.res.Close()
		if st := pl.res.Stat(); st.TotalResources() != 0 {
			err = multierror.Append(err, fmt.Errorf("%s pool: %d accessors left", pl.name, st.TotalResources()))
		}
	}
	return err.ErrorOrNil()
}
