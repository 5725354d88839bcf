package extref

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/dgraph-io/ristretto"
	"github.com/treeverse/termstore/pkg/accessor"
	"github.com/treeverse/termstore/pkg/logging"
	"github.com/treeverse/termstore/pkg/store"
)

const (
	cacheNumCounters = 100_000
	cacheMaxCost     = 10_000
	cacheBufferItems = 64
)

var (
	ErrEmptyURI  = errors.New("empty uri")
	ErrExhausted = errors.New("external reference ids exhausted")
)

// Mapper maps external URIs to negative local ids.  Ids are never reused: the counter
// continues below the smallest persisted id.
type Mapper struct {
	tx     accessor.Transactor
	logger logging.Logger

	mu     sync.Mutex
	lastID int64

	ids  *ristretto.Cache // uri -> id
	uris *ristretto.Cache // id -> uri
}

func newCache() (*ristretto.Cache, error) {
	return ristretto.NewCache(&ristretto.Config{
		NumCounters: cacheNumCounters,
		MaxCost:     cacheMaxCost,
		BufferItems: cacheBufferItems,
	})
}

func NewMapper(tx accessor.Transactor, logger logging.Logger) (*Mapper, error) {
	ids, err := newCache()
	if err != nil {
		return nil, err
	}
	uris, err := newCache()
	if err != nil {
		ids.Close()
		return nil, err
	}
	return &Mapper{
		tx:     tx,
		logger: logger,
		ids:    ids,
		uris:   uris,
	}, nil
}

// Init seeds the counter from the smallest persisted id.
func (m *Mapper) Init(ctx context.Context) error {
	var minID int64
	err := m.tx.Read(ctx, func(tx store.Tx) error {
		var err error
		minID, err = tx.MinExternalRefID(ctx)
		return err
	})
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.lastID = minID
	m.mu.Unlock()
	m.ids.Clear()
	m.uris.Clear()
	m.logger.WithContext(ctx).WithField("last_id", minID).Debug("External reference ids seeded")
	return nil
}

// LastID returns the last allocated id, 0 before the first mapping.
func (m *Mapper) LastID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastID
}

func (m *Mapper) nextID() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastID == math.MinInt64 {
		return 0, ErrExhausted
	}
	m.lastID--
	return m.lastID, nil
}

func (m *Mapper) remember(ref store.ExternalRef) {
	m.ids.Set(ref.URI, ref.ID, 1)
	m.uris.Set(ref.ID, ref.URI, 1)
}

// MapTx returns the id of uri, inserting a mapping first seen at commitTime into tx when
// uri is not mapped yet.  The mapping becomes visible when tx commits.  When another writer
// maps uri first its id is returned and the allocated id stays unused.
func (m *Mapper) MapTx(ctx context.Context, tx store.Tx, uri string, commitTime int64) (int64, error) {
	if uri == "" {
		return 0, ErrEmptyURI
	}
	if v, ok := m.ids.Get(uri); ok {
		return v.(int64), nil
	}
	ref, err := tx.GetExternalRefByURI(ctx, uri)
	if err == nil {
		return ref.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}
	id, err := m.nextID()
	if err != nil {
		return 0, err
	}
	stored, err := tx.MapExternalRef(ctx, store.ExternalRef{ID: id, URI: uri, CommitTime: commitTime})
	if err != nil {
		return 0, err
	}
	return stored.ID, nil
}

// Map returns the id of uri, persisting a new mapping when needed.  Mapping the same uri
// again returns the same id.
func (m *Mapper) Map(ctx context.Context, uri string, commitTime int64) (int64, error) {
	var id int64
	err := m.tx.Write(ctx, func(tx store.Tx) error {
		var err error
		id, err = m.MapTx(ctx, tx, uri, commitTime)
		return err
	})
	if err != nil {
		return 0, err
	}
	m.remember(store.ExternalRef{ID: id, URI: uri})
	return id, nil
}

// Unmap returns the uri mapped to id.  A missing mapping is a consistency violation.
func (m *Mapper) Unmap(ctx context.Context, id int64) (string, error) {
	if v, ok := m.uris.Get(id); ok {
		return v.(string), nil
	}
	var ref *store.ExternalRef
	err := m.tx.Read(ctx, func(tx store.Tx) error {
		var err error
		ref, err = tx.GetExternalRef(ctx, id)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		m.logger.WithContext(ctx).WithField("id", id).Error("External reference not mapped")
		return "", fmt.Errorf("%w: external reference %d not mapped: %s", store.ErrConsistency, id, err)
	}
	if err != nil {
		return "", err
	}
	m.remember(*ref)
	return ref.URI, nil
}

// List visits all mappings in descending id order.
func (m *Mapper) List(ctx context.Context, fn func(store.ExternalRef) error) error {
	return m.tx.Read(ctx, func(tx store.Tx) error {
		return tx.ListExternalRefs(ctx, fn)
	})
}

func (m *Mapper) Close() {
	m.ids.Close()
	m.uris.Close()
}
