package branch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/treeverse/termstore/pkg/accessor"
	"github.com/treeverse/termstore/pkg/cache"
	"github.com/treeverse/termstore/pkg/logging"
	"github.com/treeverse/termstore/pkg/store"
)

// maxLineageDepth bounds base branch walks on corrupt (cyclic) branch tables.
const maxLineageDepth = 1024

var (
	ErrInvalidName       = errors.New("invalid branch name")
	ErrInvalidBase       = errors.New("invalid base timestamp")
	ErrBranchesExhausted = errors.New("branch ids exhausted")
)

// Counters are the last allocated durable and local branch ids.
type Counters struct {
	LastBranchID      store.BranchID
	LastLocalBranchID store.BranchID
}

// Manager maintains the branch tree.  Durable branch ids count up from main, local branch ids
// count down from it.
type Manager struct {
	tx     accessor.Transactor
	cache  cache.Cache
	logger logging.Logger

	mu       sync.Mutex
	counters Counters
}

func NewManager(tx accessor.Transactor, c cache.Cache, logger logging.Logger) *Manager {
	if c == nil {
		c = cache.NoCache
	}
	return &Manager{
		tx:     tx,
		cache:  c,
		logger: logger,
	}
}

func (m *Manager) Counters() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}

func (m *Manager) SetCounters(c Counters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = c
	m.cache.Purge()
}

func (m *Manager) nextID(local bool) (store.BranchID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if local {
		if m.counters.LastLocalBranchID == math.MinInt32 {
			return 0, ErrBranchesExhausted
		}
		m.counters.LastLocalBranchID--
		return m.counters.LastLocalBranchID, nil
	}
	if m.counters.LastBranchID == math.MaxInt32 {
		return 0, ErrBranchesExhausted
	}
	m.counters.LastBranchID++
	return m.counters.LastBranchID, nil
}

type CreateOptions struct {
	Local bool
}

type CreateOption func(*CreateOptions)

// WithLocal creates a transient branch from the local id space.
func WithLocal() CreateOption {
	return func(o *CreateOptions) {
		o.Local = true
	}
}

// CreateBranch inserts a branch based on base at baseTime and commits it on its own
// transaction, ahead of any data committed on the branch.
func (m *Manager) CreateBranch(ctx context.Context, base store.BranchID, name string, baseTime int64, opts ...CreateOption) (*store.Branch, error) {
	options := &CreateOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if name == "" {
		return nil, ErrInvalidName
	}
	if baseTime < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBase, baseTime)
	}
	id, err := m.nextID(options.Local)
	if err != nil {
		return nil, err
	}
	b := store.Branch{
		ID:            id,
		Name:          name,
		BaseBranchID:  base,
		BaseTimestamp: baseTime,
	}
	err = m.tx.Write(ctx, func(tx store.Tx) error {
		if _, err := tx.GetBranch(ctx, base); err != nil {
			return fmt.Errorf("base branch %d: %w", base, err)
		}
		return tx.InsertBranch(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	m.logger.WithContext(ctx).WithFields(logging.Fields{
		logging.BranchIDFieldKey: b.ID,
		"name":                   b.Name,
		"base_branch_id":         b.BaseBranchID,
		"base_time":              b.BaseTimestamp,
	}).Info("Branch created")
	return &b, nil
}

// LoadBranch reads the branch from the store, HeadTime included.
func (m *Manager) LoadBranch(ctx context.Context, id store.BranchID) (*store.Branch, error) {
	var b *store.Branch
	err := m.tx.Read(ctx, func(tx store.Tx) error {
		var err error
		b, err = tx.GetBranch(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (m *Manager) LoadSubBranches(ctx context.Context, base store.BranchID) ([]store.Branch, error) {
	var branches []store.Branch
	err := m.tx.Read(ctx, func(tx store.Tx) error {
		var err error
		branches, err = tx.ListSubBranches(ctx, base)
		return err
	})
	return branches, err
}

// LoadBranches returns the branches with from <= id <= to.
func (m *Manager) LoadBranches(ctx context.Context, from, to store.BranchID) ([]store.Branch, error) {
	var branches []store.Branch
	err := m.tx.Read(ctx, func(tx store.Tx) error {
		var err error
		branches, err = tx.ListBranches(ctx, from, to)
		return err
	})
	return branches, err
}

// baseOf returns the cached immutable part of a branch: its id, name and base point.
func (m *Manager) baseOf(ctx context.Context, id store.BranchID) (store.Branch, error) {
	load := func() (interface{}, error) {
		b, err := m.LoadBranch(ctx, id)
		if err != nil {
			return nil, err
		}
		b.HeadTime = 0
		return *b, nil
	}
	v, err := m.cache.GetOrSet(id, load)
	if errors.Is(err, cache.ErrCacheItemNotFound) {
		v, err = load()
	}
	if err != nil {
		return store.Branch{}, err
	}
	return v.(store.Branch), nil
}

// Lineage returns the branch points visible from branch id at time t, starting with the
// branch itself and ending with main.  Each base point is clamped by the base timestamp of
// the branch below it.
func (m *Manager) Lineage(ctx context.Context, id store.BranchID, t int64) ([]store.BranchPoint, error) {
	b, err := m.baseOf(ctx, id)
	if err != nil {
		return nil, err
	}
	lineage := []store.BranchPoint{b.Point(t)}
	for !b.IsMain() {
		if len(lineage) > maxLineageDepth {
			return nil, fmt.Errorf("%w: branch %d lineage too deep", store.ErrConsistency, id)
		}
		if b.BaseTimestamp < t {
			t = b.BaseTimestamp
		}
		b, err = m.baseOf(ctx, b.BaseBranchID)
		if err != nil {
			return nil, err
		}
		lineage = append(lineage, b.Point(t))
	}
	return lineage, nil
}
