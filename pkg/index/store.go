package index

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/treeverse/termstore/pkg/logging"
	"github.com/treeverse/termstore/pkg/store"
)

// Snapshot is a point in time view of the index along a branch lineage.  Commits
// published after the snapshot was opened are not visible.
type Snapshot interface {
	Lineage() []store.BranchPoint
	// Get returns the document visible for k, ErrNotFound when it was never indexed or is
	// tombstoned.
	Get(ctx context.Context, k Key) (*Document, error)
	// Scan visits the visible documents of docType ordered by id.
	Scan(ctx context.Context, docType string, fn func(Document) error) error
	Close()
}

// Store keeps documents versioned by branch and commit time.  A commit is written in two
// steps: Prepare records the change set as pending, Resolve publishes or discards it.
// Publishing the same change set twice leaves the index unchanged.
type Store interface {
	Snapshot(ctx context.Context, lineage []store.BranchPoint) (Snapshot, error)
	Prepare(ctx context.Context, branch store.BranchID, commitTime int64, cs *ChangeSet) error
	Resolve(ctx context.Context, commitTime int64, publish bool) error
	// PendingCommits returns the commit times prepared and not yet resolved.
	PendingCommits(ctx context.Context) ([]int64, error)
	Close() error
}

// Maintenance controls background compaction of an index store.
type Maintenance int

const (
	MaintenanceEnabled Maintenance = iota
	MaintenanceDisabled
)

func (m Maintenance) String() string {
	switch m {
	case MaintenanceEnabled:
		return "enabled"
	case MaintenanceDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("Maintenance(%d)", int(m))
	}
}

// Maintainer is implemented by stores running background maintenance.
type Maintainer interface {
	SetMaintenance(m Maintenance)
	Maintenance() Maintenance
	// CollectGarbage runs one compaction pass and returns the number of rewrites.
	CollectGarbage() (int, error)
}

// LocalParams configures the on-disk index.
type LocalParams struct {
	Path           string
	SyncWrites     bool
	GCInterval     time.Duration
	GCDiscardRatio float64
	EncodeWorkers  int
	// InMemory keeps the data in memory only, Path is ignored.
	InMemory bool
}

type Params struct {
	Type   string
	Local  *LocalParams
	Logger logging.Logger
}

// Driver opens an index Store.
type Driver interface {
	Open(ctx context.Context, params Params) (Store, error)
}

var (
	drivers   = make(map[string]Driver)
	driversMu sync.RWMutex
)

// Register 'driver' implementation under 'name'. Panic in case of empty name, nil driver or name already registered.
func Register(name string, driver Driver) {
	if name == "" {
		panic("index Register driver name is empty")
	}
	if driver == nil {
		panic("index Register driver is nil")
	}
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, found := drivers[name]; found {
		panic("index Register driver already registered " + name)
	}
	drivers[name] = driver
}

func Open(ctx context.Context, params Params) (Store, error) {
	driversMu.RLock()
	d, ok := drivers[params.Type]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownDriver, params.Type)
	}
	if params.Logger == nil {
		params.Logger = logging.FromContext(ctx)
	}
	return d.Open(ctx, params)
}

func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
