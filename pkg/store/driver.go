package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/treeverse/termstore/pkg/db/params"
	"github.com/treeverse/termstore/pkg/ident"
)

// Params configures a backend.
type Params struct {
	Type     string
	Postgres *params.Database
	// Parser decodes persisted object ids.
	Parser ident.Parser
}

// Driver opens a Backend.  Each relational product implements a Driver.
type Driver interface {
	Open(ctx context.Context, params Params) (Backend, error)
}

var (
	drivers   = make(map[string]Driver)
	driversMu sync.RWMutex
)

// Register makes driver available to Open as name. Drivers register from init;
// an empty name, a nil driver or a duplicate name panics.
func Register(name string, driver Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	switch _, dup := drivers[name]; {
	case name == "":
		panic("store: empty driver name")
	case driver == nil:
		panic("store: nil driver " + name)
	case dup:
		panic("store: driver registered twice " + name)
	}
	drivers[name] = driver
}

// Open opens a backend with the driver registered as params.Type, or fails
// with ErrUnknownDriver.
func Open(ctx context.Context, params Params) (Backend, error) {
	driversMu.RLock()
	d, ok := drivers[params.Type]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, params.Type)
	}
	return d.Open(ctx, params)
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	return slices.Sorted(maps.Keys(drivers))
}
