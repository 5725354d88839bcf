package local

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mitchellh/go-homedir"
	"github.com/treeverse/termstore/pkg/index"
	"github.com/treeverse/termstore/pkg/logging"
)

const (
	DriverName            = "local"
	DefaultPath           = "~/termstore/index"
	DefaultGCInterval     = 10 * time.Minute
	DefaultGCDiscardRatio = 0.5
	DefaultEncodeWorkers  = 4
)

type Driver struct{}

// BadgerLogger routes badger logs to a termstore logger.
type BadgerLogger struct {
	logging.Logger
}

func (l *BadgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}

func normalizeParams(p *index.LocalParams) {
	if p.Path == "" {
		p.Path = DefaultPath
	}
	if p.GCInterval <= 0 {
		p.GCInterval = DefaultGCInterval
	}
	if p.GCDiscardRatio <= 0 || p.GCDiscardRatio >= 1 {
		p.GCDiscardRatio = DefaultGCDiscardRatio
	}
	if p.EncodeWorkers <= 0 {
		p.EncodeWorkers = DefaultEncodeWorkers
	}
}

func (d *Driver) Open(ctx context.Context, params index.Params) (index.Store, error) {
	if params.Local == nil {
		return nil, fmt.Errorf("missing %s settings: %w", DriverName, index.ErrDriverConfiguration)
	}
	p := *params.Local
	normalizeParams(&p)
	logger := params.Logger
	if logger == nil {
		logger = logging.FromContext(ctx)
	}
	logger = logger.WithField(logging.ServiceNameFieldKey, "index_local")

	var opts badger.Options
	if p.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		path, err := homedir.Expand(p.Path)
		if err != nil {
			return nil, fmt.Errorf("index path %s: %w", p.Path, err)
		}
		opts = badger.DefaultOptions(path).WithSyncWrites(p.SyncWrites)
	}
	opts.Logger = &BadgerLogger{logger}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	s := newStore(db, p, logger)
	if !p.InMemory {
		if err := s.startGC(); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

//nolint:gochecknoinits
func init() {
	index.Register(DriverName, &Driver{})
}
