package service

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/treeverse/termstore/pkg/accessor"
	"github.com/treeverse/termstore/pkg/cache"
	"github.com/treeverse/termstore/pkg/commit"
	"github.com/treeverse/termstore/pkg/config"
	"github.com/treeverse/termstore/pkg/ident"
	"github.com/treeverse/termstore/pkg/index"
	_ "github.com/treeverse/termstore/pkg/index/local"
	_ "github.com/treeverse/termstore/pkg/index/mem"
	"github.com/treeverse/termstore/pkg/logging"
	"github.com/treeverse/termstore/pkg/metadata"
	"github.com/treeverse/termstore/pkg/query"
	"github.com/treeverse/termstore/pkg/repository"
	"github.com/treeverse/termstore/pkg/store"
	_ "github.com/treeverse/termstore/pkg/store/mem"
	_ "github.com/treeverse/termstore/pkg/store/postgres"
)

// Service holds one repository with its index and commit orchestrator, built from
// configuration.
type Service struct {
	cfg     *config.Config
	logger  logging.Logger
	backend store.Backend
	idx     index.Store

	Repo    *repository.Store
	Index   *index.Service
	Commits *commit.Orchestrator
	Types   *metadata.Registry
	Queries *query.Handler
}

type Option func(*options)

type options struct {
	repoOpts   []repository.Option
	processors []index.ProcessorFactory
	types      *metadata.Registry
}

// WithRepositoryOptions passes opts to the repository store.
func WithRepositoryOptions(opts ...repository.Option) Option {
	return func(o *options) {
		o.repoOpts = append(o.repoOpts, opts...)
	}
}

// WithProcessors registers change set processors after the object processor.
func WithProcessors(factories ...index.ProcessorFactory) Option {
	return func(o *options) {
		o.processors = append(o.processors, factories...)
	}
}

// WithTypes validates committed objects against types.
func WithTypes(types *metadata.Registry) Option {
	return func(o *options) {
		o.types = types
	}
}

// New opens the backend and the index named by cfg.  Nothing is activated yet.
func New(ctx context.Context, cfg *config.Config, logger logging.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = logging.FromContext(ctx)
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	strategy, err := ident.ParseStrategy(cfg.Store.IDStrategy)
	if err != nil {
		return nil, err
	}
	parser, err := ident.NewHandler(strategy)
	if err != nil {
		return nil, err
	}
	dbParams := cfg.DatabaseParams()
	backend, err := store.Open(ctx, store.Params{
		Type:     cfg.Database.Type,
		Postgres: &dbParams,
		Parser:   parser,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Database.Type, err)
	}
	localParams := cfg.IndexLocalParams()
	idx, err := index.Open(ctx, index.Params{
		Type:   cfg.Index.Type,
		Local:  &localParams,
		Logger: logger,
	})
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("open %s index: %w", cfg.Index.Type, err)
	}

	branchCache := cache.NewCacheByParams(&cache.Params{
		Name:     "branches",
		Size:     cfg.Cache.Size,
		Expiry:   cfg.Cache.Expiry,
		JitterFn: cache.NewJitterFn(cfg.Cache.Jitter),
	})
	repoOpts := append([]repository.Option{repository.WithBranchCache(branchCache)}, o.repoOpts...)
	repo, err := repository.New(backend, repository.Config{
		IDStrategy: strategy,
		Pools: accessor.Config{
			ReaderCapacity:  cfg.Store.ReaderPoolCapacity,
			WriterCapacity:  cfg.Store.WriterPoolCapacity,
			KeepAlivePeriod: cfg.Store.KeepAlivePeriod,
		},
		DropAllOnActivate: cfg.Store.DropAllOnActivate,
	}, logger, repoOpts...)
	if err != nil {
		_ = idx.Close()
		backend.Close()
		return nil, err
	}

	types := o.types
	if types == nil {
		types = metadata.NewRegistry()
	}
	var commitOpts []commit.Option
	if o.types != nil {
		commitOpts = append(commitOpts, commit.WithTypes(types))
	}
	idxService := index.NewService(idx, repo.Branches(), logger)
	orc := commit.New(repo, idxService, logger, commitOpts...)
	orc.Register(index.NewObjectProcessor)
	for _, f := range o.processors {
		orc.Register(f)
	}
	return &Service{
		cfg:     cfg,
		logger:  logger.WithField(logging.ServiceNameFieldKey, "termstore"),
		backend: backend,
		idx:     idx,
		Repo:    repo,
		Index:   idxService,
		Commits: orc,
		Types:   types,
		Queries: query.NewHandler(repo.IDs(), logger),
	}, nil
}

// Activate activates the repository, then resolves index commits left pending by a crash.
func (s *Service) Activate(ctx context.Context) error {
	if err := s.Repo.Activate(ctx); err != nil {
		return err
	}
	if _, _, err := s.Commits.Recover(ctx); err != nil {
		return fmt.Errorf("recover index: %w", err)
	}
	s.logger.WithContext(ctx).WithFields(s.cfg.ToLoggerFields()).Info("Service activated")
	return nil
}

// Query runs q in a read-only transaction of the repository.
func (s *Service) Query(ctx context.Context, q query.Query) (*query.Result, error) {
	var res *query.Result
	err := s.Repo.Pools().Read(ctx, func(tx store.Tx) error {
		var err error
		res, err = s.Queries.Execute(ctx, tx, q)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Close deactivates the repository when active and closes the index and the backend.
func (s *Service) Close(ctx context.Context) error {
	var errs *multierror.Error
	if s.Repo.IsActive() {
		if err := s.Repo.Deactivate(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := s.idx.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	s.backend.Close()
	return errs.ErrorOrNil()
}
