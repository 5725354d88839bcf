package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/treeverse/termstore/pkg/accessor"
	"github.com/treeverse/termstore/pkg/branch"
	"github.com/treeverse/termstore/pkg/cache"
	"github.com/treeverse/termstore/pkg/extref"
	"github.com/treeverse/termstore/pkg/ident"
	"github.com/treeverse/termstore/pkg/locking"
	"github.com/treeverse/termstore/pkg/logging"
	"github.com/treeverse/termstore/pkg/store"
)

const (
	SystemUserID   = "SYSTEM"
	InitialComment = "<initialize>"
)

var (
	ErrNotActive     = errors.New("store not active")
	ErrAlreadyActive = errors.New("store already active")
)

type Config struct {
	IDStrategy        ident.Strategy
	Pools             accessor.Config
	DropAllOnActivate bool
}

type Option func(*Store)

// WithClock replaces the wall clock used for creation and commit times.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithBranchCache caches immutable branch attributes.
func WithBranchCache(c cache.Cache) Option {
	return func(s *Store) {
		s.branchCache = c
	}
}

// Store is one activated repository over a backend: the accessor pools, the id allocator,
// the branch, external reference and lock managers, and the persisted counters.  A Store is
// activated once and deactivated once; restarting means creating a new Store.
type Store struct {
	backend     store.Backend
	cfg         Config
	logger      logging.Logger
	now         func() time.Time
	branchCache cache.Cache

	pools    *accessor.Pools
	ids      ident.Handler
	branches *branch.Manager
	refs     *extref.Mapper
	locks    *locking.Manager

	mu                     sync.Mutex
	active                 bool
	creationTime           int64
	lastCommitTime         int64
	lastNonLocalCommitTime int64
}

func New(backend store.Backend, cfg Config, logger logging.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.IDStrategy == "" {
		cfg.IDStrategy = ident.StrategyLong
	}
	s := &Store{
		backend:     backend,
		cfg:         cfg,
		logger:      logger.WithField(logging.ServiceNameFieldKey, "store"),
		now:         time.Now,
		branchCache: cache.NoCache,
	}
	for _, opt := range opts {
		opt(s)
	}
	ids, err := ident.NewHandler(cfg.IDStrategy)
	if err != nil {
		return nil, err
	}
	pools, err := accessor.NewPools(backend, cfg.Pools, s.logger)
	if err != nil {
		return nil, err
	}
	refs, err := extref.NewMapper(pools, s.logger)
	if err != nil {
		_ = pools.Close()
		return nil, err
	}
	s.ids = ids
	s.pools = pools
	s.refs = refs
	s.branches = branch.NewManager(pools, s.branchCache, s.logger)
	s.locks = locking.NewManager(pools, ids, s.logger)
	return s, nil
}

func (s *Store) Pools() *accessor.Pools       { return s.pools }
func (s *Store) IDs() ident.Handler           { return s.ids }
func (s *Store) Branches() *branch.Manager    { return s.branches }
func (s *Store) ExternalRefs() *extref.Mapper { return s.refs }
func (s *Store) Locks() *locking.Manager      { return s.locks }
func (s *Store) Backend() store.Backend       { return s.backend }
func (s *Store) Strategy() ident.Strategy     { return s.cfg.IDStrategy }
func (s *Store) nowMillis() int64             { return s.now().UnixMilli() }
func (s *Store) storesIDs() bool              { return s.cfg.IDStrategy != ident.StrategyUUID }

func (s *Store) CreationTime() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creationTime
}

func (s *Store) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Counters returns the current value of every monotonic counter.
func (s *Store) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Counters{
		Objects:                s.ids.Counters(),
		Branches:               s.branches.Counters(),
		LastCommitTime:         s.lastCommitTime,
		LastNonLocalCommitTime: s.lastNonLocalCommitTime,
	}
}

func (s *Store) setCounters(c Counters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storesIDs() {
		s.ids.SetCounters(c.Objects)
	}
	s.branches.SetCounters(c.Branches)
	s.lastCommitTime = c.LastCommitTime
	s.lastNonLocalCommitTime = c.LastNonLocalCommitTime
}

func (c Counters) fields() logging.Fields {
	return logging.Fields{
		"last_object_id":             c.Objects.LastObjectID,
		"next_local_object_id":       c.Objects.NextLocalObjectID,
		"last_branch_id":             c.Branches.LastBranchID,
		"last_local_branch_id":       c.Branches.LastLocalBranchID,
		"last_commit_time":           c.LastCommitTime,
		"last_non_local_commit_time": c.LastNonLocalCommitTime,
	}
}

// Activate prepares the backend and restores the counters: seeded on first start, read back
// after a graceful shutdown, re-derived from the tables otherwise.
func (s *Store) Activate(ctx context.Context) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return ErrAlreadyActive
	}
	s.mu.Unlock()

	log := s.logger.WithContext(ctx).WithField(logging.PhaseFieldKey, "startup")
	if s.cfg.DropAllOnActivate {
		log.Warn("Dropping all tables")
		if err := s.backend.DropAll(ctx); err != nil {
			return err
		}
	}
	if err := s.backend.Setup(ctx); err != nil {
		return err
	}

	var props map[string]string
	err := s.pools.Read(ctx, func(tx store.Tx) error {
		var err error
		props, err = tx.GetProperties(ctx, PropRepositoryCreated, PropGracefullyShutDown)
		return err
	})
	if err != nil {
		return err
	}

	created, ok := props[PropRepositoryCreated]
	switch {
	case !ok:
		err = s.firstStart(ctx)
	default:
		err = s.restart(ctx, created, props[PropGracefullyShutDown] != "")
	}
	if err != nil {
		return err
	}

	err = s.pools.Write(ctx, func(tx store.Tx) error {
		return tx.RemoveProperties(ctx, PropGracefullyShutDown)
	})
	if err != nil {
		return err
	}
	if err := s.refs.Init(ctx); err != nil {
		return err
	}
	if err := s.pools.StartKeepAlive(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
	log.WithFields(s.Counters().fields()).Info("Store activated")
	return nil
}

func (s *Store) firstStart(ctx context.Context) error {
	now := s.nowMillis()
	c := Counters{
		Objects:                ident.InitialCounters,
		LastCommitTime:         now,
		LastNonLocalCommitTime: now,
	}
	err := s.pools.Write(ctx, func(tx store.Tx) error {
		err := tx.InsertBranch(ctx, store.Branch{
			ID:            store.MainBranchID,
			Name:          store.MainBranchName,
			BaseBranchID:  store.MainBranchID,
			BaseTimestamp: now,
			HeadTime:      now,
		})
		if err != nil {
			return err
		}
		err = tx.InsertCommitInfo(ctx, store.CommitInfo{
			CommitTime: now,
			BranchID:   store.MainBranchID,
			UserID:     SystemUserID,
			Comment:    InitialComment,
		})
		if err != nil {
			return err
		}
		return tx.SetProperties(ctx, map[string]string{PropRepositoryCreated: strconv.FormatInt(now, 10)})
	})
	if err != nil {
		return fmt.Errorf("first start: %w", err)
	}
	s.mu.Lock()
	s.creationTime = now
	s.mu.Unlock()
	s.setCounters(c)
	s.logger.WithContext(ctx).WithField("created", now).Info("Repository created")
	return nil
}

func (s *Store) restart(ctx context.Context, created string, graceful bool) error {
	creationTime, err := strconv.ParseInt(created, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: property %s=%q", store.ErrConsistency, PropRepositoryCreated, created)
	}
	s.mu.Lock()
	s.creationTime = creationTime
	s.mu.Unlock()

	if !graceful {
		s.logger.WithContext(ctx).Warn("Detected restart after crash, recovering counters")
		_, err := s.Recover(ctx)
		return err
	}

	var props map[string]string
	err = s.pools.Read(ctx, func(tx store.Tx) error {
		var err error
		props, err = tx.GetProperties(ctx, counterNames(s.storesIDs())...)
		return err
	})
	if err != nil {
		return err
	}
	c, err := countersFromProperties(props, s.storesIDs())
	if err != nil {
		return err
	}
	s.setCounters(c)
	return nil
}

// Deactivate persists all counters with the graceful shutdown marker in one transaction,
// then closes the accessor pools.
func (s *Store) Deactivate(ctx context.Context) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return ErrNotActive
	}
	s.active = false
	s.mu.Unlock()

	log := s.logger.WithContext(ctx).WithField(logging.PhaseFieldKey, "shutdown")
	c := s.Counters()
	props := c.properties(s.storesIDs())
	props[PropGracefullyShutDown] = strconv.FormatBool(true)
	props[PropRepositoryStopped] = strconv.FormatInt(s.nowMillis(), 10)

	var errs *multierror.Error
	err := s.pools.Write(ctx, func(tx store.Tx) error {
		return tx.SetProperties(ctx, props)
	})
	if err != nil {
		log.WithError(err).Error("Failed to persist counters")
		errs = multierror.Append(errs, err)
	}
	s.refs.Close()
	if err := s.pools.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if errs.ErrorOrNil() == nil {
		log.WithFields(c.fields()).Info("Store deactivated")
	}
	return errs.ErrorOrNil()
}

// ReserveCommitTime returns a commit time later than every time reserved before:
// max(now, last commit time + 1).
func (s *Store) ReserveCommitTime(b ident.Branch) int64 {
	now := s.nowMillis()
	s.mu.Lock()
	defer s.mu.Unlock()
	t := now
	if t <= s.lastCommitTime {
		t = s.lastCommitTime + 1
	}
	s.lastCommitTime = t
	if !b.IsLocal() && t > s.lastNonLocalCommitTime {
		s.lastNonLocalCommitTime = t
	}
	return t
}

// LastCommitTime returns the last reserved commit time.
func (s *Store) LastCommitTime() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCommitTime
}

// CommitLog visits the commits with from <= commit time <= to in time order, only those of
// branch when it is not nil.
func (s *Store) CommitLog(ctx context.Context, branch *store.BranchID, from, to int64, fn func(store.CommitInfo) error) error {
	return s.pools.Read(ctx, func(tx store.Tx) error {
		return tx.ListCommitInfos(ctx, branch, from, to, fn)
	})
}
