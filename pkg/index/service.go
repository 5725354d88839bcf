package index

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/puzpuzpuz/xsync"
	"github.com/treeverse/termstore/pkg/logging"
	"github.com/treeverse/termstore/pkg/store"
)

var ErrTxDone = errors.New("index write transaction already done")

// BranchSource resolves branch heads and lineages.
type BranchSource interface {
	LoadBranch(ctx context.Context, id store.BranchID) (*store.Branch, error)
	Lineage(ctx context.Context, id store.BranchID, t int64) ([]store.BranchPoint, error)
}

// Service opens read snapshots and write transactions on the index of a repository.
// A write transaction holds the gate of its branch from BeginWrite until it is
// published or dropped, so snapshots of the branch are never pinned at a head whose
// index commit is not published yet.
type Service struct {
	store    Store
	branches BranchSource
	logger   logging.Logger
	gates    *xsync.MapOf[string, *sync.RWMutex]
}

func NewService(s Store, branches BranchSource, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:    s,
		branches: branches,
		logger:   logger.WithField(logging.ServiceNameFieldKey, "index"),
		gates:    xsync.NewMapOf[*sync.RWMutex](),
	}
}

func (s *Service) gate(branch store.BranchID) *sync.RWMutex {
	g, _ := s.gates.LoadOrStore(strconv.Itoa(int(branch)), &sync.RWMutex{})
	return g
}

func (s *Service) Store() Store {
	return s.store
}

// OpenSnapshot pins a snapshot at the read time of branch, waiting for a write in flight
// on the branch to finish.
func (s *Service) OpenSnapshot(ctx context.Context, branch store.BranchID) (Snapshot, *store.Branch, error) {
	g := s.gate(branch)
	g.RLock()
	defer g.RUnlock()
	b, err := s.branches.LoadBranch(ctx, branch)
	if err != nil {
		return nil, nil, err
	}
	lineage, err := s.branches.Lineage(ctx, branch, b.ReadTime())
	if err != nil {
		return nil, nil, err
	}
	snap, err := s.store.Snapshot(ctx, lineage)
	if err != nil {
		return nil, nil, err
	}
	return snap, b, nil
}

// WithReadSnapshot runs fn on a snapshot pinned at the current head of branch.
func (s *Service) WithReadSnapshot(ctx context.Context, branch store.BranchID, fn func(Snapshot) error) error {
	snap, _, err := s.OpenSnapshot(ctx, branch)
	if err != nil {
		return err
	}
	defer snap.Close()
	return fn(snap)
}

// WithWriteTransaction collects a change set with fn and publishes it at commitTime on
// branch.  Nothing is written when fn fails.
func (s *Service) WithWriteTransaction(ctx context.Context, branch store.BranchID, commitTime int64, fn func(*ChangeSet) error) error {
	cs := NewChangeSet("write")
	if err := fn(cs); err != nil {
		return err
	}
	tx := s.BeginWrite(branch, commitTime, cs)
	if err := tx.Prepare(ctx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// BeginWrite starts a write of cs at commitTime on branch.  Snapshots of branch wait
// until the returned transaction is committed or rolled back.
func (s *Service) BeginWrite(branch store.BranchID, commitTime int64, cs *ChangeSet) *WriteTx {
	g := s.gate(branch)
	g.Lock()
	return &WriteTx{
		unlock:     g.Unlock,
		store:      s.store,
		branch:     branch,
		commitTime: commitTime,
		cs:         cs,
		logger: s.logger.WithFields(logging.Fields{
			logging.BranchIDFieldKey:   branch,
			logging.CommitTimeFieldKey: commitTime,
		}),
	}
}

// Recover resolves pending commits left by a crash between prepare and publish.
// committed reports whether the primary store holds the commit.
func (s *Service) Recover(ctx context.Context, committed func(ctx context.Context, commitTime int64) (bool, error)) (published, discarded int, err error) {
	pending, err := s.store.PendingCommits(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, t := range pending {
		ok, err := committed(ctx, t)
		if err != nil {
			return published, discarded, err
		}
		if err := s.store.Resolve(ctx, t, ok); err != nil {
			return published, discarded, fmt.Errorf("resolve pending commit %d: %w", t, err)
		}
		if ok {
			published++
		} else {
			discarded++
		}
		s.logger.WithContext(ctx).WithFields(logging.Fields{
			logging.CommitTimeFieldKey: t,
			"published":                ok,
		}).Info("Resolved pending index commit")
	}
	return published, discarded, nil
}

type writeState int

const (
	writeOpen writeState = iota
	writePrepared
	writeDone
)

// WriteTx is an index change set on its way to a commit.  Before Prepare nothing is
// written and Rollback only drops the change set.
type WriteTx struct {
	store      Store
	branch     store.BranchID
	commitTime int64
	cs         *ChangeSet
	state      writeState
	logger     logging.Logger
	unlock     func()
}

// finish marks w done and opens the branch gate once.
func (w *WriteTx) finish() {
	w.state = writeDone
	if w.unlock != nil {
		w.unlock()
		w.unlock = nil
	}
}

func (w *WriteTx) ChangeSet() *ChangeSet {
	return w.cs
}

func (w *WriteTx) CommitTime() int64 {
	return w.commitTime
}

func (w *WriteTx) Prepare(ctx context.Context) error {
	if w.state != writeOpen {
		return ErrTxDone
	}
	if err := w.store.Prepare(ctx, w.branch, w.commitTime, w.cs); err != nil {
		w.finish()
		return err
	}
	w.state = writePrepared
	return nil
}

func (w *WriteTx) Commit(ctx context.Context) error {
	if w.state != writePrepared {
		return ErrTxDone
	}
	defer w.finish()
	if err := w.store.Resolve(ctx, w.commitTime, true); err != nil {
		w.logger.WithContext(ctx).WithError(err).Error("Publish index commit failed")
		return err
	}
	return nil
}

func (w *WriteTx) Rollback(ctx context.Context) error {
	state := w.state
	defer w.finish()
	if state != writePrepared {
		return nil
	}
	return w.store.Resolve(ctx, w.commitTime, false)
}
