package commit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync"
	"github.com/rs/xid"
	"github.com/treeverse/termstore/pkg/ident"
	"github.com/treeverse/termstore/pkg/index"
	"github.com/treeverse/termstore/pkg/logging"
	"github.com/treeverse/termstore/pkg/metadata"
	"github.com/treeverse/termstore/pkg/repository"
	"github.com/treeverse/termstore/pkg/revision"
	"github.com/treeverse/termstore/pkg/store"
)

var (
	ErrNoProcessors = errors.New("no change set processors registered")
	ErrPublish      = errors.New("index publish failed")
	ErrAttemptDone  = errors.New("commit attempt already done")
)

// ConflictKind is an expected reason for a commit attempt not to apply.
type ConflictKind int

const (
	ConflictNone ConflictKind = iota
	// ConflictStale means another commit moved the branch head after the attempt was
	// processed.  The whole attempt, processing included, must be run again.
	ConflictStale
)

func (k ConflictKind) String() string {
	switch k {
	case ConflictNone:
		return "none"
	case ConflictStale:
		return "stale"
	default:
		return fmt.Sprintf("ConflictKind(%d)", int(k))
	}
}

// Request is one logical commit on a branch.
type Request struct {
	Branch  store.BranchID
	UserID  string
	Comment string
	Changes []revision.Change
	// PreviousTime, when set, is the branch head the caller based its changes on.  The
	// branch head at processing time is used otherwise.
	PreviousTime *int64
}

// Attempt is a processed commit request waiting to be committed.
type Attempt struct {
	ID           string
	Branch       store.Branch
	PreviousTime int64
	Batch        *index.Batch
	ChangeSet    *index.ChangeSet
	done         bool
}

type Result struct {
	ID           string
	CommitTime   int64
	PreviousTime int64
	Conflict     ConflictKind
	Revisions    []store.Revision
}

func (r Result) Committed() bool {
	return r.Conflict == ConflictNone
}

// Err returns the conflict as an error: store.ErrStaleCommit for a stale attempt, nil for a
// committed one.
func (r Result) Err() error {
	switch r.Conflict {
	case ConflictNone:
		return nil
	case ConflictStale:
		return fmt.Errorf("commit %s based on %d: %w", r.ID, r.PreviousTime, store.ErrStaleCommit)
	default:
		return fmt.Errorf("commit %s: conflict %s", r.ID, r.Conflict)
	}
}

type Option func(*Orchestrator)

// WithTypes validates the fields of changed objects against the registry.
func WithTypes(types *metadata.Registry) Option {
	return func(o *Orchestrator) {
		o.types = types
	}
}

// Orchestrator runs the processors over pending commits and applies the primary store
// commit and the index commit as one unit.
type Orchestrator struct {
	repo   *repository.Store
	index  *index.Service
	types  *metadata.Registry
	logger logging.Logger

	mu         sync.RWMutex
	processors []index.ProcessorFactory

	branchLocks *xsync.MapOf[string, *sync.Mutex]
}

func New(repo *repository.Store, idx *index.Service, logger logging.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = logging.Default()
	}
	o := &Orchestrator{
		repo:        repo,
		index:       idx,
		logger:      logger.WithField(logging.ServiceNameFieldKey, "commit"),
		branchLocks: xsync.NewMapOf[*sync.Mutex](),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register adds a processor.  Processors run in registration order.
func (o *Orchestrator) Register(factory index.ProcessorFactory) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.processors = append(o.processors, factory)
}

func (o *Orchestrator) factories() []index.ProcessorFactory {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]index.ProcessorFactory(nil), o.processors...)
}

// Process runs every processor against req on a snapshot pinned at the branch read time
// and merges their output.  A commit in flight on the branch is waited for.  Nothing is
// written.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Attempt, error) {
	factories := o.factories()
	if len(factories) == 0 {
		return nil, ErrNoProcessors
	}
	id := xid.New().String()
	log := o.logger.WithContext(ctx).WithFields(logging.Fields{
		logging.CommitIDFieldKey: id,
		logging.BranchIDFieldKey: req.Branch,
		logging.UserFieldKey:     req.UserID,
	})

	snap, b, err := o.index.OpenSnapshot(ctx, req.Branch)
	if err != nil {
		return nil, err
	}
	defer snap.Close()

	previous := b.HeadTime
	if req.PreviousTime != nil {
		previous = *req.PreviousTime
	}
	batch := &index.Batch{
		Branch:  req.Branch,
		UserID:  req.UserID,
		Comment: req.Comment,
		Changes: req.Changes,
		Pending: index.NewChangeSet("commit " + id),
	}
	for _, factory := range factories {
		p := factory()
		if err := p.Process(ctx, batch, snap); err != nil {
			return nil, fmt.Errorf("processor %s: %w", p.Description(), err)
		}
		if err := batch.Pending.Merge(p); err != nil {
			log.WithError(err).WithField(logging.ProcessorFieldKey, p.Description()).Error("Change set collision")
			return nil, err
		}
	}
	changeSetSize.Observe(float64(batch.Pending.Size()))
	log.WithFields(logging.Fields{
		logging.PreviousTimeFieldKey: previous,
		"changes":                    len(req.Changes),
		"index_changes":              batch.Pending.Size(),
	}).Debug("Commit processed")
	return &Attempt{
		ID:           id,
		Branch:       *b,
		PreviousTime: previous,
		Batch:        batch,
		ChangeSet:    batch.Pending,
	}, nil
}

// Rollback drops a processed attempt.  Nothing was written for it.
func (o *Orchestrator) Rollback(a *Attempt) {
	a.done = true
}

func (o *Orchestrator) branchLock(b store.BranchID) *sync.Mutex {
	l, _ := o.branchLocks.LoadOrStore(strconv.Itoa(int(b)), &sync.Mutex{})
	return l
}

// Commit writes a processed attempt.  A stale attempt is reported as ConflictStale with a
// nil error.  Cancellation is honored until the primary store write begins.
func (o *Orchestrator) Commit(ctx context.Context, a *Attempt) (Result, error) {
	if a.done {
		return Result{}, ErrAttemptDone
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	a.done = true
	start := time.Now()
	res, err := o.commit(ctx, a)
	outcome := "committed"
	switch {
	case err != nil:
		outcome = "failed"
	case res.Conflict != ConflictNone:
		outcome = res.Conflict.String()
	}
	commitDurations.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return res, err
}

func (o *Orchestrator) commit(ctx context.Context, a *Attempt) (Result, error) {
	lock := o.branchLock(a.Branch.ID)
	lock.Lock()
	defer lock.Unlock()

	res := Result{ID: a.ID, PreviousTime: a.PreviousTime}
	log := o.logger.WithContext(ctx).WithFields(logging.Fields{
		logging.CommitIDFieldKey:     a.ID,
		logging.BranchIDFieldKey:     a.Branch.ID,
		logging.PreviousTimeFieldKey: a.PreviousTime,
	})

	head, err := o.repo.Branches().LoadBranch(ctx, a.Branch.ID)
	if err != nil {
		return res, err
	}
	if head.HeadTime != a.PreviousTime {
		log.WithField("head_time", head.HeadTime).Error("Stale commit attempt")
		res.Conflict = ConflictStale
		return res, nil
	}

	commitTime := o.repo.ReserveCommitTime(a.Branch)
	res.CommitTime = commitTime
	log = log.WithField(logging.CommitTimeFieldKey, commitTime)

	wtx := o.index.BeginWrite(a.Branch.ID, commitTime, a.ChangeSet)
	if err := wtx.Prepare(ctx); err != nil {
		return res, fmt.Errorf("prepare index commit: %w", err)
	}

	// the primary write is not interrupted once started
	writeCtx := context.WithoutCancel(ctx)
	err = o.repo.Pools().Write(writeCtx, func(tx store.Tx) error {
		if err := tx.CompareAndSetBranchHead(writeCtx, a.Branch.ID, a.PreviousTime, commitTime); err != nil {
			return err
		}
		changes, err := o.resolveChanges(writeCtx, tx, a.Batch.Changes, commitTime)
		if err != nil {
			return err
		}
		res.Revisions, err = revision.Write(writeCtx, tx, a.Branch.ID, commitTime, changes)
		if err != nil {
			return err
		}
		return tx.InsertCommitInfo(writeCtx, store.CommitInfo{
			CommitTime:   commitTime,
			PreviousTime: a.PreviousTime,
			BranchID:     a.Branch.ID,
			UserID:       a.Batch.UserID,
			Comment:      a.Batch.Comment,
		})
	})
	if err != nil {
		res.Revisions = nil
		if rbErr := wtx.Rollback(writeCtx); rbErr != nil {
			log.WithError(rbErr).Error("Discard index commit failed")
		}
		if errors.Is(err, store.ErrStaleCommit) {
			log.Error("Stale commit attempt")
			res.Conflict = ConflictStale
			return res, nil
		}
		log.WithError(err).Error("Primary store commit failed")
		return res, err
	}

	for _, c := range a.Batch.Changes {
		if c.Kind == revision.ChangeNew {
			o.repo.IDs().AdjustLastObjectID(c.ObjectID)
		}
	}
	if err := wtx.Commit(writeCtx); err != nil {
		// the pending index commit is published on the next recovery
		return res, fmt.Errorf("%w: commit %d: %s", ErrPublish, commitTime, err)
	}
	log.WithField("revisions", len(res.Revisions)).Debug("Commit done")
	return res, nil
}

// resolveChanges maps external references held in fields to local ids and validates the
// fields of every changed object.
func (o *Orchestrator) resolveChanges(ctx context.Context, tx store.Tx, changes []revision.Change, commitTime int64) ([]revision.Change, error) {
	resolved := make([]revision.Change, len(changes))
	for i, c := range changes {
		resolved[i] = c
		if c.Kind == revision.ChangeDetached {
			continue
		}
		fields := make(map[string]interface{}, len(c.Fields))
		for name, v := range c.Fields {
			id, ok := v.(ident.ObjectID)
			if ok && id.Kind() == ident.KindExternal {
				mapped, err := o.repo.ExternalRefs().MapTx(ctx, tx, id.URI(), commitTime)
				if err != nil {
					return nil, fmt.Errorf("map %s of %s: %w", name, c.ObjectID, err)
				}
				v = mapped
			}
			fields[name] = v
		}
		resolved[i].Fields = fields
		if o.types == nil {
			continue
		}
		t, err := o.types.Lookup(c.Type)
		if err != nil {
			return nil, err
		}
		if err := t.Validate(fields); err != nil {
			return nil, fmt.Errorf("object %s: %w", c.ObjectID, err)
		}
	}
	return resolved, nil
}

// Run processes and commits req once.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	a, err := o.Process(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return o.Commit(ctx, a)
}

// Recover resolves index commits left pending by a crash: published when the commit log
// holds their commit, discarded otherwise.
func (o *Orchestrator) Recover(ctx context.Context) (published, discarded int, err error) {
	committed := func(ctx context.Context, commitTime int64) (bool, error) {
		found := false
		err := o.repo.Pools().Read(ctx, func(tx store.Tx) error {
			_, err := tx.GetCommitInfo(ctx, commitTime)
			switch {
			case err == nil:
				found = true
				return nil
			case errors.Is(err, store.ErrNotFound):
				return nil
			default:
				return err
			}
		})
		return found, err
	}
	published, discarded, err = o.index.Recover(ctx, committed)
	if err != nil {
		return published, discarded, err
	}
	if published+discarded > 0 {
		o.logger.WithContext(ctx).WithFields(logging.Fields{
			"published": published,
			"discarded": discarded,
		}).Warn("Recovered pending index commits")
	}
	return published, discarded, nil
}
