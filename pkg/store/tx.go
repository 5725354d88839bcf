package store

import (
	"context"

	"github.com/treeverse/termstore/pkg/ident"
)

type PropertyTx interface {
	// GetProperties returns the named properties that exist, all properties when no name is given.
	GetProperties(ctx context.Context, names ...string) (map[string]string, error)
	SetProperties(ctx context.Context, props map[string]string) error
	RemoveProperties(ctx context.Context, names ...string) error
}

type BranchTx interface {
	InsertBranch(ctx context.Context, b Branch) error
	GetBranch(ctx context.Context, id BranchID) (*Branch, error)
	ListSubBranches(ctx context.Context, baseID BranchID) ([]Branch, error)
	// ListBranches returns branches with from <= id <= to ordered by id.
	ListBranches(ctx context.Context, from, to BranchID) ([]Branch, error)
	// CompareAndSetBranchHead moves the branch head from prev to next, failing with
	// ErrStaleCommit when the current head is not prev.
	CompareAndSetBranchHead(ctx context.Context, id BranchID, prev, next int64) error
}

type CommitTx interface {
	InsertCommitInfo(ctx context.Context, ci CommitInfo) error
	GetCommitInfo(ctx context.Context, commitTime int64) (*CommitInfo, error)
	// ListCommitInfos visits commits with from <= commit_time <= to in time order.  A nil
	// branch visits commits of all branches.
	ListCommitInfos(ctx context.Context, branch *BranchID, from, to int64, fn func(CommitInfo) error) error
}

type RevisionTx interface {
	InsertRevision(ctx context.Context, r Revision) error
	// ReviseRevision closes the current revision with the given version at revisedAt.
	ReviseRevision(ctx context.Context, id ident.ObjectID, branch BranchID, version int32, revisedAt int64) error
	GetCurrentRevision(ctx context.Context, id ident.ObjectID, branch BranchID) (*Revision, error)
	GetRevisionAt(ctx context.Context, id ident.ObjectID, branch BranchID, t int64) (*Revision, error)
	// ListRevisions returns every revision of the object on the branch ordered by creation time.
	ListRevisions(ctx context.Context, id ident.ObjectID, branch BranchID) ([]Revision, error)
	// ListBranchRevisions visits the revisions of branch created in [from, to], ordered
	// by creation time and object id.
	ListBranchRevisions(ctx context.Context, branch BranchID, from, to int64, fn func(Revision) error) error
}

type ExternalRefTx interface {
	InsertExternalRef(ctx context.Context, ref ExternalRef) error
	// MapExternalRef inserts ref unless its uri is already mapped and returns the stored
	// mapping.  A mapping committed concurrently for the same uri is returned, not an error.
	MapExternalRef(ctx context.Context, ref ExternalRef) (*ExternalRef, error)
	GetExternalRef(ctx context.Context, id int64) (*ExternalRef, error)
	GetExternalRefByURI(ctx context.Context, uri string) (*ExternalRef, error)
	// MinExternalRefID returns the smallest mapped id, 0 when nothing is mapped.
	MinExternalRefID(ctx context.Context) (int64, error)
	ListExternalRefs(ctx context.Context, fn func(ExternalRef) error) error
}

type LockTx interface {
	InsertLockArea(ctx context.Context, area LockArea) error
	LockAreaExists(ctx context.Context, id string) (bool, error)
	// GetLockArea loads the area row without its locks.  forUpdate serializes concurrent
	// writers of the same area until the transaction ends.
	GetLockArea(ctx context.Context, id string, forUpdate bool) (*LockArea, error)
	UpdateLockArea(ctx context.Context, area LockArea) error
	DeleteLockArea(ctx context.Context, id string) error
	ListLockAreas(ctx context.Context, userIDPrefix string, fn func(LockArea) error) error

	// GetLockGrade returns LockNone for objects without a lock row.
	GetLockGrade(ctx context.Context, areaID string, id ident.ObjectID) (LockGrade, error)
	InsertLock(ctx context.Context, areaID string, id ident.ObjectID, grade LockGrade) error
	UpdateLock(ctx context.Context, areaID string, id ident.ObjectID, grade LockGrade) error
	DeleteLock(ctx context.Context, areaID string, id ident.ObjectID) error
	DeleteLocks(ctx context.Context, areaID string) (int64, error)
	ListLocks(ctx context.Context, areaID string, fn func(ident.ObjectID, LockGrade) error) error
}

// RecoveryTx exposes the aggregates used to re-derive counters after an unclean shutdown.
type RecoveryTx interface {
	// MaxBranchID returns the largest durable branch id.
	MaxBranchID(ctx context.Context) (BranchID, error)
	// MinBranchID returns the smallest local branch id, 0 when there is none.
	MinBranchID(ctx context.Context) (BranchID, error)
	// MaxCommitTime returns the latest commit time, on durable branches only when nonLocal.
	MaxCommitTime(ctx context.Context, nonLocal bool) (int64, error)
	// MaxObjectSeq returns the largest non-negative object sequence on durable branches.
	MaxObjectSeq(ctx context.Context) (int64, error)
	// MinLocalObjectSeq returns the smallest object sequence greater than above that appears
	// on a local branch.
	MinLocalObjectSeq(ctx context.Context, above int64) (int64, bool, error)
}

type QueryTx interface {
	QueryRows(ctx context.Context, query string, args ...interface{}) (*Rows, error)
}

// Tx is a transaction on one connection of a backend.
type Tx interface {
	PropertyTx
	BranchTx
	CommitTx
	RevisionTx
	ExternalRefTx
	LockTx
	RecoveryTx
	QueryTx

	ReadOnly() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Conn is a dedicated backend connection running one transaction at a time.
type Conn interface {
	Begin(ctx context.Context, readOnly bool) (Tx, error)
	// Reset rolls back the open transaction, if any.
	Reset(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

type Backend interface {
	// Setup creates the schema when missing.
	Setup(ctx context.Context) error
	Connect(ctx context.Context) (Conn, error)
	// DropAll removes every table and its data.
	DropAll(ctx context.Context) error
	Close()
}
