package store

import (
	"errors"
	"fmt"
)

const (
	TableProperties   = "properties"
	TableBranches     = "branches"
	TableCommitInfos  = "commit_infos"
	TableLockAreas    = "lock_areas"
	TableLocks        = "locks"
	TableExternalRefs = "external_refs"
	TableRevisions    = "revisions"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrStaleCommit    = errors.New("stale previous commit time")
	ErrConsistency    = errors.New("consistency violation")
	ErrUnsupported    = errors.New("not supported")
	ErrInvalidValue   = errors.New("invalid value")
	ErrTxClosed       = errors.New("transaction closed")
	ErrTxInProgress   = errors.New("transaction already in progress")
	ErrReadOnly       = errors.New("read only transaction")
	ErrClosed         = errors.New("backend closed")
	ErrUnknownDriver  = errors.New("unknown driver")
	ErrConnectFailed  = errors.New("connect failed")
	ErrSetupFailed    = errors.New("setup failed")
	ErrDriverSettings = errors.New("driver configuration")
)

// Error is a failed backend operation on a table.
type Error struct {
	Op    string
	Table string
	Err   error
}

func (e *Error) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Table, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with the failing operation and table.  A nil err stays nil.
func NewError(op, table string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) && se.Op == op && se.Table == table {
		return err
	}
	return &Error{Op: op, Table: table, Err: err}
}
