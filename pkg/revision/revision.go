package revision

import (
	"context"
	"errors"
	"fmt"

	"github.com/treeverse/termstore/pkg/ident"
	"github.com/treeverse/termstore/pkg/store"
)

var (
	ErrDuplicateChange = errors.New("object changed twice in one commit")
	ErrNullID          = errors.New("null object id")
	ErrDetached        = errors.New("object detached")
)

// ChangeKind classifies one object of a pending commit.
type ChangeKind int

const (
	ChangeNew ChangeKind = iota
	ChangeDirty
	ChangeDetached
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeNew:
		return "new"
	case ChangeDirty:
		return "dirty"
	case ChangeDetached:
		return "detached"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// Change is the new state of one object in a pending commit.  Detached changes carry no
// fields.
type Change struct {
	Kind     ChangeKind
	ObjectID ident.ObjectID
	Type     string
	Fields   map[string]interface{}
}

// Write persists changes as revisions of branch committed at commitTime.  The current
// revision of a changed object is revised at commitTime and followed by the next version;
// detached objects get a negative version marker.
func Write(ctx context.Context, tx store.Tx, branch store.BranchID, commitTime int64, changes []Change) ([]store.Revision, error) {
	seen := make(map[ident.ObjectID]struct{}, len(changes))
	written := make([]store.Revision, 0, len(changes))
	for _, c := range changes {
		if c.ObjectID.IsNull() {
			return nil, ErrNullID
		}
		if _, ok := seen[c.ObjectID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateChange, c.ObjectID)
		}
		seen[c.ObjectID] = struct{}{}

		r, err := writeChange(ctx, tx, branch, commitTime, c)
		if err != nil {
			return nil, fmt.Errorf("%s object %s: %w", c.Kind, c.ObjectID, err)
		}
		written = append(written, r)
	}
	return written, nil
}

func writeChange(ctx context.Context, tx store.Tx, branch store.BranchID, commitTime int64, c Change) (store.Revision, error) {
	var version int32
	if c.Kind != ChangeNew {
		cur, err := tx.GetCurrentRevision(ctx, c.ObjectID, branch)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// first revision of an object inherited from the base branch
		case err != nil:
			return store.Revision{}, err
		default:
			if err := tx.ReviseRevision(ctx, c.ObjectID, branch, cur.Version, commitTime); err != nil {
				return store.Revision{}, err
			}
			version = cur.Version
			if version < 0 {
				version = -version
			}
		}
	}
	r := store.Revision{
		ObjectID:  c.ObjectID,
		BranchID:  branch,
		Version:   version + 1,
		Type:      c.Type,
		Fields:    c.Fields,
		CreatedAt: commitTime,
		RevisedAt: store.OpenRevision,
	}
	if c.Kind == ChangeDetached {
		r.Version = -r.Version
		r.Fields = nil
	}
	if err := tx.InsertRevision(ctx, r); err != nil {
		return store.Revision{}, err
	}
	return r, nil
}

// Get returns the revision of id visible at the first point of lineage holding one.
// Detached objects fail with ErrDetached, unknown ones with store.ErrNotFound.
func Get(ctx context.Context, tx store.Tx, lineage []store.BranchPoint, id ident.ObjectID) (*store.Revision, error) {
	for _, p := range lineage {
		r, err := tx.GetRevisionAt(ctx, id, p.BranchID, p.Time)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if r.IsDetached() {
			return nil, fmt.Errorf("%w: %s on branch %d", ErrDetached, id, p.BranchID)
		}
		return r, nil
	}
	return nil, fmt.Errorf("object %s: %w", id, store.ErrNotFound)
}

// History returns all revisions of id on branch, oldest first.
func History(ctx context.Context, tx store.Tx, branch store.BranchID, id ident.ObjectID) ([]store.Revision, error) {
	return tx.ListRevisions(ctx, id, branch)
}
