package mem

import (
	"github.com/treeverse/termstore/pkg/ident"
	"github.com/treeverse/termstore/pkg/store"
)

type revKey struct {
	id     ident.ObjectID
	branch store.BranchID
}

type lockKey struct {
	area string
	id   ident.ObjectID
}

// state is one committed version of all tables.  A committed state is never modified; write
// transactions work on a clone that replaces it on commit.
type state struct {
	properties map[string]string
	branches   map[store.BranchID]store.Branch
	commits    map[int64]store.CommitInfo
	areas      map[string]store.LockArea
	locks      map[lockKey]store.LockGrade
	refs       map[int64]store.ExternalRef
	refsByURI  map[string]int64
	revisions  map[revKey][]store.Revision
}

func newState() *state {
	return &state{
		properties: make(map[string]string),
		branches:   make(map[store.BranchID]store.Branch),
		commits:    make(map[int64]store.CommitInfo),
		areas:      make(map[string]store.LockArea),
		locks:      make(map[lockKey]store.LockGrade),
		refs:       make(map[int64]store.ExternalRef),
		refsByURI:  make(map[string]int64),
		revisions:  make(map[revKey][]store.Revision),
	}
}

func (s *state) clone() *state {
	c := &state{
		properties: make(map[string]string, len(s.properties)),
		branches:   make(map[store.BranchID]store.Branch, len(s.branches)),
		commits:    make(map[int64]store.CommitInfo, len(s.commits)),
		areas:      make(map[string]store.LockArea, len(s.areas)),
		locks:      make(map[lockKey]store.LockGrade, len(s.locks)),
		refs:       make(map[int64]store.ExternalRef, len(s.refs)),
		refsByURI:  make(map[string]int64, len(s.refsByURI)),
		revisions:  make(map[revKey][]store.Revision, len(s.revisions)),
	}
	for k, v := range s.properties {
		c.properties[k] = v
	}
	for k, v := range s.branches {
		c.branches[k] = v
	}
	for k, v := range s.commits {
		c.commits[k] = v
	}
	for k, v := range s.areas {
		c.areas[k] = v
	}
	for k, v := range s.locks {
		c.locks[k] = v
	}
	for k, v := range s.refs {
		c.refs[k] = v
	}
	for k, v := range s.refsByURI {
		c.refsByURI[k] = v
	}
	for k, v := range s.revisions {
		c.revisions[k] = append([]store.Revision(nil), v...)
	}
	return c
}
