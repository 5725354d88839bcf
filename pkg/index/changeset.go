package index

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/treeverse/termstore/pkg/revision"
	"github.com/treeverse/termstore/pkg/store"
)

var (
	ErrChangeSetCollision  = errors.New("change set key collision")
	ErrNotFound            = errors.New("not found")
	ErrAlreadyPending      = errors.New("commit already pending")
	ErrInvalidKey          = errors.New("invalid document key")
	ErrClosed              = errors.New("index closed")
	ErrDriverConfiguration = errors.New("driver configuration")
	ErrMaintenanceDisabled = errors.New("maintenance disabled")
)

// Key identifies one indexed document.
type Key struct {
	Type string
	ID   string
}

func (k Key) String() string {
	return k.Type + "/" + k.ID
}

func (k Key) Validate() error {
	if k.Type == "" || k.ID == "" || strings.ContainsRune(k.Type, 0) || strings.ContainsRune(k.ID, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, k.String())
	}
	return nil
}

// Document is the projection of one component into the index.
type Document struct {
	Key    Key
	Fields map[string]interface{}
}

// Change is a document replacing its previous projection.
type Change struct {
	Old Document
	New Document
}

// ChangeSet is the index mutation of one commit: documents to insert, documents to
// replace and keys to tombstone.  A key appears in at most one of the three.
type ChangeSet struct {
	Description string
	New         map[Key]Document
	Changed     map[Key]Change
	Deleted     map[Key]struct{}
}

func NewChangeSet(description string) *ChangeSet {
	return &ChangeSet{
		Description: description,
		New:         make(map[Key]Document),
		Changed:     make(map[Key]Change),
		Deleted:     make(map[Key]struct{}),
	}
}

func (cs *ChangeSet) contains(k Key) bool {
	if _, ok := cs.New[k]; ok {
		return true
	}
	if _, ok := cs.Changed[k]; ok {
		return true
	}
	_, ok := cs.Deleted[k]
	return ok
}

func (cs *ChangeSet) collision(k Key) error {
	return fmt.Errorf("%w: %s in %s", ErrChangeSetCollision, k, cs.Description)
}

func (cs *ChangeSet) AddNew(doc Document) error {
	if err := doc.Key.Validate(); err != nil {
		return err
	}
	if cs.contains(doc.Key) {
		return cs.collision(doc.Key)
	}
	cs.New[doc.Key] = doc
	return nil
}

// AddChanged files a replaced document.  Old and new projections are not compared: an
// unchanged projection still counts as a change.
func (cs *ChangeSet) AddChanged(c Change) error {
	k := c.New.Key
	if err := k.Validate(); err != nil {
		return err
	}
	if cs.contains(k) {
		return cs.collision(k)
	}
	cs.Changed[k] = c
	return nil
}

// AddDeleted files a tombstone.  Deleting a key twice is allowed.
func (cs *ChangeSet) AddDeleted(k Key) error {
	if err := k.Validate(); err != nil {
		return err
	}
	if _, ok := cs.Deleted[k]; ok {
		return nil
	}
	if cs.contains(k) {
		return cs.collision(k)
	}
	cs.Deleted[k] = struct{}{}
	return nil
}

// Merge adds the output of p.  Nothing is merged when a key of p is already present.
func (cs *ChangeSet) Merge(p Processor) error {
	newMappings := p.NewMappings()
	changed := p.ChangedMappings()
	deleted := p.Deletions()
	seen := make(map[Key]struct{}, len(newMappings)+len(changed)+len(deleted))
	check := func(k Key, allowDeleted bool) error {
		if err := k.Validate(); err != nil {
			return err
		}
		if _, ok := seen[k]; ok && !allowDeleted {
			return fmt.Errorf("%w: %s twice in %s", ErrChangeSetCollision, k, p.Description())
		}
		seen[k] = struct{}{}
		if allowDeleted {
			if _, ok := cs.Deleted[k]; ok {
				return nil
			}
		}
		if cs.contains(k) {
			return fmt.Errorf("%w: %s from %s", ErrChangeSetCollision, k, p.Description())
		}
		return nil
	}
	for k, doc := range newMappings {
		if doc.Key != k {
			return fmt.Errorf("%w: mapping %s holds document %s", ErrInvalidKey, k, doc.Key)
		}
		if err := check(k, false); err != nil {
			return err
		}
	}
	for k, c := range changed {
		if c.New.Key != k {
			return fmt.Errorf("%w: mapping %s holds document %s", ErrInvalidKey, k, c.New.Key)
		}
		if err := check(k, false); err != nil {
			return err
		}
	}
	for _, k := range deleted {
		if _, ok := newMappings[k]; ok {
			return fmt.Errorf("%w: %s new and deleted in %s", ErrChangeSetCollision, k, p.Description())
		}
		if _, ok := changed[k]; ok {
			return fmt.Errorf("%w: %s changed and deleted in %s", ErrChangeSetCollision, k, p.Description())
		}
		if err := check(k, true); err != nil {
			return err
		}
	}

	for k, doc := range newMappings {
		cs.New[k] = doc
	}
	for k, c := range changed {
		cs.Changed[k] = c
	}
	for _, k := range deleted {
		cs.Deleted[k] = struct{}{}
	}
	return nil
}

// Lookup returns the document the change set writes for k.  deleted reports a tombstone.
func (cs *ChangeSet) Lookup(k Key) (doc *Document, deleted bool, ok bool) {
	if d, found := cs.New[k]; found {
		return &d, false, true
	}
	if c, found := cs.Changed[k]; found {
		return &c.New, false, true
	}
	if _, found := cs.Deleted[k]; found {
		return nil, true, true
	}
	return nil, false, false
}

func (cs *ChangeSet) IsEmpty() bool {
	return cs.Size() == 0
}

func (cs *ChangeSet) Size() int {
	return len(cs.New) + len(cs.Changed) + len(cs.Deleted)
}

// Upserts returns every document written by the change set ordered by key.
func (cs *ChangeSet) Upserts() []Document {
	docs := make([]Document, 0, len(cs.New)+len(cs.Changed))
	for _, d := range cs.New {
		docs = append(docs, d)
	}
	for _, c := range cs.Changed {
		docs = append(docs, c.New)
	}
	sort.Slice(docs, func(i, j int) bool { return keyLess(docs[i].Key, docs[j].Key) })
	return docs
}

// Deletions returns the tombstoned keys ordered.
func (cs *ChangeSet) Deletions() []Key {
	keys := make([]Key, 0, len(cs.Deleted))
	for k := range cs.Deleted {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
	return keys
}

func keyLess(a, b Key) bool {
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	return a.ID < b.ID
}

// Batch is a pending primary store commit handed to the processors.
type Batch struct {
	Branch  store.BranchID
	UserID  string
	Comment string
	Changes []revision.Change
	// Pending holds the merged output of the processors that ran earlier in
	// registration order.
	Pending *ChangeSet
}
