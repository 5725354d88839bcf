package mem

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/treeverse/termstore/pkg/index"
	"github.com/treeverse/termstore/pkg/store"
)

const DriverName = "mem"

type Driver struct{}

// version is one document state at a commit time.
type version struct {
	time    int64
	fields  map[string]interface{}
	deleted bool
}

type pending struct {
	branch store.BranchID
	cs     *index.ChangeSet
}

// Store is an in-memory index.  Versions of a key are kept ordered by commit time.
type Store struct {
	mu       sync.RWMutex
	closed   bool
	branches map[store.BranchID]map[index.Key][]version
	pending  map[int64]pending
}

func New() *Store {
	return &Store{
		branches: make(map[store.BranchID]map[index.Key][]version),
		pending:  make(map[int64]pending),
	}
}

func (d *Driver) Open(_ context.Context, _ index.Params) (index.Store, error) {
	return New(), nil
}

func (s *Store) Snapshot(_ context.Context, lineage []store.BranchPoint) (index.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, index.ErrClosed
	}
	return &snapshot{store: s, lineage: append([]store.BranchPoint(nil), lineage...)}, nil
}

// Prepare copies the change set with normalized fields.
func (s *Store) Prepare(ctx context.Context, branch store.BranchID, commitTime int64, cs *index.ChangeSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := index.NewChangeSet(cs.Description)
	for k, doc := range cs.New {
		fields, err := index.NormalizeFields(doc.Fields)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		c.New[k] = index.Document{Key: k, Fields: fields}
	}
	for k, ch := range cs.Changed {
		fields, err := index.NormalizeFields(ch.New.Fields)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		c.Changed[k] = index.Change{Old: ch.Old, New: index.Document{Key: k, Fields: fields}}
	}
	for k := range cs.Deleted {
		c.Deleted[k] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return index.ErrClosed
	}
	if _, ok := s.pending[commitTime]; ok {
		return fmt.Errorf("%w: %d", index.ErrAlreadyPending, commitTime)
	}
	s.pending[commitTime] = pending{branch: branch, cs: c}
	return nil
}

func (s *Store) Resolve(_ context.Context, commitTime int64, publish bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return index.ErrClosed
	}
	p, ok := s.pending[commitTime]
	if !ok {
		return fmt.Errorf("pending commit %d: %w", commitTime, index.ErrNotFound)
	}
	delete(s.pending, commitTime)
	if !publish {
		return nil
	}
	for _, doc := range p.cs.Upserts() {
		s.put(p.branch, doc.Key, version{time: commitTime, fields: doc.Fields})
	}
	for _, k := range p.cs.Deletions() {
		s.put(p.branch, k, version{time: commitTime, deleted: true})
	}
	return nil
}

func (s *Store) put(branch store.BranchID, k index.Key, v version) {
	keys, ok := s.branches[branch]
	if !ok {
		keys = make(map[index.Key][]version)
		s.branches[branch] = keys
	}
	versions := keys[k]
	i := sort.Search(len(versions), func(i int) bool { return versions[i].time >= v.time })
	if i < len(versions) && versions[i].time == v.time {
		versions[i] = v
		return
	}
	versions = append(versions, version{})
	copy(versions[i+1:], versions[i:])
	versions[i] = v
	keys[k] = versions
}

func (s *Store) PendingCommits(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	times := make([]int64, 0, len(s.pending))
	for t := range s.pending {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	return times, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// at returns the latest version of k on branch committed at or before t.
func (s *Store) at(branch store.BranchID, k index.Key, t int64) (version, bool) {
	versions := s.branches[branch][k]
	i := sort.Search(len(versions), func(i int) bool { return versions[i].time > t })
	if i == 0 {
		return version{}, false
	}
	return versions[i-1], true
}

type snapshot struct {
	store   *Store
	lineage []store.BranchPoint
}

func (s *snapshot) Lineage() []store.BranchPoint {
	return s.lineage
}

func (s *snapshot) Get(_ context.Context, k index.Key) (*index.Document, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	for _, p := range s.lineage {
		v, ok := s.store.at(p.BranchID, k, p.Time)
		if !ok {
			continue
		}
		if v.deleted {
			break
		}
		return &index.Document{Key: k, Fields: v.fields}, nil
	}
	return nil, fmt.Errorf("%s: %w", k, index.ErrNotFound)
}

func (s *snapshot) Scan(ctx context.Context, docType string, fn func(index.Document) error) error {
	s.store.mu.RLock()
	seen := make(map[string]struct{})
	var docs []index.Document
	for _, p := range s.lineage {
		for k := range s.store.branches[p.BranchID] {
			if k.Type != docType {
				continue
			}
			if _, ok := seen[k.ID]; ok {
				continue
			}
			v, ok := s.store.at(p.BranchID, k, p.Time)
			if !ok {
				continue
			}
			seen[k.ID] = struct{}{}
			if !v.deleted {
				docs = append(docs, index.Document{Key: k, Fields: v.fields})
			}
		}
	}
	s.store.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool { return docs[i].Key.ID < docs[j].Key.ID })
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}

func (s *snapshot) Close() {}

//nolint:gochecknoinits
func init() {
	index.Register(DriverName, &Driver{})
}
