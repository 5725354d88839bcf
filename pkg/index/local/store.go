package local

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/go-co-op/gocron"
	"github.com/treeverse/termstore/pkg/index"
	"github.com/treeverse/termstore/pkg/logging"
	"github.com/treeverse/termstore/pkg/store"
)

const (
	tombstoneMeta byte   = 1
	branchSignBit uint32 = 1 << 31
)

var (
	dataPrefix    = []byte("d\x00")
	pendingPrefix = []byte("p\x00")
	entryPrefix   = []byte("q\x00")
)

// Store is an index kept in badger.  Document versions live under
// d/<branch>/<type>/<id>/<inverted commit time> so that a seek finds the latest version at
// or before a time.  A prepared commit is kept apart under p/<commit time> (its branch) and
// q/<commit time>/<type>/<id> (its entries) until it is resolved.
type Store struct {
	db     *badger.DB
	params index.LocalParams
	logger logging.Logger
	pool   pond.Pool

	mu          sync.Mutex
	maintenance index.Maintenance
	closed      bool
	scheduler   *gocron.Scheduler
}

func newStore(db *badger.DB, params index.LocalParams, logger logging.Logger) *Store {
	return &Store{
		db:     db,
		params: params,
		logger: logger,
		pool:   pond.NewPool(params.EncodeWorkers),
	}
}

func encodeBranch(b store.BranchID) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(b)^branchSignBit)
	return buf[:]
}

func decodeBranch(buf []byte) store.BranchID {
	return store.BranchID(int32(binary.BigEndian.Uint32(buf) ^ branchSignBit))
}

func encodeTime(t int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(t))
	return buf[:]
}

func invertTime(t int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.MaxUint64-uint64(t))
	return buf[:]
}

func join(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func typePrefix(b store.BranchID, docType string) []byte {
	return join(dataPrefix, encodeBranch(b), []byte(docType), []byte{0})
}

func docPrefix(b store.BranchID, k index.Key) []byte {
	return join(typePrefix(b, k.Type), []byte(k.ID), []byte{0})
}

func docKey(b store.BranchID, k index.Key, t int64) []byte {
	return join(docPrefix(b, k), invertTime(t))
}

func pendingKey(t int64) []byte {
	return join(pendingPrefix, encodeTime(t))
}

func entriesPrefix(t int64) []byte {
	return join(entryPrefix, encodeTime(t))
}

func entryKey(t int64, k index.Key) []byte {
	return join(entriesPrefix(t), []byte(k.Type), []byte{0}, []byte(k.ID))
}

func parseEntryKey(key []byte) (index.Key, error) {
	rest := key[len(entryPrefix)+8:]
	i := bytes.IndexByte(rest, 0)
	if i < 0 {
		return index.Key{}, fmt.Errorf("%w: entry key %q", store.ErrConsistency, key)
	}
	return index.Key{Type: string(rest[:i]), ID: string(rest[i+1:])}, nil
}

// chunkedWriter spreads writes over as many transactions as badger needs.
type chunkedWriter struct {
	db  *badger.DB
	txn *badger.Txn
}

func newChunkedWriter(db *badger.DB) *chunkedWriter {
	return &chunkedWriter{db: db, txn: db.NewTransaction(true)}
}

func (w *chunkedWriter) do(op func(txn *badger.Txn) error) error {
	err := op(w.txn)
	if !errors.Is(err, badger.ErrTxnTooBig) {
		return err
	}
	if err := w.txn.Commit(); err != nil {
		return err
	}
	w.txn = w.db.NewTransaction(true)
	return op(w.txn)
}

func (w *chunkedWriter) set(e *badger.Entry) error {
	return w.do(func(txn *badger.Txn) error { return txn.SetEntry(e) })
}

func (w *chunkedWriter) delete(key []byte) error {
	return w.do(func(txn *badger.Txn) error { return txn.Delete(key) })
}

func (w *chunkedWriter) commit() error {
	return w.txn.Commit()
}

func (w *chunkedWriter) discard() {
	w.txn.Discard()
}

func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return index.ErrClosed
	}
	return nil
}

func (s *Store) Snapshot(_ context.Context, lineage []store.BranchPoint) (index.Snapshot, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return &snapshot{
		txn:     s.db.NewTransaction(false),
		lineage: append([]store.BranchPoint(nil), lineage...),
	}, nil
}

type encoded struct {
	key   index.Key
	value []byte
	meta  byte
}

// encode serializes the documents of cs on the encoding pool.
func (s *Store) encode(ctx context.Context, cs *index.ChangeSet) ([]encoded, error) {
	docs := cs.Upserts()
	out := make([]encoded, len(docs), len(docs)+len(cs.Deleted))
	group := s.pool.NewGroup()
	for i, doc := range docs {
		group.SubmitErr(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			value, err := index.EncodeFields(doc.Fields)
			if err != nil {
				return fmt.Errorf("%s: %w", doc.Key, err)
			}
			out[i] = encoded{key: doc.Key, value: value}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	for _, k := range cs.Deletions() {
		out = append(out, encoded{key: k, meta: tombstoneMeta})
	}
	return out, nil
}

// Prepare writes the pending marker before its entries: a marker without all of its
// entries is discarded on recovery since its primary commit never happened.
func (s *Store) Prepare(ctx context.Context, branch store.BranchID, commitTime int64, cs *index.ChangeSet) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	entries, err := s.encode(ctx, cs)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(pendingKey(commitTime))
		switch {
		case err == nil:
			return fmt.Errorf("%w: %d", index.ErrAlreadyPending, commitTime)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.Set(pendingKey(commitTime), encodeBranch(branch))
	})
	if err != nil {
		return err
	}

	w := newChunkedWriter(s.db)
	for _, e := range entries {
		if err = w.set(badger.NewEntry(entryKey(commitTime, e.key), e.value).WithMeta(e.meta)); err != nil {
			break
		}
	}
	if err == nil {
		err = w.commit()
	} else {
		w.discard()
	}
	if err != nil {
		if discardErr := s.Resolve(ctx, commitTime, false); discardErr != nil {
			s.logger.WithContext(ctx).WithError(discardErr).WithField(logging.CommitTimeFieldKey, commitTime).
				Error("Failed to discard partially prepared commit")
		}
		return fmt.Errorf("prepare commit %d: %w", commitTime, err)
	}
	return nil
}

// Resolve moves the entries of a pending commit to the document space, or drops them.  An
// interrupted Resolve can be repeated: entries are removed as they are applied and the
// marker goes last.
func (s *Store) Resolve(_ context.Context, commitTime int64, publish bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	var branch store.BranchID
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pendingKey(commitTime))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("pending commit %d: %w", commitTime, index.ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 4 { //nolint:mnd
				return fmt.Errorf("%w: pending commit %d branch", store.ErrConsistency, commitTime)
			}
			branch = decodeBranch(val)
			return nil
		})
	})
	if err != nil {
		return err
	}

	w := newChunkedWriter(s.db)
	defer w.discard()
	read := s.db.NewTransaction(false)
	defer read.Discard()
	prefix := entriesPrefix(commitTime)
	it := read.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: publish})
	defer it.Close()
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		if publish {
			k, err := parseEntryKey(key)
			if err != nil {
				return err
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := w.set(badger.NewEntry(docKey(branch, k, commitTime), value).WithMeta(item.UserMeta())); err != nil {
				return err
			}
		}
		if err := w.delete(key); err != nil {
			return err
		}
	}
	if err := w.delete(pendingKey(commitTime)); err != nil {
		return err
	}
	return w.commit()
}

func (s *Store) PendingCommits(_ context.Context) ([]int64, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var times []int64
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: pendingPrefix})
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(pendingPrefix); it.Next() {
			key := it.Item().Key()
			times = append(times, int64(binary.BigEndian.Uint64(key[len(pendingPrefix):])))
		}
		return nil
	})
	return times, err
}

func (s *Store) SetMaintenance(m index.Maintenance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maintenance = m
	s.logger.WithField("maintenance", m).Info("Index maintenance state changed")
}

func (s *Store) Maintenance() index.Maintenance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maintenance
}

// CollectGarbage rewrites value log files until badger finds nothing worth rewriting.
func (s *Store) CollectGarbage() (int, error) {
	s.mu.Lock()
	m, closed := s.maintenance, s.closed
	s.mu.Unlock()
	if closed {
		return 0, index.ErrClosed
	}
	if m == index.MaintenanceDisabled {
		return 0, index.ErrMaintenanceDisabled
	}
	rewrites := 0
	for {
		err := s.db.RunValueLogGC(s.params.GCDiscardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return rewrites, nil
		}
		if err != nil {
			return rewrites, err
		}
		rewrites++
	}
}

func (s *Store) startGC() error {
	sched := gocron.NewScheduler(time.UTC)
	sched.SingletonModeAll()
	_, err := sched.Every(s.params.GCInterval).WaitForSchedule().Do(func() {
		rewrites, err := s.CollectGarbage()
		switch {
		case errors.Is(err, index.ErrMaintenanceDisabled):
			s.logger.Debug("Index value log GC skipped")
		case err != nil:
			s.logger.WithError(err).Warn("Index value log GC failed")
		case rewrites > 0:
			s.logger.WithField("rewrites", rewrites).Info("Index value log GC done")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule index gc: %w", err)
	}
	sched.StartAsync()
	s.mu.Lock()
	s.scheduler = sched
	s.mu.Unlock()
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sched := s.scheduler
	s.scheduler = nil
	s.mu.Unlock()

	if sched != nil {
		sched.Stop()
	}
	s.pool.StopAndWait()
	return s.db.Close()
}

type snapshot struct {
	txn     *badger.Txn
	lineage []store.BranchPoint
}

func (s *snapshot) Lineage() []store.BranchPoint {
	return s.lineage
}

// at reads the latest version of k on branch at or before t.
func (s *snapshot) at(b store.BranchID, k index.Key, t int64) (value []byte, deleted, found bool, err error) {
	prefix := docPrefix(b, k)
	it := s.txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()
	it.Seek(join(prefix, invertTime(t)))
	if !it.ValidForPrefix(prefix) {
		return nil, false, false, nil
	}
	item := it.Item()
	if item.UserMeta()&tombstoneMeta != 0 {
		return nil, true, true, nil
	}
	value, err = item.ValueCopy(nil)
	return value, false, true, err
}

func (s *snapshot) Get(ctx context.Context, k index.Key) (*index.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, p := range s.lineage {
		value, deleted, found, err := s.at(p.BranchID, k, p.Time)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		if deleted {
			break
		}
		fields, err := index.DecodeFields(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		return &index.Document{Key: k, Fields: fields}, nil
	}
	return nil, fmt.Errorf("%s: %w", k, index.ErrNotFound)
}

func (s *snapshot) Scan(ctx context.Context, docType string, fn func(index.Document) error) error {
	seen := make(map[string]struct{})
	var docs []index.Document
	for _, p := range s.lineage {
		if err := s.scanBranch(ctx, p, docType, seen, &docs); err != nil {
			return err
		}
	}
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

func (s *snapshot) scanBranch(ctx context.Context, p store.BranchPoint, docType string, seen map[string]struct{}, docs *[]index.Document) error {
	prefix := typePrefix(p.BranchID, docType)
	it := s.txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()
	minInverted := invertTime(p.Time)
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := it.Item()
		rest := item.Key()[len(prefix):]
		if len(rest) < 9 { //nolint:mnd
			return fmt.Errorf("%w: index key %q", store.ErrConsistency, item.Key())
		}
		id := string(rest[:len(rest)-9])
		if _, ok := seen[id]; ok {
			continue
		}
		if bytes.Compare(rest[len(rest)-8:], minInverted) < 0 {
			// committed after the snapshot point
			continue
		}
		seen[id] = struct{}{}
		if item.UserMeta()&tombstoneMeta != 0 {
			continue
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		fields, err := index.DecodeFields(value)
		if err != nil {
			return fmt.Errorf("%s/%s: %w", docType, id, err)
		}
		*docs = append(*docs, index.Document{Key: index.Key{Type: docType, ID: id}, Fields: fields})
	}
	return nil
}

func (s *snapshot) Close() {
	s.txn.Discard()
}
