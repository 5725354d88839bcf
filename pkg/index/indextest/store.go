package indextest

import (
	"context"
	"errors"
	"testing"

	"github.com/go-test/deep"
	"github.com/treeverse/termstore/pkg/index"
	"github.com/treeverse/termstore/pkg/store"
)

type MakeStore func(t *testing.T, ctx context.Context) index.Store

const (
	mainBranch store.BranchID = 0
	branch     store.BranchID = 1
)

var (
	keyA = index.Key{Type: "concept", ID: "1"}
	keyB = index.Key{Type: "concept", ID: "2"}
	keyC = index.Key{Type: "concept", ID: "3"}
	keyD = index.Key{Type: "description", ID: "1"}
)

func doc(k index.Key, term string) index.Document {
	return index.Document{Key: k, Fields: map[string]interface{}{"term": term}}
}

func TestDriver(t *testing.T, ms MakeStore) {
	t.Run("PrepareResolve", func(t *testing.T) { testPrepareResolve(t, ms) })
	t.Run("Discard", func(t *testing.T) { testDiscard(t, ms) })
	t.Run("AlreadyPending", func(t *testing.T) { testAlreadyPending(t, ms) })
	t.Run("Versions", func(t *testing.T) { testVersions(t, ms) })
	t.Run("Lineage", func(t *testing.T) { testLineage(t, ms) })
	t.Run("Scan", func(t *testing.T) { testScan(t, ms) })
	t.Run("SnapshotIsolation", func(t *testing.T) { testSnapshotIsolation(t, ms) })
	t.Run("Replay", func(t *testing.T) { testReplay(t, ms) })
	t.Run("Fields", func(t *testing.T) { testFields(t, ms) })
}

func commit(t *testing.T, ctx context.Context, s index.Store, b store.BranchID, commitTime int64, fill func(cs *index.ChangeSet) error) {
	t.Helper()
	cs := index.NewChangeSet("test")
	if err := fill(cs); err != nil {
		t.Fatalf("fill change set: %s", err)
	}
	if err := s.Prepare(ctx, b, commitTime, cs); err != nil {
		t.Fatalf("prepare %d: %s", commitTime, err)
	}
	if err := s.Resolve(ctx, commitTime, true); err != nil {
		t.Fatalf("publish %d: %s", commitTime, err)
	}
}

func snapshot(t *testing.T, ctx context.Context, s index.Store, lineage ...store.BranchPoint) index.Snapshot {
	t.Helper()
	snap, err := s.Snapshot(ctx, lineage)
	if err != nil {
		t.Fatalf("snapshot %v: %s", lineage, err)
	}
	t.Cleanup(snap.Close)
	return snap
}

func expectTerm(t *testing.T, ctx context.Context, snap index.Snapshot, k index.Key, term string) {
	t.Helper()
	d, err := snap.Get(ctx, k)
	if term == "" {
		if !errors.Is(err, index.ErrNotFound) {
			t.Fatalf("Get(%s) at %v: expected not found, got %v (err=%v)", k, snap.Lineage(), d, err)
		}
		return
	}
	if err != nil {
		t.Fatalf("Get(%s) at %v: %s", k, snap.Lineage(), err)
	}
	if d.Fields["term"] != term {
		t.Fatalf("Get(%s) at %v: term %v, expected %s", k, snap.Lineage(), d.Fields["term"], term)
	}
}

func at(b store.BranchID, t int64) store.BranchPoint {
	return store.BranchPoint{BranchID: b, Time: t}
}

func testPrepareResolve(t *testing.T, ms MakeStore) {
	ctx := context.Background()
	s := ms(t, ctx)

	cs := index.NewChangeSet("test")
	if err := cs.AddNew(doc(keyA, "heart")); err != nil {
		t.Fatal(err)
	}
	if err := cs.AddDeleted(keyB); err != nil {
		t.Fatal(err)
	}
	if err := s.Prepare(ctx, mainBranch, 100, cs); err != nil {
		t.Fatalf("prepare: %s", err)
	}
	pending, err := s.PendingCommits(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diffs := deep.Equal(pending, []int64{100}); diffs != nil {
		t.Fatalf("pending commits: %s", diffs)
	}
	expectTerm(t, ctx, snapshot(t, ctx, s, at(mainBranch, 200)), keyA, "")

	if err := s.Resolve(ctx, 100, true); err != nil {
		t.Fatalf("publish: %s", err)
	}
	pending, err = s.PendingCommits(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending commits after publish: %v", pending)
	}
	snap := snapshot(t, ctx, s, at(mainBranch, 200))
	expectTerm(t, ctx, snap, keyA, "heart")
	expectTerm(t, ctx, snap, keyB, "")
}

func testDiscard(t *testing.T, ms MakeStore) {
	ctx := context.Background()
	s := ms(t, ctx)

	cs := index.NewChangeSet("test")
	if err := cs.AddNew(doc(keyA, "heart")); err != nil {
		t.Fatal(err)
	}
	if err := s.Prepare(ctx, mainBranch, 100, cs); err != nil {
		t.Fatal(err)
	}
	if err := s.Resolve(ctx, 100, false); err != nil {
		t.Fatalf("discard: %s", err)
	}
	expectTerm(t, ctx, snapshot(t, ctx, s, at(mainBranch, 200)), keyA, "")
	if err := s.Resolve(ctx, 100, true); !errors.Is(err, index.ErrNotFound) {
		t.Fatalf("resolve of a discarded commit: expected ErrNotFound, got %v", err)
	}
}

func testAlreadyPending(t *testing.T, ms MakeStore) {
	ctx := context.Background()
	s := ms(t, ctx)

	if err := s.Prepare(ctx, mainBranch, 100, index.NewChangeSet("first")); err != nil {
		t.Fatal(err)
	}
	err := s.Prepare(ctx, branch, 100, index.NewChangeSet("second"))
	if !errors.Is(err, index.ErrAlreadyPending) {
		t.Fatalf("expected ErrAlreadyPending, got %v", err)
	}
}

func testVersions(t *testing.T, ms MakeStore) {
	ctx := context.Background()
	s := ms(t, ctx)

	commit(t, ctx, s, mainBranch, 100, func(cs *index.ChangeSet) error { return cs.AddNew(doc(keyA, "v1")) })
	commit(t, ctx, s, mainBranch, 200, func(cs *index.ChangeSet) error {
		return cs.AddChanged(index.Change{Old: doc(keyA, "v1"), New: doc(keyA, "v2")})
	})
	commit(t, ctx, s, mainBranch, 300, func(cs *index.ChangeSet) error { return cs.AddDeleted(keyA) })

	tests := []struct {
		time int64
		term string
	}{
		{time: 50},
		{time: 100, term: "v1"},
		{time: 150, term: "v1"},
		{time: 200, term: "v2"},
		{time: 299, term: "v2"},
		{time: 300},
		{time: 1000},
	}
	for _, tt := range tests {
		expectTerm(t, ctx, snapshot(t, ctx, s, at(mainBranch, tt.time)), keyA, tt.term)
	}
}

func testLineage(t *testing.T, ms MakeStore) {
	ctx := context.Background()
	s := ms(t, ctx)

	commit(t, ctx, s, mainBranch, 100, func(cs *index.ChangeSet) error { return cs.AddNew(doc(keyA, "main-v1")) })
	commit(t, ctx, s, mainBranch, 200, func(cs *index.ChangeSet) error {
		return cs.AddChanged(index.Change{Old: doc(keyA, "main-v1"), New: doc(keyA, "main-v2")})
	})
	// branch is based on main at 150
	commit(t, ctx, s, branch, 300, func(cs *index.ChangeSet) error { return cs.AddDeleted(keyA) })
	commit(t, ctx, s, branch, 310, func(cs *index.ChangeSet) error { return cs.AddNew(doc(keyB, "branch-only")) })

	expectTerm(t, ctx, snapshot(t, ctx, s, at(branch, 250), at(mainBranch, 150)), keyA, "main-v1")
	expectTerm(t, ctx, snapshot(t, ctx, s, at(branch, 400), at(mainBranch, 150)), keyA, "")
	expectTerm(t, ctx, snapshot(t, ctx, s, at(branch, 400), at(mainBranch, 150)), keyB, "branch-only")
	expectTerm(t, ctx, snapshot(t, ctx, s, at(mainBranch, 400)), keyA, "main-v2")
	expectTerm(t, ctx, snapshot(t, ctx, s, at(mainBranch, 400)), keyB, "")
}

func testScan(t *testing.T, ms MakeStore) {
	ctx := context.Background()
	s := ms(t, ctx)

	commit(t, ctx, s, mainBranch, 100, func(cs *index.ChangeSet) error {
		for _, d := range []index.Document{doc(keyA, "a"), doc(keyB, "b"), doc(keyC, "c"), doc(keyD, "d")} {
			if err := cs.AddNew(d); err != nil {
				return err
			}
		}
		return nil
	})
	commit(t, ctx, s, branch, 200, func(cs *index.ChangeSet) error {
		if err := cs.AddChanged(index.Change{Old: doc(keyA, "a"), New: doc(keyA, "a-branch")}); err != nil {
			return err
		}
		return cs.AddDeleted(keyB)
	})
	commit(t, ctx, s, branch, 300, func(cs *index.ChangeSet) error {
		return cs.AddChanged(index.Change{Old: doc(keyC, "c"), New: doc(keyC, "c-later")})
	})

	snap := snapshot(t, ctx, s, at(branch, 250), at(mainBranch, 150))
	var got []string
	err := snap.Scan(ctx, "concept", func(d index.Document) error {
		got = append(got, d.Key.ID+"="+d.Fields["term"].(string))
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %s", err)
	}
	if diffs := deep.Equal(got, []string{"1=a-branch", "3=c"}); diffs != nil {
		t.Fatalf("scan: %s", diffs)
	}
}

func testSnapshotIsolation(t *testing.T, ms MakeStore) {
	ctx := context.Background()
	s := ms(t, ctx)

	commit(t, ctx, s, mainBranch, 100, func(cs *index.ChangeSet) error { return cs.AddNew(doc(keyA, "before")) })
	snap := snapshot(t, ctx, s, at(mainBranch, 100))
	commit(t, ctx, s, mainBranch, 200, func(cs *index.ChangeSet) error {
		return cs.AddChanged(index.Change{Old: doc(keyA, "before"), New: doc(keyA, "after")})
	})
	commit(t, ctx, s, mainBranch, 201, func(cs *index.ChangeSet) error { return cs.AddNew(doc(keyB, "new")) })

	expectTerm(t, ctx, snap, keyA, "before")
	expectTerm(t, ctx, snap, keyB, "")
	expectTerm(t, ctx, snapshot(t, ctx, s, at(mainBranch, 201)), keyA, "after")
}

func testReplay(t *testing.T, ms MakeStore) {
	ctx := context.Background()
	s := ms(t, ctx)

	fill := func(cs *index.ChangeSet) error {
		if err := cs.AddNew(doc(keyA, "a")); err != nil {
			return err
		}
		return cs.AddDeleted(keyB)
	}
	commit(t, ctx, s, mainBranch, 100, func(cs *index.ChangeSet) error { return cs.AddNew(doc(keyB, "b")) })
	commit(t, ctx, s, mainBranch, 200, fill)
	commit(t, ctx, s, mainBranch, 200, fill)

	snap := snapshot(t, ctx, s, at(mainBranch, 300))
	expectTerm(t, ctx, snap, keyA, "a")
	expectTerm(t, ctx, snap, keyB, "")
	expectTerm(t, ctx, snapshot(t, ctx, s, at(mainBranch, 150)), keyB, "b")
}

func testFields(t *testing.T, ms MakeStore) {
	ctx := context.Background()
	s := ms(t, ctx)

	commit(t, ctx, s, mainBranch, 100, func(cs *index.ChangeSet) error {
		return cs.AddNew(index.Document{Key: keyA, Fields: map[string]interface{}{
			"term":     "heart",
			"rank":     3,
			"active":   true,
			"synonyms": []string{"cor", "cardia"},
			"extra":    map[string]interface{}{"lang": "en"},
		}})
	})
	d, err := snapshot(t, ctx, s, at(mainBranch, 100)).Get(ctx, keyA)
	if err != nil {
		t.Fatal(err)
	}
	expected := map[string]interface{}{
		"term":     "heart",
		"rank":     float64(3),
		"active":   true,
		"synonyms": []interface{}{"cor", "cardia"},
		"extra":    map[string]interface{}{"lang": "en"},
	}
	if diffs := deep.Equal(d.Fields, expected); diffs != nil {
		t.Fatalf("fields: %s", diffs)
	}
}
