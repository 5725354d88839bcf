package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-test/deep"
	"github.com/treeverse/termstore/pkg/db/params"
	"github.com/treeverse/termstore/pkg/ident"
	"github.com/treeverse/termstore/pkg/store"
)

type MakeBackend func(t *testing.T, ctx context.Context) store.Backend

// MakeBackendByName opens a clean backend of the named driver for every test.
func MakeBackendByName(name string, pg *params.Database) MakeBackend {
	return func(t *testing.T, ctx context.Context) store.Backend {
		t.Helper()
		handler, err := ident.NewHandler(ident.StrategyLong)
		if err != nil {
			t.Fatal(err)
		}
		backend, err := store.Open(ctx, store.Params{Type: name, Postgres: pg, Parser: handler})
		if err != nil {
			t.Fatalf("failed to open backend '%s': %s", name, err)
		}
		t.Cleanup(backend.Close)
		if err := backend.DropAll(ctx); err != nil {
			t.Fatalf("failed to drop tables: %s", err)
		}
		if err := backend.Setup(ctx); err != nil {
			t.Fatalf("failed to setup backend: %s", err)
		}
		return backend
	}
}

func TestDriver(t *testing.T, name string, pg *params.Database) {
	mb := MakeBackendByName(name, pg)
	t.Run("Properties", func(t *testing.T) { testProperties(t, mb) })
	t.Run("Branches", func(t *testing.T) { testBranches(t, mb) })
	t.Run("BranchHead", func(t *testing.T) { testBranchHead(t, mb) })
	t.Run("CommitInfos", func(t *testing.T) { testCommitInfos(t, mb) })
	t.Run("Revisions", func(t *testing.T) { testRevisions(t, mb) })
	t.Run("ExternalRefs", func(t *testing.T) { testExternalRefs(t, mb) })
	t.Run("LockAreas", func(t *testing.T) { testLockAreas(t, mb) })
	t.Run("Locks", func(t *testing.T) { testLocks(t, mb) })
	t.Run("Recovery", func(t *testing.T) { testRecovery(t, mb) })
	t.Run("Isolation", func(t *testing.T) { testIsolation(t, mb) })
	t.Run("Reset", func(t *testing.T) { testReset(t, mb) })
}

func connect(t *testing.T, ctx context.Context, backend store.Backend) store.Conn {
	t.Helper()
	c, err := backend.Connect(ctx)
	if err != nil {
		t.Fatalf("connect: %s", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// write runs fn in a committed write transaction on a new connection.
func write(t *testing.T, ctx context.Context, backend store.Backend, fn func(tx store.Tx) error) error {
	t.Helper()
	c := connect(t, ctx, backend)
	tx, err := c.Begin(ctx, false)
	if err != nil {
		t.Fatalf("begin: %s", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func read(t *testing.T, ctx context.Context, backend store.Backend, fn func(tx store.Tx)) {
	t.Helper()
	c := connect(t, ctx, backend)
	tx, err := c.Begin(ctx, true)
	if err != nil {
		t.Fatalf("begin: %s", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	fn(tx)
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func expectErr(t *testing.T, err, expected error) {
	t.Helper()
	if !errors.Is(err, expected) {
		t.Fatalf("expected error %v, got %v", expected, err)
	}
}

func testProperties(t *testing.T, mb MakeBackend) {
	ctx := context.Background()
	backend := mb(t, ctx)

	must(t, write(t, ctx, backend, func(tx store.Tx) error {
		return tx.SetProperties(ctx, map[string]string{"a": "1", "b": "2", "c": "3"})
	}))
	must(t, write(t, ctx, backend, func(tx store.Tx) error {
		if err := tx.SetProperties(ctx, map[string]string{"a": "10"}); err != nil {
			return err
		}
		return tx.RemoveProperties(ctx, "c", "missing")
	}))
	read(t, ctx, backend, func(tx store.Tx) {
		all, err := tx.GetProperties(ctx)
		must(t, err)
		if diff := deep.Equal(all, map[string]string{"a": "10", "b": "2"}); diff != nil {
			t.Fatalf("properties diff: %s", diff)
		}
		some, err := tx.GetProperties(ctx, "b", "c")
		must(t, err)
		if diff := deep.Equal(some, map[string]string{"b": "2"}); diff != nil {
			t.Fatalf("named properties diff: %s", diff)
		}
	})
}

func testBranches(t *testing.T, mb MakeBackend) {
	ctx := context.Background()
	backend := mb(t, ctx)

	main := store.Branch{ID: store.MainBranchID, Name: store.MainBranchName, BaseBranchID: store.MainBranchID, BaseTimestamp: 1}
	b1 := store.Branch{ID: 1, Name: "b1", BaseBranchID: 0, BaseTimestamp: 100}
	b2 := store.Branch{ID: 2, Name: "b2", BaseBranchID: 1, BaseTimestamp: 200}
	local := store.Branch{ID: -1, Name: "local", BaseBranchID: 0, BaseTimestamp: 300}
	must(t, write(t, ctx, backend, func(tx store.Tx) error {
		for _, b := range []store.Branch{main, b1, b2, local} {
			if err := tx.InsertBranch(ctx, b); err != nil {
				return err
			}
		}
		return nil
	}))

	err := write(t, ctx, backend, func(tx store.Tx) error {
		return tx.InsertBranch(ctx, store.Branch{ID: 1, Name: "again"})
	})
	expectErr(t, err, store.ErrAlreadyExists)

	read(t, ctx, backend, func(tx store.Tx) {
		got, err := tx.GetBranch(ctx, 1)
		must(t, err)
		if diff := deep.Equal(*got, b1); diff != nil {
			t.Fatalf("branch diff: %s", diff)
		}
		_, err = tx.GetBranch(ctx, 42)
		expectErr(t, err, store.ErrNotFound)
		var se *store.Error
		if !errors.As(err, &se) || se.Table != store.TableBranches {
			t.Fatalf("expected store error on branches table, got %v", err)
		}

		subs, err := tx.ListSubBranches(ctx, store.MainBranchID)
		must(t, err)
		if diff := deep.Equal(subs, []store.Branch{local, b1}); diff != nil {
			t.Fatalf("sub branches diff: %s", diff)
		}

		durable, err := tx.ListBranches(ctx, 0, 1000)
		must(t, err)
		if diff := deep.Equal(durable, []store.Branch{main, b1, b2}); diff != nil {
			t.Fatalf("branch range diff: %s", diff)
		}
	})
}

func testBranchHead(t *testing.T, mb MakeBackend) {
	ctx := context.Background()
	backend := mb(t, ctx)
	must(t, write(t, ctx, backend, func(tx store.Tx) error {
		return tx.InsertBranch(ctx, store.Branch{ID: 0, Name: store.MainBranchName})
	}))
	must(t, write(t, ctx, backend, func(tx store.Tx) error {
		return tx.CompareAndSetBranchHead(ctx, 0, 0, 500)
	}))
	err := write(t, ctx, backend, func(tx store.Tx) error {
		return tx.CompareAndSetBranchHead(ctx, 0, 0, 600)
	})
	expectErr(t, err, store.ErrStaleCommit)
	err = write(t, ctx, backend, func(tx store.Tx) error {
		return tx.CompareAndSetBranchHead(ctx, 7, 0, 600)
	})
	expectErr(t, err, store.ErrNotFound)
	read(t, ctx, backend, func(tx store.Tx) {
		b, err := tx.GetBranch(ctx, 0)
		must(t, err)
		if b.HeadTime != 500 {
			t.Fatalf("head time %d, expected 500", b.HeadTime)
		}
	})
}

func testCommitInfos(t *testing.T, mb MakeBackend) {
	ctx := context.Background()
	backend := mb(t, ctx)
	commits := []store.CommitInfo{
		{CommitTime: 100, PreviousTime: 0, BranchID: 0, UserID: "u", Comment: "first"},
		{CommitTime: 150, PreviousTime: 0, BranchID: 1, UserID: "u", Comment: "on b1"},
		{CommitTime: 200, PreviousTime: 100, BranchID: 0, UserID: "v", Comment: "second"},
	}
	must(t, write(t, ctx, backend, func(tx store.Tx) error {
		for _, ci := range commits {
			if err := tx.InsertCommitInfo(ctx, ci); err != nil {
				return err
			}
		}
		return nil
	}))
	err := write(t, ctx, backend, func(tx store.Tx) error {
		return tx.InsertCommitInfo(ctx, store.CommitInfo{CommitTime: 150, BranchID: 0})
	})
	expectErr(t, err, store.ErrAlreadyExists)

	read(t, ctx, backend, func(tx store.Tx) {
		ci, err := tx.GetCommitInfo(ctx, 200)
		must(t, err)
		if diff := deep.Equal(*ci, commits[2]); diff != nil {
			t.Fatalf("commit info diff: %s", diff)
		}
		_, err = tx.GetCommitInfo(ctx, 201)
		expectErr(t, err, store.ErrNotFound)

		var all []store.CommitInfo
		must(t, tx.ListCommitInfos(ctx, nil, 0, 1000, func(ci store.CommitInfo) error {
			all = append(all, ci)
			return nil
		}))
		if diff := deep.Equal(all, commits); diff != nil {
			t.Fatalf("commit list diff: %s", diff)
		}
		main := store.MainBranchID
		var onMain []int64
		must(t, tx.ListCommitInfos(ctx, &main, 150, 1000, func(ci store.CommitInfo) error {
			onMain = append(onMain, ci.CommitTime)
			return nil
		}))
		if diff := deep.Equal(onMain, []int64{200}); diff != nil {
			t.Fatalf("main commits diff: %s", diff)
		}
	})
}

func testRevisions(t *testing.T, mb MakeBackend) {
	ctx := context.Background()
	backend := mb(t, ctx)
	obj := ident.Long(7)
	v1 := store.Revision{ObjectID: obj, BranchID: 0, Version: 1, Type: "concept",
		Fields: map[string]interface{}{"term": "heart"}, CreatedAt: 100}
	must(t, write(t, ctx, backend, func(tx store.Tx) error {
		return tx.InsertRevision(ctx, v1)
	}))

	err := write(t, ctx, backend, func(tx store.Tx) error {
		return tx.InsertRevision(ctx, store.Revision{ObjectID: obj, BranchID: 0, Version: 2, Type: "concept", CreatedAt: 150})
	})
	expectErr(t, err, store.ErrAlreadyExists)

	v2 := store.Revision{ObjectID: obj, BranchID: 0, Version: 2, Type: "concept",
		Fields: map[string]interface{}{"term": "cardiac"}, CreatedAt: 200}
	must(t, write(t, ctx, backend, func(tx store.Tx) error {
		if err := tx.ReviseRevision(ctx, obj, 0, 1, 200); err != nil {
			return err
		}
		return tx.InsertRevision(ctx, v2)
	}))
	err = write(t, ctx, backend, func(tx store.Tx) error {
		return tx.ReviseRevision(ctx, obj, 0, 1, 300)
	})
	expectErr(t, err, store.ErrNotFound)

	read(t, ctx, backend, func(tx store.Tx) {
		cur, err := tx.GetCurrentRevision(ctx, obj, 0)
		must(t, err)
		if diff := deep.Equal(*cur, v2); diff != nil {
			t.Fatalf("current revision diff: %s", diff)
		}
		at, err := tx.GetRevisionAt(ctx, obj, 0, 199)
		must(t, err)
		if at.Version != 1 || at.RevisedAt != 200 {
			t.Fatalf("revision at 199: %+v", at)
		}
		at, err = tx.GetRevisionAt(ctx, obj, 0, 200)
		must(t, err)
		if at.Version != 2 {
			t.Fatalf("revision at 200: %+v", at)
		}
		_, err = tx.GetRevisionAt(ctx, obj, 0, 99)
		expectErr(t, err, store.ErrNotFound)
		_, err = tx.GetCurrentRevision(ctx, obj, 1)
		expectErr(t, err, store.ErrNotFound)

		all, err := tx.ListRevisions(ctx, obj, 0)
		must(t, err)
		if len(all) != 2 || all[0].Version != 1 || all[1].Version != 2 {
			t.Fatalf("revision history: %+v", all)
		}
	})

	other := store.Revision{ObjectID: ident.Long(3), BranchID: 0, Version: 1, Type: "concept",
		Fields: map[string]interface{}{"term": "lung"}, CreatedAt: 200}
	onBranch := store.Revision{ObjectID: ident.Long(3), BranchID: 1, Version: 1, Type: "concept",
		Fields: map[string]interface{}{"term": "lung"}, CreatedAt: 200}
	must(t, write(t, ctx, backend, func(tx store.Tx) error {
		if err := tx.InsertRevision(ctx, other); err != nil {
			return err
		}
		return tx.InsertRevision(ctx, onBranch)
	}))
	read(t, ctx, backend, func(tx store.Tx) {
		var visited []string
		err := tx.ListBranchRevisions(ctx, 0, 150, 300, func(r store.Revision) error {
			visited = append(visited, fmt.Sprintf("%s@%d", r.ObjectID, r.CreatedAt))
			return nil
		})
		must(t, err)
		if diff := deep.Equal(visited, []string{"3@200", "7@200"}); diff != nil {
			t.Fatalf("branch revisions: %s", diff)
		}
	})
}

func testExternalRefs(t *testing.T, mb MakeBackend) {
	ctx := context.Background()
	backend := mb(t, ctx)
	read(t, ctx, backend, func(tx store.Tx) {
		minID, err := tx.MinExternalRefID(ctx)
		must(t, err)
		if minID != 0 {
			t.Fatalf("min id of empty table %d", minID)
		}
	})
	refs := []store.ExternalRef{
		{ID: -1, URI: "urn:x:1", CommitTime: 10},
		{ID: -2, URI: "urn:x:2", CommitTime: 20},
	}
	must(t, write(t, ctx, backend, func(tx store.Tx) error {
		for _, ref := range refs {
			if err := tx.InsertExternalRef(ctx, ref); err != nil {
				return err
			}
		}
		return nil
	}))
	err := write(t, ctx, backend, func(tx store.Tx) error {
		return tx.InsertExternalRef(ctx, store.ExternalRef{ID: -3, URI: "urn:x:1", CommitTime: 30})
	})
	expectErr(t, err, store.ErrAlreadyExists)
	err = write(t, ctx, backend, func(tx store.Tx) error {
		return tx.InsertExternalRef(ctx, store.ExternalRef{ID: 3, URI: "urn:x:3", CommitTime: 30})
	})
	expectErr(t, err, store.ErrInvalidValue)

	must(t, write(t, ctx, backend, func(tx store.Tx) error {
		ref, err := tx.MapExternalRef(ctx, store.ExternalRef{ID: -4, URI: "urn:x:2", CommitTime: 40})
		if err != nil {
			return err
		}
		if diff := deep.Equal(*ref, refs[1]); diff != nil {
			t.Fatalf("mapped existing uri diff: %s", diff)
		}
		return nil
	}))

	read(t, ctx, backend, func(tx store.Tx) {
		ref, err := tx.GetExternalRefByURI(ctx, "urn:x:2")
		must(t, err)
		if diff := deep.Equal(*ref, refs[1]); diff != nil {
			t.Fatalf("ref by uri diff: %s", diff)
		}
		ref, err = tx.GetExternalRef(ctx, -1)
		must(t, err)
		if ref.URI != "urn:x:1" {
			t.Fatalf("ref -1 uri %s", ref.URI)
		}
		_, err = tx.GetExternalRef(ctx, -9)
		expectErr(t, err, store.ErrNotFound)
		minID, err := tx.MinExternalRefID(ctx)
		must(t, err)
		if minID != -2 {
			t.Fatalf("min id %d, expected -2", minID)
		}
		_, err = tx.GetExternalRef(ctx, -4)
		expectErr(t, err, store.ErrNotFound)
		var listed []store.ExternalRef
		must(t, tx.ListExternalRefs(ctx, func(ref store.ExternalRef) error {
			listed = append(listed, ref)
			return nil
		}))
		if diff := deep.Equal(listed, refs); diff != nil {
			t.Fatalf("listed refs diff: %s", diff)
		}
	})
}

func testLockAreas(t *testing.T, mb MakeBackend) {
	ctx := context.Background()
	backend := mb(t, ctx)
	a1 := store.LockArea{ID: "a1", UserID: "alice", BranchPoint: store.BranchPoint{BranchID: 0, Time: 100}}
	a2 := store.LockArea{ID: "a2", UserID: "alex", BranchPoint: store.BranchPoint{BranchID: 1, Time: 200}, ReadOnly: true}
	a3 := store.LockArea{ID: "a3", UserID: "bob", BranchPoint: store.BranchPoint{BranchID: 0, Time: 300}}
	must(t, write(t, ctx, backend, func(tx store.Tx) error {
		for _, a := range []store.LockArea{a1, a2, a3} {
			if err := tx.InsertLockArea(ctx, a); err != nil {
				return err
			}
		}
		return nil
	}))
	err := write(t, ctx, backend, func(tx store.Tx) error {
		return tx.InsertLockArea(ctx, a1)
	})
	expectErr(t, err, store.ErrAlreadyExists)

	a1.ReadOnly = true
	a1.BranchPoint.Time = 150
	must(t, write(t, ctx, backend, func(tx store.Tx) error {
		got, err := tx.GetLockArea(ctx, "a1", true)
		if err != nil {
			return err
		}
		got.ReadOnly = true
		got.BranchPoint.Time = 150
		return tx.UpdateLockArea(ctx, *got)
	}))
	err = write(t, ctx, backend, func(tx store.Tx) error {
		return tx.UpdateLockArea(ctx, store.LockArea{ID: "missing"})
	})
	expectErr(t, err, store.ErrNotFound)

	read(t, ctx, backend, func(tx store.Tx) {
		got, err := tx.GetLockArea(ctx, "a1", false)
		must(t, err)
		if diff := deep.Equal(*got, a1); diff != nil {
			t.Fatalf("lock area diff: %s", diff)
		}
		exists, err := tx.LockAreaExists(ctx, "a2")
		must(t, err)
		if !exists {
			t.Fatal("expected a2 to exist")
		}
		exists, err = tx.LockAreaExists(ctx, "nope")
		must(t, err)
		if exists {
			t.Fatal("expected nope not to exist")
		}
		var ids []string
		must(t, tx.ListLockAreas(ctx, "al", func(a store.LockArea) error {
			ids = append(ids, a.ID)
			return nil
		}))
		if diff := deep.Equal(ids, []string{"a1", "a2"}); diff != nil {
			t.Fatalf("listed areas diff: %s", diff)
		}
	})

	must(t, write(t, ctx, backend, func(tx store.Tx) error {
		return tx.DeleteLockArea(ctx, "a3")
	}))
	err = write(t, ctx, backend, func(tx store.Tx) error {
		return tx.DeleteLockArea(ctx, "a3")
	})
	expectErr(t, err, store.ErrNotFound)
}

func testLocks(t *testing.T, mb MakeBackend) {
	ctx := context.Background()
	backend := mb(t, ctx)
	must(t, write(t, ctx, backend, func(tx store.Tx) error {
		return tx.InsertLockArea(ctx, store.LockArea{ID: "area", UserID: "u"})
	}))
	must(t, write(t, ctx, backend, func(tx store.Tx) error {
		if err := tx.InsertLock(ctx, "area", ident.Long(1), store.LockWrite); err != nil {
			return err
		}
		if err := tx.InsertLock(ctx, "area", ident.Long(2), store.LockRead); err != nil {
			return err
		}
		return tx.UpdateLock(ctx, "area", ident.Long(1), store.LockWrite|store.LockRead)
	}))
	err := write(t, ctx, backend, func(tx store.Tx) error {
		return tx.InsertLock(ctx, "area", ident.Long(2), store.LockWrite)
	})
	expectErr(t, err, store.ErrAlreadyExists)
	err = write(t, ctx, backend, func(tx store.Tx) error {
		return tx.UpdateLock(ctx, "area", ident.Long(3), store.LockWrite)
	})
	expectErr(t, err, store.ErrNotFound)

	read(t, ctx, backend, func(tx store.Tx) {
		g, err := tx.GetLockGrade(ctx, "area", ident.Long(1))
		must(t, err)
		if g != store.LockRead|store.LockWrite {
			t.Fatalf("grade %s", g)
		}
		g, err = tx.GetLockGrade(ctx, "area", ident.Long(3))
		must(t, err)
		if g != store.LockNone {
			t.Fatalf("grade of unlocked object %s", g)
		}
		locks := map[ident.ObjectID]store.LockGrade{}
		must(t, tx.ListLocks(ctx, "area", func(id ident.ObjectID, g store.LockGrade) error {
			locks[id] = g
			return nil
		}))
		expected := map[ident.ObjectID]store.LockGrade{
			ident.Long(1): store.LockRead | store.LockWrite,
			ident.Long(2): store.LockRead,
		}
		if diff := deep.Equal(locks, expected); diff != nil {
			t.Fatalf("locks diff: %s", diff)
		}
	})

	must(t, write(t, ctx, backend, func(tx store.Tx) error {
		if err := tx.DeleteLock(ctx, "area", ident.Long(2)); err != nil {
			return err
		}
		n, err := tx.DeleteLocks(ctx, "area")
		if err != nil {
			return err
		}
		if n != 1 {
			t.Errorf("deleted %d locks, expected 1", n)
		}
		return tx.DeleteLockArea(ctx, "area")
	}))
}

func testRecovery(t *testing.T, mb MakeBackend) {
	ctx := context.Background()
	backend := mb(t, ctx)
	read(t, ctx, backend, func(tx store.Tx) {
		maxBranch, err := tx.MaxBranchID(ctx)
		must(t, err)
		minBranch, err := tx.MinBranchID(ctx)
		must(t, err)
		maxSeq, err := tx.MaxObjectSeq(ctx)
		must(t, err)
		_, found, err := tx.MinLocalObjectSeq(ctx, maxSeq)
		must(t, err)
		if maxBranch != 0 || minBranch != 0 || maxSeq != 0 || found {
			t.Fatalf("aggregates of empty store: %d %d %d %t", maxBranch, minBranch, maxSeq, found)
		}
	})

	const localSeq = int64(1) << 62
	must(t, write(t, ctx, backend, func(tx store.Tx) error {
		for _, b := range []store.Branch{{ID: 0}, {ID: 3}, {ID: -2}, {ID: -5}} {
			if err := tx.InsertBranch(ctx, b); err != nil {
				return err
			}
		}
		for _, ci := range []store.CommitInfo{{CommitTime: 10, BranchID: 0}, {CommitTime: 20, BranchID: 3}, {CommitTime: 30, BranchID: -2}} {
			if err := tx.InsertCommitInfo(ctx, ci); err != nil {
				return err
			}
		}
		revs := []store.Revision{
			{ObjectID: ident.Long(5), BranchID: 0, Version: 1, Type: "t", CreatedAt: 10},
			{ObjectID: ident.Long(9), BranchID: 3, Version: 1, Type: "t", CreatedAt: 20},
			{ObjectID: ident.Long(5), BranchID: -2, Version: 1, Type: "t", CreatedAt: 30},
			{ObjectID: ident.Long(localSeq), BranchID: -2, Version: 1, Type: "t", CreatedAt: 30},
			{ObjectID: ident.Long(localSeq + 1), BranchID: -2, Version: 1, Type: "t", CreatedAt: 30},
			{ObjectID: ident.Long(-4), BranchID: 0, Version: 1, Type: "t", CreatedAt: 10},
		}
		for _, r := range revs {
			if err := tx.InsertRevision(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}))
	read(t, ctx, backend, func(tx store.Tx) {
		maxBranch, err := tx.MaxBranchID(ctx)
		must(t, err)
		minBranch, err := tx.MinBranchID(ctx)
		must(t, err)
		if maxBranch != 3 || minBranch != -5 {
			t.Fatalf("branch aggregates %d %d", maxBranch, minBranch)
		}
		maxTime, err := tx.MaxCommitTime(ctx, false)
		must(t, err)
		maxNonLocal, err := tx.MaxCommitTime(ctx, true)
		must(t, err)
		if maxTime != 30 || maxNonLocal != 20 {
			t.Fatalf("commit time aggregates %d %d", maxTime, maxNonLocal)
		}
		maxSeq, err := tx.MaxObjectSeq(ctx)
		must(t, err)
		if maxSeq != 9 {
			t.Fatalf("max object seq %d", maxSeq)
		}
		minLocal, found, err := tx.MinLocalObjectSeq(ctx, maxSeq)
		must(t, err)
		if !found || minLocal != localSeq {
			t.Fatalf("min local seq %d %t", minLocal, found)
		}
	})
}

func testIsolation(t *testing.T, mb MakeBackend) {
	ctx := context.Background()
	backend := mb(t, ctx)
	must(t, write(t, ctx, backend, func(tx store.Tx) error {
		return tx.SetProperties(ctx, map[string]string{"k": "before"})
	}))

	reader := connect(t, ctx, backend)
	rtx, err := reader.Begin(ctx, true)
	must(t, err)
	defer func() { _ = rtx.Rollback(ctx) }()
	props, err := rtx.GetProperties(ctx, "k")
	must(t, err)
	if props["k"] != "before" {
		t.Fatalf("initial value %q", props["k"])
	}
	expectErr(t, rtx.SetProperties(ctx, map[string]string{"k": "x"}), store.ErrReadOnly)

	// a rolled back write is never visible
	writer := connect(t, ctx, backend)
	wtx, err := writer.Begin(ctx, false)
	must(t, err)
	must(t, wtx.SetProperties(ctx, map[string]string{"k": "rolled back"}))
	must(t, wtx.Rollback(ctx))

	must(t, write(t, ctx, backend, func(tx store.Tx) error {
		return tx.SetProperties(ctx, map[string]string{"k": "after"})
	}))

	props, err = rtx.GetProperties(ctx, "k")
	must(t, err)
	if props["k"] != "before" {
		t.Fatalf("snapshot read %q, expected 'before'", props["k"])
	}
	read(t, ctx, backend, func(tx store.Tx) {
		props, err := tx.GetProperties(ctx, "k")
		must(t, err)
		if props["k"] != "after" {
			t.Fatalf("new read %q, expected 'after'", props["k"])
		}
	})
}

func testReset(t *testing.T, mb MakeBackend) {
	ctx := context.Background()
	backend := mb(t, ctx)
	c := connect(t, ctx, backend)
	tx, err := c.Begin(ctx, false)
	must(t, err)
	_, err = c.Begin(ctx, true)
	expectErr(t, err, store.ErrTxInProgress)
	must(t, tx.SetProperties(ctx, map[string]string{"leak": "yes"}))
	must(t, c.Reset(ctx))
	expectErr(t, tx.Commit(ctx), store.ErrTxClosed)
	must(t, c.Ping(ctx))

	read(t, ctx, backend, func(tx store.Tx) {
		props, err := tx.GetProperties(ctx, "leak")
		must(t, err)
		if len(props) != 0 {
			t.Fatalf("reset connection leaked %v", props)
		}
	})
	// the connection is usable after reset
	tx, err = c.Begin(ctx, false)
	must(t, err)
	must(t, tx.Commit(ctx))
}
