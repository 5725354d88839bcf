package index_test

import (
	"context"
	"errors"
	"flag"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/treeverse/termstore/pkg/index"
	"github.com/treeverse/termstore/pkg/index/mem"
	"github.com/treeverse/termstore/pkg/logging"
	"github.com/treeverse/termstore/pkg/store"
	"github.com/treeverse/termstore/pkg/testutil"
)

func TestMain(m *testing.M) {
	flag.Parse()
	if !testing.Verbose() {
		logging.SetLevel("panic")
	}
	os.Exit(m.Run())
}

// fakeBranches serves main and one branch based on main at 150.
type fakeBranches struct {
	heads map[store.BranchID]int64
}

func (f *fakeBranches) LoadBranch(_ context.Context, id store.BranchID) (*store.Branch, error) {
	head, ok := f.heads[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &store.Branch{ID: id, HeadTime: head}, nil
}

func (f *fakeBranches) Lineage(_ context.Context, id store.BranchID, t int64) ([]store.BranchPoint, error) {
	lineage := []store.BranchPoint{{BranchID: id, Time: t}}
	if id != store.MainBranchID {
		lineage = append(lineage, store.BranchPoint{BranchID: store.MainBranchID, Time: min(t, 150)})
	}
	return lineage, nil
}

func newService(t *testing.T) (*index.Service, *fakeBranches) {
	t.Helper()
	branches := &fakeBranches{heads: map[store.BranchID]int64{store.MainBranchID: 0, 1: 0}}
	return index.NewService(mem.New(), branches, logging.Dummy()), branches
}

func TestService_WriteThenRead(t *testing.T) {
	ctx := context.Background()
	svc, branches := newService(t)

	err := svc.WithWriteTransaction(ctx, store.MainBranchID, 100, func(cs *index.ChangeSet) error {
		return cs.AddNew(doc(keyA, "heart"))
	})
	testutil.Must(t, err)
	branches.heads[store.MainBranchID] = 100

	err = svc.WithReadSnapshot(ctx, 1, func(snap index.Snapshot) error {
		require.Equal(t, []store.BranchPoint{{BranchID: 1, Time: 0}, {BranchID: store.MainBranchID, Time: 0}}, snap.Lineage())
		_, err := snap.Get(ctx, keyA)
		require.ErrorIs(t, err, index.ErrNotFound)
		return nil
	})
	testutil.Must(t, err)

	branches.heads[1] = 200
	err = svc.WithReadSnapshot(ctx, 1, func(snap index.Snapshot) error {
		d, err := snap.Get(ctx, keyA)
		if err != nil {
			return err
		}
		require.Equal(t, "heart", d.Fields["term"])
		return nil
	})
	testutil.Must(t, err)
}

func TestService_WriteFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	svc, branches := newService(t)
	errBoom := errors.New("boom")

	err := svc.WithWriteTransaction(ctx, store.MainBranchID, 100, func(cs *index.ChangeSet) error {
		if err := cs.AddNew(doc(keyA, "heart")); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	branches.heads[store.MainBranchID] = 100

	pending, err := svc.Store().PendingCommits(ctx)
	testutil.Must(t, err)
	require.Empty(t, pending)
	err = svc.WithReadSnapshot(ctx, store.MainBranchID, func(snap index.Snapshot) error {
		_, err := snap.Get(ctx, keyA)
		return err
	})
	require.ErrorIs(t, err, index.ErrNotFound)
}

func TestWriteTx_States(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	tx := svc.BeginWrite(store.MainBranchID, 100, index.NewChangeSet("test"))
	require.ErrorIs(t, tx.Commit(ctx), index.ErrTxDone)
	testutil.Must(t, tx.ChangeSet().AddNew(doc(keyA, "a")))
	testutil.Must(t, tx.Prepare(ctx))
	require.ErrorIs(t, tx.Prepare(ctx), index.ErrTxDone)
	testutil.Must(t, tx.Rollback(ctx))
	testutil.Must(t, tx.Rollback(ctx))

	pending, err := svc.Store().PendingCommits(ctx)
	testutil.Must(t, err)
	require.Empty(t, pending)

	// rollback before prepare writes nothing
	tx = svc.BeginWrite(store.MainBranchID, 101, index.NewChangeSet("test"))
	testutil.Must(t, tx.Rollback(ctx))
	require.ErrorIs(t, tx.Prepare(ctx), index.ErrTxDone)
}

func TestService_Recover(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	for _, commitTime := range []int64{100, 200, 300} {
		cs := index.NewChangeSet("pending")
		testutil.Must(t, cs.AddNew(doc(index.Key{Type: "concept", ID: string(rune('a' + commitTime/100))}, "x")))
		testutil.Must(t, svc.Store().Prepare(ctx, store.MainBranchID, commitTime, cs))
	}

	committed := func(_ context.Context, commitTime int64) (bool, error) {
		return commitTime != 200, nil
	}
	published, discarded, err := svc.Recover(ctx, committed)
	testutil.Must(t, err)
	require.Equal(t, 2, published)
	require.Equal(t, 1, discarded)

	pending, err := svc.Store().PendingCommits(ctx)
	testutil.Must(t, err)
	require.Empty(t, pending)

	snap, err := svc.Store().Snapshot(ctx, []store.BranchPoint{{BranchID: store.MainBranchID, Time: 1000}})
	testutil.Must(t, err)
	defer snap.Close()
	for id, found := range map[string]bool{"b": true, "c": false, "d": true} {
		_, err := snap.Get(ctx, index.Key{Type: "concept", ID: id})
		require.Equal(t, found, err == nil, "document %s", id)
	}
}

func TestService_SnapshotWaitsForWrite(t *testing.T) {
	ctx := context.Background()
	svc, branches := newService(t)

	cs := index.NewChangeSet("test")
	testutil.Must(t, cs.AddNew(doc(keyA, "heart")))
	tx := svc.BeginWrite(store.MainBranchID, 100, cs)
	testutil.Must(t, tx.Prepare(ctx))
	// the primary store moved the head, the index is not published yet
	branches.heads[store.MainBranchID] = 100

	opened := make(chan index.Snapshot)
	go func() {
		snap, _, err := svc.OpenSnapshot(ctx, store.MainBranchID)
		if err != nil {
			t.Error(err)
		}
		opened <- snap
	}()
	select {
	case <-opened:
		t.Fatal("snapshot opened while the branch write is in flight")
	case <-time.After(50 * time.Millisecond):
	}

	testutil.Must(t, tx.Commit(ctx))
	snap := <-opened
	require.NotNil(t, snap)
	defer snap.Close()
	d, err := snap.Get(ctx, keyA)
	testutil.Must(t, err)
	require.Equal(t, "heart", d.Fields["term"])

	// other branches are not held up by the gate
	tx = svc.BeginWrite(store.MainBranchID, 101, index.NewChangeSet("test"))
	defer func() { _ = tx.Rollback(ctx) }()
	other, _, err := svc.OpenSnapshot(ctx, 1)
	testutil.Must(t, err)
	other.Close()
}

func TestService_RollbackOpensGate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	for _, prepare := range []bool{false, true} {
		tx := svc.BeginWrite(store.MainBranchID, 100, index.NewChangeSet("test"))
		if prepare {
			testutil.Must(t, tx.Prepare(ctx))
		}
		testutil.Must(t, tx.Rollback(ctx))
		snap, _, err := svc.OpenSnapshot(ctx, store.MainBranchID)
		testutil.Must(t, err)
		snap.Close()
	}
}
