package revision_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/treeverse/termstore/pkg/ident"
	"github.com/treeverse/termstore/pkg/revision"
	"github.com/treeverse/termstore/pkg/store"
	"github.com/treeverse/termstore/pkg/store/storetest"
	"github.com/treeverse/termstore/pkg/testutil"
)

const branchID store.BranchID = 1

func write(t *testing.T, tx store.Tx, branch store.BranchID, at int64, changes ...revision.Change) []store.Revision {
	t.Helper()
	revs, err := revision.Write(context.Background(), tx, branch, at, changes)
	testutil.Must(t, err)
	return revs
}

func TestWrite_VersionChain(t *testing.T) {
	ctx := context.Background()
	pools, _ := storetest.NewMemPools(t)
	obj := ident.Long(5)

	err := pools.Write(ctx, func(tx store.Tx) error {
		revs := write(t, tx, store.MainBranchID, 100, revision.Change{
			Kind: revision.ChangeNew, ObjectID: obj, Type: "Concept", Fields: map[string]interface{}{"active": true},
		})
		require.EqualValues(t, 1, revs[0].Version)
		require.True(t, revs[0].IsCurrent())

		revs = write(t, tx, store.MainBranchID, 200, revision.Change{
			Kind: revision.ChangeDirty, ObjectID: obj, Type: "Concept", Fields: map[string]interface{}{"active": false},
		})
		require.EqualValues(t, 2, revs[0].Version)

		revs = write(t, tx, store.MainBranchID, 300, revision.Change{Kind: revision.ChangeDetached, ObjectID: obj})
		require.EqualValues(t, -3, revs[0].Version)
		require.True(t, revs[0].IsDetached())

		history, err := revision.History(ctx, tx, store.MainBranchID, obj)
		testutil.Must(t, err)
		require.Len(t, history, 3)
		require.EqualValues(t, 200, history[0].RevisedAt)
		require.EqualValues(t, 300, history[1].RevisedAt)
		require.True(t, history[2].IsCurrent())

		lineage := func(at int64) []store.BranchPoint {
			return []store.BranchPoint{{BranchID: store.MainBranchID, Time: at}}
		}
		r, err := revision.Get(ctx, tx, lineage(150), obj)
		testutil.Must(t, err)
		require.Equal(t, true, r.Fields["active"])
		r, err = revision.Get(ctx, tx, lineage(250), obj)
		testutil.Must(t, err)
		require.EqualValues(t, 2, r.Version)
		_, err = revision.Get(ctx, tx, lineage(300), obj)
		require.ErrorIs(t, err, revision.ErrDetached)
		_, err = revision.Get(ctx, tx, lineage(50), obj)
		require.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
	testutil.Must(t, err)
}

func TestGet_InheritedFromBase(t *testing.T) {
	ctx := context.Background()
	pools, _ := storetest.NewMemPools(t)
	obj := ident.Long(9)

	err := pools.Write(ctx, func(tx store.Tx) error {
		write(t, tx, store.MainBranchID, 100, revision.Change{Kind: revision.ChangeNew, ObjectID: obj, Type: "Concept"})
		write(t, tx, store.MainBranchID, 300, revision.Change{Kind: revision.ChangeDirty, ObjectID: obj, Type: "Concept"})
		// branch based on main at 200 changes the object at 250
		revs := write(t, tx, branchID, 250, revision.Change{Kind: revision.ChangeDirty, ObjectID: obj, Type: "Concept"})
		require.EqualValues(t, 1, revs[0].Version)

		before := []store.BranchPoint{{BranchID: branchID, Time: 220}, {BranchID: store.MainBranchID, Time: 200}}
		r, err := revision.Get(ctx, tx, before, obj)
		testutil.Must(t, err)
		require.Equal(t, store.MainBranchID, r.BranchID)
		require.EqualValues(t, 1, r.Version)

		after := []store.BranchPoint{{BranchID: branchID, Time: 400}, {BranchID: store.MainBranchID, Time: 200}}
		r, err = revision.Get(ctx, tx, after, obj)
		testutil.Must(t, err)
		require.Equal(t, branchID, r.BranchID)
		return nil
	})
	testutil.Must(t, err)
}

func TestWrite_Errors(t *testing.T) {
	ctx := context.Background()
	pools, _ := storetest.NewMemPools(t)
	obj := ident.Long(1)

	err := pools.Write(ctx, func(tx store.Tx) error {
		_, err := revision.Write(ctx, tx, store.MainBranchID, 10, []revision.Change{
			{Kind: revision.ChangeNew, ObjectID: obj},
			{Kind: revision.ChangeDirty, ObjectID: obj},
		})
		return err
	})
	require.ErrorIs(t, err, revision.ErrDuplicateChange)

	err = pools.Write(ctx, func(tx store.Tx) error {
		_, err := revision.Write(ctx, tx, store.MainBranchID, 10, []revision.Change{{Kind: revision.ChangeNew}})
		return err
	})
	require.ErrorIs(t, err, revision.ErrNullID)

	err = pools.Write(ctx, func(tx store.Tx) error {
		write(t, tx, store.MainBranchID, 10, revision.Change{Kind: revision.ChangeNew, ObjectID: obj})
		_, err := revision.Write(ctx, tx, store.MainBranchID, 20, []revision.Change{{Kind: revision.ChangeNew, ObjectID: obj}})
		return err
	})
	require.ErrorIs(t, err, store.ErrAlreadyExists)
}
