package store_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/treeverse/termstore/pkg/store"
)

func TestLockGrade_Updated(t *testing.T) {
	g := store.LockNone.Updated(store.LockWrite, true)
	require.Equal(t, store.LockWrite, g)
	g = g.Updated(store.LockRead, true)
	require.Equal(t, store.LockRead|store.LockWrite, g)
	g = g.Updated(store.LockWrite, false)
	require.Equal(t, store.LockRead, g)
	g = g.Updated(store.LockRead, false)
	require.True(t, g.IsNone())

	// locking at the maximal grade is a no-op
	require.Equal(t, store.LockAll, store.LockAll.Updated(store.LockWrite, true))
	// unlock restores the grade held before lock
	for _, before := range []store.LockGrade{store.LockNone, store.LockRead, store.LockOption, store.LockRead | store.LockOption} {
		require.Equal(t, before, before.Updated(store.LockWrite, true).Updated(store.LockWrite, false))
	}
}

func TestLockGrade_String(t *testing.T) {
	for _, g := range []store.LockGrade{store.LockNone, store.LockRead, store.LockWrite | store.LockOption, store.LockAll} {
		parsed, err := store.ParseLockGrade(g.String())
		require.NoError(t, err)
		require.Equal(t, g, parsed)
	}
	_, err := store.ParseLockGrade("EXCLUSIVE")
	require.ErrorIs(t, err, store.ErrInvalidValue)
}

func TestRevision_ValidAt(t *testing.T) {
	r := store.Revision{Version: 1, CreatedAt: 100, RevisedAt: 200}
	require.False(t, r.ValidAt(99))
	require.True(t, r.ValidAt(100))
	require.True(t, r.ValidAt(199))
	require.False(t, r.ValidAt(200))
	require.False(t, r.IsCurrent())

	open := store.Revision{Version: -2, CreatedAt: 200}
	require.True(t, open.ValidAt(1_000_000))
	require.True(t, open.IsDetached())
}

func TestError(t *testing.T) {
	err := store.NewError("get", store.TableBranches, store.ErrNotFound)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Equal(t, "get branches: not found", err.Error())
	var se *store.Error
	require.True(t, errors.As(err, &se))
	require.Equal(t, "get", se.Op)
	require.Nil(t, store.NewError("get", store.TableBranches, nil))
	// wrapping twice with the same operation keeps one layer
	require.Same(t, err, store.NewError("get", store.TableBranches, err))
}
