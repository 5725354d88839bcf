package extref_test

import (
	"context"
	"flag"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/treeverse/termstore/pkg/accessor"
	"github.com/treeverse/termstore/pkg/extref"
	"github.com/treeverse/termstore/pkg/logging"
	"github.com/treeverse/termstore/pkg/store"
	"github.com/treeverse/termstore/pkg/store/storetest"
	"github.com/treeverse/termstore/pkg/testutil"
)

func TestMain(m *testing.M) {
	flag.Parse()
	if !testing.Verbose() {
		// keep the log level calm
		logging.SetLevel("panic")
	}
	os.Exit(m.Run())
}

func newMapper(t *testing.T, tx accessor.Transactor) *extref.Mapper {
	t.Helper()
	m, err := extref.NewMapper(tx, logging.Dummy())
	testutil.Must(t, err)
	t.Cleanup(m.Close)
	testutil.Must(t, m.Init(context.Background()))
	return m
}

func TestMapper_MapIdempotent(t *testing.T) {
	ctx := context.Background()
	pools, _ := storetest.NewMemPools(t)
	m := newMapper(t, pools)

	id1, err := m.Map(ctx, "urn:x:1", 10)
	testutil.Must(t, err)
	require.Less(t, id1, int64(0))

	id2, err := m.Map(ctx, "urn:x:1", 20)
	testutil.Must(t, err)
	require.Equal(t, id1, id2)

	uri, err := m.Unmap(ctx, id1)
	testutil.Must(t, err)
	require.Equal(t, "urn:x:1", uri)

	other, err := m.Map(ctx, "urn:x:2", 30)
	testutil.Must(t, err)
	require.Less(t, other, id1)

	// first seen time is kept
	err = pools.Read(ctx, func(tx store.Tx) error {
		ref, err := tx.GetExternalRef(ctx, id1)
		if err != nil {
			return err
		}
		require.EqualValues(t, 10, ref.CommitTime)
		return nil
	})
	testutil.Must(t, err)
}

func TestMapper_UnmapMissing(t *testing.T) {
	pools, _ := storetest.NewMemPools(t)
	m := newMapper(t, pools)
	_, err := m.Unmap(context.Background(), -99)
	require.ErrorIs(t, err, store.ErrConsistency)
}

func TestMapper_EmptyURI(t *testing.T) {
	pools, _ := storetest.NewMemPools(t)
	m := newMapper(t, pools)
	_, err := m.Map(context.Background(), "", 1)
	require.ErrorIs(t, err, extref.ErrEmptyURI)
}

func TestMapper_InitAfterRestart(t *testing.T) {
	ctx := context.Background()
	pools, _ := storetest.NewMemPools(t)
	m := newMapper(t, pools)
	for _, uri := range []string{"urn:a", "urn:b", "urn:c"} {
		_, err := m.Map(ctx, uri, 1)
		testutil.Must(t, err)
	}
	require.EqualValues(t, -3, m.LastID())

	restarted := newMapper(t, pools)
	require.EqualValues(t, -3, restarted.LastID())
	id, err := restarted.Map(ctx, "urn:d", 2)
	testutil.Must(t, err)
	require.EqualValues(t, -4, id)
	id, err = restarted.Map(ctx, "urn:b", 2)
	testutil.Must(t, err)
	require.EqualValues(t, -2, id)

	var uris []string
	testutil.Must(t, restarted.List(ctx, func(ref store.ExternalRef) error {
		uris = append(uris, ref.URI)
		return nil
	}))
	require.Equal(t, []string{"urn:a", "urn:b", "urn:c", "urn:d"}, uris)
}

func TestMapper_MapConcurrent(t *testing.T) {
	const workers = 8
	ctx := context.Background()
	pools, _ := storetest.NewMemPools(t)
	m := newMapper(t, pools)

	ids := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := m.Map(ctx, "urn:shared", int64(i))
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
}

func TestMapper_MapTxRolledBack(t *testing.T) {
	ctx := context.Background()
	pools, _ := storetest.NewMemPools(t)
	m := newMapper(t, pools)

	var id int64
	err := pools.Write(ctx, func(tx store.Tx) error {
		var err error
		id, err = m.MapTx(ctx, tx, "urn:gone", 5)
		testutil.Must(t, err)
		return store.ErrStaleCommit
	})
	require.ErrorIs(t, err, store.ErrStaleCommit)
	_, err = m.Unmap(ctx, id)
	require.ErrorIs(t, err, store.ErrConsistency)

	// the id is not reused
	next, err := m.Map(ctx, "urn:kept", 6)
	testutil.Must(t, err)
	require.Less(t, next, id)
}

// staleReadTx misses mappings committed after its snapshot was taken.
type staleReadTx struct {
	store.Tx
}

func (staleReadTx) GetExternalRefByURI(context.Context, string) (*store.ExternalRef, error) {
	return nil, store.ErrNotFound
}

func TestMapper_MapTxReturnsConcurrentMapping(t *testing.T) {
	ctx := context.Background()
	pools, _ := storetest.NewMemPools(t)
	m := newMapper(t, pools)

	err := pools.Write(ctx, func(tx store.Tx) error {
		return tx.InsertExternalRef(ctx, store.ExternalRef{ID: -50, URI: "urn:race", CommitTime: 1})
	})
	testutil.Must(t, err)

	var id int64
	err = pools.Write(ctx, func(tx store.Tx) error {
		var err error
		id, err = m.MapTx(ctx, staleReadTx{Tx: tx}, "urn:race", 2)
		return err
	})
	testutil.Must(t, err)
	require.EqualValues(t, -50, id)

	uri, err := m.Unmap(ctx, -1)
	require.ErrorIs(t, err, store.ErrConsistency, "unexpected mapping %q", uri)
}
