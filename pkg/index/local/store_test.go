package local_test

import (
	"context"
	"errors"
	"flag"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/treeverse/termstore/pkg/index"
	"github.com/treeverse/termstore/pkg/index/indextest"
	"github.com/treeverse/termstore/pkg/index/local"
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

func openLocal(t *testing.T, ctx context.Context, path string) *local.Store {
	t.Helper()
	s, err := index.Open(ctx, index.Params{
		Type:  local.DriverName,
		Local: &index.LocalParams{Path: path},
	})
	if err != nil {
		t.Fatalf("failed to open index '%s': %s", local.DriverName, err)
	}
	return s.(*local.Store)
}

func TestLocalIndex(t *testing.T) {
	indextest.TestDriver(t, func(t *testing.T, ctx context.Context) index.Store {
		t.Helper()
		s := openLocal(t, ctx, t.TempDir())
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestInMemoryIndex(t *testing.T) {
	indextest.TestDriver(t, func(t *testing.T, ctx context.Context) index.Store {
		t.Helper()
		s, err := index.Open(ctx, index.Params{
			Type:  local.DriverName,
			Local: &index.LocalParams{InMemory: true},
		})
		testutil.Must(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestOpen_MissingSettings(t *testing.T) {
	_, err := index.Open(context.Background(), index.Params{Type: local.DriverName})
	require.ErrorIs(t, err, index.ErrDriverConfiguration)
}

func TestPendingSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir()
	key := index.Key{Type: "concept", ID: "7"}

	s := openLocal(t, ctx, path)
	cs := index.NewChangeSet("test")
	testutil.Must(t, cs.AddNew(index.Document{Key: key, Fields: map[string]interface{}{"term": "lung"}}))
	testutil.Must(t, s.Prepare(ctx, store.MainBranchID, 100, cs))
	testutil.Must(t, s.Close())

	s = openLocal(t, ctx, path)
	t.Cleanup(func() { _ = s.Close() })
	pending, err := s.PendingCommits(ctx)
	testutil.Must(t, err)
	require.Equal(t, []int64{100}, pending)

	testutil.Must(t, s.Resolve(ctx, 100, true))
	snap, err := s.Snapshot(ctx, []store.BranchPoint{{BranchID: store.MainBranchID, Time: 100}})
	testutil.Must(t, err)
	defer snap.Close()
	doc, err := snap.Get(ctx, key)
	testutil.Must(t, err)
	require.Equal(t, "lung", doc.Fields["term"])
}

func TestLocalBranches(t *testing.T) {
	ctx := context.Background()
	s := openLocal(t, ctx, t.TempDir())
	t.Cleanup(func() { _ = s.Close() })

	key := index.Key{Type: "concept", ID: "1"}
	for i, b := range []store.BranchID{-2, -1, 0, 1} {
		cs := index.NewChangeSet("test")
		testutil.Must(t, cs.AddNew(index.Document{Key: key, Fields: map[string]interface{}{"branch": int(b)}}))
		commitTime := int64(100 + i)
		testutil.Must(t, s.Prepare(ctx, b, commitTime, cs))
		testutil.Must(t, s.Resolve(ctx, commitTime, true))
	}
	for _, b := range []store.BranchID{-2, -1, 0, 1} {
		snap, err := s.Snapshot(ctx, []store.BranchPoint{{BranchID: b, Time: 1000}})
		testutil.Must(t, err)
		doc, err := snap.Get(ctx, key)
		snap.Close()
		testutil.Must(t, err)
		require.InDelta(t, float64(b), doc.Fields["branch"], 0)
	}
}

func TestMaintenance(t *testing.T) {
	ctx := context.Background()
	s := openLocal(t, ctx, t.TempDir())
	t.Cleanup(func() { _ = s.Close() })

	require.Equal(t, index.MaintenanceEnabled, s.Maintenance())
	_, err := s.CollectGarbage()
	testutil.Must(t, err)

	s.SetMaintenance(index.MaintenanceDisabled)
	_, err = s.CollectGarbage()
	if !errors.Is(err, index.ErrMaintenanceDisabled) {
		t.Fatalf("expected ErrMaintenanceDisabled, got %v", err)
	}

	testutil.Must(t, s.Close())
	_, err = s.CollectGarbage()
	require.ErrorIs(t, err, index.ErrClosed)
}
