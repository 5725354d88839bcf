package branch_test

import (
	"context"
	"flag"
	"os"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/stretchr/testify/require"
	"github.com/treeverse/termstore/pkg/branch"
	"github.com/treeverse/termstore/pkg/cache"
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

func newManager(t *testing.T) *branch.Manager {
	t.Helper()
	pools, _ := storetest.NewMemPools(t)
	return branch.NewManager(pools, cache.NewCache(16, time.Minute, nil), logging.Dummy())
}

func TestManager_CreateBranch(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	b1, err := m.CreateBranch(ctx, store.MainBranchID, "b1", 100)
	testutil.Must(t, err)
	require.EqualValues(t, 1, b1.ID)
	require.False(t, b1.IsLocal())

	b2, err := m.CreateBranch(ctx, b1.ID, "b2", 120)
	testutil.Must(t, err)
	require.EqualValues(t, 2, b2.ID)

	local, err := m.CreateBranch(ctx, store.MainBranchID, "scratch", 130, branch.WithLocal())
	testutil.Must(t, err)
	require.EqualValues(t, -1, local.ID)
	require.True(t, local.IsLocal())

	loaded, err := m.LoadBranch(ctx, b2.ID)
	testutil.Must(t, err)
	if diff := deep.Equal(loaded, b2); diff != nil {
		t.Fatal("loaded branch differs:", diff)
	}

	require.Equal(t, branch.Counters{LastBranchID: 2, LastLocalBranchID: -1}, m.Counters())
}

func TestManager_CreateBranchErrors(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	_, err := m.CreateBranch(ctx, store.MainBranchID, "", 100)
	require.ErrorIs(t, err, branch.ErrInvalidName)

	_, err = m.CreateBranch(ctx, store.MainBranchID, "b", -1)
	require.ErrorIs(t, err, branch.ErrInvalidBase)

	_, err = m.CreateBranch(ctx, 42, "orphan", 100)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = m.LoadBranch(ctx, 42)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestManager_SubBranches(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	b1, err := m.CreateBranch(ctx, store.MainBranchID, "b1", 100)
	testutil.Must(t, err)
	_, err = m.CreateBranch(ctx, b1.ID, "b1.1", 110)
	testutil.Must(t, err)
	_, err = m.CreateBranch(ctx, store.MainBranchID, "b2", 120)
	testutil.Must(t, err)

	subs, err := m.LoadSubBranches(ctx, store.MainBranchID)
	testutil.Must(t, err)
	names := make([]string, 0, len(subs))
	for _, b := range subs {
		names = append(names, b.Name)
	}
	require.Equal(t, []string{"b1", "b2"}, names)

	all, err := m.LoadBranches(ctx, store.MainBranchID, 2)
	testutil.Must(t, err)
	require.Len(t, all, 3)
}

func TestManager_Lineage(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	b1, err := m.CreateBranch(ctx, store.MainBranchID, "b1", 100)
	testutil.Must(t, err)
	b2, err := m.CreateBranch(ctx, b1.ID, "b2", 150)
	testutil.Must(t, err)

	tests := []struct {
		name     string
		branch   store.BranchID
		t        int64
		expected []store.BranchPoint
	}{
		{
			name:     "main",
			branch:   store.MainBranchID,
			t:        500,
			expected: []store.BranchPoint{{BranchID: 0, Time: 500}},
		},
		{
			name:   "after base",
			branch: b2.ID,
			t:      500,
			expected: []store.BranchPoint{
				{BranchID: b2.ID, Time: 500},
				{BranchID: b1.ID, Time: 150},
				{BranchID: 0, Time: 100},
			},
		},
		{
			name:   "before base",
			branch: b2.ID,
			t:      90,
			expected: []store.BranchPoint{
				{BranchID: b2.ID, Time: 90},
				{BranchID: b1.ID, Time: 90},
				{BranchID: 0, Time: 90},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lineage, err := m.Lineage(ctx, tt.branch, tt.t)
			testutil.Must(t, err)
			if diff := deep.Equal(lineage, tt.expected); diff != nil {
				t.Fatal("lineage:", diff)
			}
		})
	}

	_, err = m.Lineage(ctx, 77, 10)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestManager_SetCounters(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	m.SetCounters(branch.Counters{LastBranchID: 9, LastLocalBranchID: -4})

	b, err := m.CreateBranch(ctx, store.MainBranchID, "b", 10)
	testutil.Must(t, err)
	require.EqualValues(t, 10, b.ID)
	l, err := m.CreateBranch(ctx, store.MainBranchID, "l", 10, branch.WithLocal())
	testutil.Must(t, err)
	require.EqualValues(t, -5, l.ID)
}
