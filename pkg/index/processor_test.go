package index_test

import (
	"context"
	"testing"

	"github.com/go-test/deep"
	"github.com/stretchr/testify/require"
	"github.com/treeverse/termstore/pkg/ident"
	"github.com/treeverse/termstore/pkg/index"
	"github.com/treeverse/termstore/pkg/index/mem"
	"github.com/treeverse/termstore/pkg/revision"
	"github.com/treeverse/termstore/pkg/store"
	"github.com/treeverse/termstore/pkg/testutil"
)

func publish(t *testing.T, ctx context.Context, s index.Store, commitTime int64, docs ...index.Document) {
	t.Helper()
	cs := index.NewChangeSet("seed")
	for _, d := range docs {
		testutil.Must(t, cs.AddNew(d))
	}
	testutil.Must(t, s.Prepare(ctx, store.MainBranchID, commitTime, cs))
	testutil.Must(t, s.Resolve(ctx, commitTime, true))
}

func TestObjectProcessor(t *testing.T) {
	ctx := context.Background()
	s := mem.New()
	existing := index.Key{Type: "concept", ID: "2"}
	detached := index.Key{Type: "concept", ID: "3"}
	publish(t, ctx, s, 100,
		index.Document{Key: existing, Fields: map[string]interface{}{"term": "heart", "effective": "2020"}},
		index.Document{Key: detached, Fields: map[string]interface{}{"term": "lung"}},
	)
	snap, err := s.Snapshot(ctx, []store.BranchPoint{{BranchID: store.MainBranchID, Time: 100}})
	testutil.Must(t, err)
	defer snap.Close()

	batch := &index.Batch{
		Branch: store.MainBranchID,
		Changes: []revision.Change{
			{Kind: revision.ChangeNew, ObjectID: ident.Long(1), Type: "concept", Fields: map[string]interface{}{"term": "liver"}},
			// only the time field moved, still a change
			{Kind: revision.ChangeDirty, ObjectID: ident.Long(2), Type: "concept", Fields: map[string]interface{}{"term": "heart", "effective": "2021"}},
			{Kind: revision.ChangeDetached, ObjectID: ident.Long(3), Type: "concept"},
			// dirty but never indexed
			{Kind: revision.ChangeDirty, ObjectID: ident.Long(4), Type: "concept", Fields: map[string]interface{}{"term": "kidney"}},
		},
	}
	p := index.NewObjectProcessor()
	testutil.Must(t, p.Process(ctx, batch, snap))

	require.Equal(t, index.ObjectProcessorDescription, p.Description())
	newKeys := make([]string, 0)
	for k := range p.NewMappings() {
		newKeys = append(newKeys, k.String())
	}
	require.ElementsMatch(t, []string{"concept/1", "concept/4"}, newKeys)

	changed := p.ChangedMappings()
	require.Len(t, changed, 1)
	c := changed[existing]
	if diffs := deep.Equal(c.Old.Fields, map[string]interface{}{"term": "heart", "effective": "2020"}); diffs != nil {
		t.Fatalf("old projection: %s", diffs)
	}
	require.Equal(t, "2021", c.New.Fields["effective"])
	require.Equal(t, []index.Key{detached}, p.Deletions())
}

func TestObjectProcessor_DuplicateObject(t *testing.T) {
	ctx := context.Background()
	s := mem.New()
	snap, err := s.Snapshot(ctx, []store.BranchPoint{{BranchID: store.MainBranchID, Time: 100}})
	testutil.Must(t, err)
	defer snap.Close()

	batch := &index.Batch{Changes: []revision.Change{
		{Kind: revision.ChangeNew, ObjectID: ident.Long(1), Type: "concept"},
		{Kind: revision.ChangeDetached, ObjectID: ident.Long(1), Type: "concept"},
	}}
	err = index.NewObjectProcessor().Process(ctx, batch, snap)
	require.ErrorIs(t, err, index.ErrChangeSetCollision)
}
