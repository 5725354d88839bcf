package index_test

import (
	"errors"
	"testing"

	"github.com/go-test/deep"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
	"github.com/treeverse/termstore/pkg/index"
	"github.com/treeverse/termstore/pkg/index/mock"
	"github.com/treeverse/termstore/pkg/testutil"
)

var (
	keyA = index.Key{Type: "concept", ID: "1"}
	keyB = index.Key{Type: "concept", ID: "2"}
	keyC = index.Key{Type: "description", ID: "1"}
)

func doc(k index.Key, term string) index.Document {
	return index.Document{Key: k, Fields: map[string]interface{}{"term": term}}
}

func newMockProcessor(ctrl *gomock.Controller, desc string, newDocs []index.Document, changed []index.Change, deleted []index.Key) *mock.MockProcessor {
	p := mock.NewMockProcessor(ctrl)
	nm := make(map[index.Key]index.Document)
	for _, d := range newDocs {
		nm[d.Key] = d
	}
	cm := make(map[index.Key]index.Change)
	for _, c := range changed {
		cm[c.New.Key] = c
	}
	p.EXPECT().NewMappings().Return(nm).AnyTimes()
	p.EXPECT().ChangedMappings().Return(cm).AnyTimes()
	p.EXPECT().Deletions().Return(deleted).AnyTimes()
	p.EXPECT().Description().Return(desc).AnyTimes()
	return p
}

func TestChangeSet_Add(t *testing.T) {
	cs := index.NewChangeSet("test")
	testutil.Must(t, cs.AddNew(doc(keyA, "a")))
	testutil.Must(t, cs.AddChanged(index.Change{Old: doc(keyB, "b"), New: doc(keyB, "b2")}))
	testutil.Must(t, cs.AddDeleted(keyC))
	testutil.Must(t, cs.AddDeleted(keyC))
	require.Equal(t, 3, cs.Size())

	require.ErrorIs(t, cs.AddNew(doc(keyB, "again")), index.ErrChangeSetCollision)
	require.ErrorIs(t, cs.AddDeleted(keyA), index.ErrChangeSetCollision)
	require.ErrorIs(t, cs.AddNew(index.Document{Key: index.Key{Type: "concept"}}), index.ErrInvalidKey)
	require.ErrorIs(t, cs.AddNew(doc(index.Key{Type: "concept", ID: "1\x002"}, "x")), index.ErrInvalidKey)

	d, deleted, ok := cs.Lookup(keyB)
	require.True(t, ok)
	require.False(t, deleted)
	require.Equal(t, "b2", d.Fields["term"])
	_, deleted, ok = cs.Lookup(keyC)
	require.True(t, ok)
	require.True(t, deleted)
	_, _, ok = cs.Lookup(index.Key{Type: "concept", ID: "9"})
	require.False(t, ok)
}

func TestChangeSet_MergeCommutative(t *testing.T) {
	ctrl := gomock.NewController(t)
	p1 := newMockProcessor(ctrl, "p1", []index.Document{doc(keyA, "a")}, nil, []index.Key{keyC})
	p2 := newMockProcessor(ctrl, "p2", nil, []index.Change{{Old: doc(keyB, "b"), New: doc(keyB, "b2")}}, []index.Key{keyC})

	left := index.NewChangeSet("merged")
	testutil.Must(t, left.Merge(p1))
	testutil.Must(t, left.Merge(p2))
	right := index.NewChangeSet("merged")
	testutil.Must(t, right.Merge(p2))
	testutil.Must(t, right.Merge(p1))

	if diffs := deep.Equal(left, right); diffs != nil {
		t.Fatalf("merge order changed the result: %s", diffs)
	}
	require.Equal(t, []index.Key{keyC}, left.Deletions())
	require.Len(t, left.Upserts(), 2)
}

func TestChangeSet_MergeCollision(t *testing.T) {
	tests := []struct {
		name   string
		first  func(ctrl *gomock.Controller) index.Processor
		second func(ctrl *gomock.Controller) index.Processor
	}{
		{
			name: "new twice",
			first: func(ctrl *gomock.Controller) index.Processor {
				return newMockProcessor(ctrl, "p1", []index.Document{doc(keyA, "a")}, nil, nil)
			},
			second: func(ctrl *gomock.Controller) index.Processor {
				return newMockProcessor(ctrl, "p2", []index.Document{doc(keyA, "a")}, nil, nil)
			},
		},
		{
			name: "new then changed",
			first: func(ctrl *gomock.Controller) index.Processor {
				return newMockProcessor(ctrl, "p1", []index.Document{doc(keyA, "a")}, nil, nil)
			},
			second: func(ctrl *gomock.Controller) index.Processor {
				return newMockProcessor(ctrl, "p2", nil, []index.Change{{Old: doc(keyA, "a"), New: doc(keyA, "a2")}}, nil)
			},
		},
		{
			name: "changed then deleted",
			first: func(ctrl *gomock.Controller) index.Processor {
				return newMockProcessor(ctrl, "p1", nil, []index.Change{{Old: doc(keyA, "a"), New: doc(keyA, "a2")}}, nil)
			},
			second: func(ctrl *gomock.Controller) index.Processor {
				return newMockProcessor(ctrl, "p2", nil, nil, []index.Key{keyA})
			},
		},
		{
			name: "new and deleted by one processor",
			first: func(ctrl *gomock.Controller) index.Processor {
				return newMockProcessor(ctrl, "p1", nil, nil, nil)
			},
			second: func(ctrl *gomock.Controller) index.Processor {
				return newMockProcessor(ctrl, "p2", []index.Document{doc(keyA, "a")}, nil, []index.Key{keyA})
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			cs := index.NewChangeSet("merged")
			testutil.Must(t, cs.Merge(tt.first(ctrl)))
			before := cs.Size()
			err := cs.Merge(tt.second(ctrl))
			if !errors.Is(err, index.ErrChangeSetCollision) {
				t.Fatalf("expected ErrChangeSetCollision, got %v", err)
			}
			require.Equal(t, before, cs.Size(), "failed merge must not change the set")
		})
	}
}

func TestChangeSet_MergeMismatchedKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := mock.NewMockProcessor(ctrl)
	p.EXPECT().NewMappings().Return(map[index.Key]index.Document{keyA: doc(keyB, "b")})
	p.EXPECT().ChangedMappings().Return(nil)
	p.EXPECT().Deletions().Return(nil)
	p.EXPECT().Description().Return("broken").AnyTimes()
	err := index.NewChangeSet("merged").Merge(p)
	require.ErrorIs(t, err, index.ErrInvalidKey)
}
