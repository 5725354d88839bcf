package query_test

import (
	"context"
	"testing"

	"github.com/go-test/deep"
	"github.com/stretchr/testify/require"
	"github.com/treeverse/termstore/pkg/ident"
	"github.com/treeverse/termstore/pkg/logging"
	"github.com/treeverse/termstore/pkg/query"
	"github.com/treeverse/termstore/pkg/store"
)

func TestRewrite(t *testing.T) {
	tests := []struct {
		name     string
		q        query.Query
		text     string
		args     []interface{}
		expected error
	}{
		{
			name: "named",
			q: query.Query{
				Text:  "SELECT object_id FROM revisions WHERE branch_id = :branch AND type_id = :type AND branch_id >= :branch",
				Named: map[string]interface{}{"branch": 3, "type": "Concept"},
			},
			text: "SELECT object_id FROM revisions WHERE branch_id = $1 AND type_id = $2 AND branch_id >= $1",
			args: []interface{}{3, "Concept"},
		},
		{
			name: "positional",
			q:    query.Query{Text: "SELECT * FROM branches WHERE id = $1", Args: []interface{}{7}},
			text: "SELECT * FROM branches WHERE id = $1",
			args: []interface{}{7},
		},
		{
			name: "casts and quotes untouched",
			q: query.Query{
				Text:  "SELECT ':skip'::text, x::int FROM t WHERE a = :a",
				Named: map[string]interface{}{"a": 1},
			},
			text: "SELECT ':skip'::text, x::int FROM t WHERE a = $1",
			args: []interface{}{1},
		},
		{
			name:     "missing named",
			q:        query.Query{Text: "SELECT :a"},
			expected: query.ErrMissingParameter,
		},
		{
			name:     "missing positional",
			q:        query.Query{Text: "SELECT $2", Args: []interface{}{1}},
			expected: query.ErrMissingParameter,
		},
		{
			name:     "mixed",
			q:        query.Query{Text: "SELECT :a, $1", Named: map[string]interface{}{"a": 1}, Args: []interface{}{2}},
			expected: query.ErrMixedParameters,
		},
		{
			name:     "unused",
			q:        query.Query{Text: "SELECT 1", Named: map[string]interface{}{"a": 1}},
			expected: query.ErrUnusedParameter,
		},
		{
			name:     "empty",
			q:        query.Query{Text: "  "},
			expected: query.ErrEmptyQuery,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, args, err := query.Rewrite(tt.q)
			if tt.expected != nil {
				require.ErrorIs(t, err, tt.expected)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.text, text)
			if diff := deep.Equal(args, tt.args); diff != nil {
				t.Fatal("args:", diff)
			}
		})
	}
}

type fakeQueryTx struct {
	query string
	args  []interface{}
	rows  *store.Rows
}

func (f *fakeQueryTx) QueryRows(_ context.Context, q string, args ...interface{}) (*store.Rows, error) {
	f.query = q
	f.args = args
	return f.rows, nil
}

func TestHandler_Execute(t *testing.T) {
	parser, err := ident.NewHandler(ident.StrategyLong)
	require.NoError(t, err)
	h := query.NewHandler(parser, logging.Dummy())
	tx := &fakeQueryTx{rows: &store.Rows{
		Columns: []string{"object_id"},
		Values:  [][]interface{}{{"12"}, {int64(13)}, {"urn:ext"}},
	}}

	res, err := h.Execute(context.Background(), tx, query.Query{
		Text:  "SELECT object_id FROM revisions WHERE branch_id = :b",
		Named: map[string]interface{}{"b": 0},
		IDs:   true,
	})
	require.NoError(t, err)
	require.Equal(t, "SELECT object_id FROM revisions WHERE branch_id = $1", tx.query)
	require.Equal(t, []interface{}{0}, tx.args)
	require.Equal(t, []ident.ObjectID{ident.Long(12), ident.Long(13), ident.External("urn:ext")}, res.IDs)

	tx.rows = &store.Rows{}
	_, err = h.Execute(context.Background(), tx, query.Query{Text: "SELECT 1", IDs: true})
	require.ErrorIs(t, err, query.ErrNoIdentityColumn)
}
