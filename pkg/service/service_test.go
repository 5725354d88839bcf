package service_test

import (
	"context"
	"flag"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/treeverse/termstore/pkg/commit"
	"github.com/treeverse/termstore/pkg/config"
	"github.com/treeverse/termstore/pkg/ident"
	"github.com/treeverse/termstore/pkg/index"
	"github.com/treeverse/termstore/pkg/logging"
	"github.com/treeverse/termstore/pkg/metadata"
	"github.com/treeverse/termstore/pkg/query"
	"github.com/treeverse/termstore/pkg/revision"
	"github.com/treeverse/termstore/pkg/service"
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

func testConfig(indexType, indexPath string) *config.Config {
	return &config.Config{
		Database: config.Database{Type: config.DatabaseTypeMem},
		Store: config.Store{
			IDStrategy:         config.IDStrategyLong,
			ReaderPoolCapacity: config.DefaultStoreReaderPoolCapacity,
			WriterPoolCapacity: config.DefaultStoreWriterPoolCapacity,
			KeepAlivePeriod:    config.DefaultStoreKeepAlivePeriod,
		},
		Index: config.Index{
			Type: indexType,
			Local: config.LocalIndex{
				Path:          indexPath,
				EncodeWorkers: 2,
				GCInterval:    time.Hour,
			},
		},
		Cache: config.Cache{Size: 16, Expiry: time.Minute},
	}
}

func TestService_CommitAndRead(t *testing.T) {
	cases := []struct {
		name      string
		indexType string
	}{
		{name: "mem", indexType: config.IndexTypeMem},
		{name: "local", indexType: config.IndexTypeLocal},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			svc, err := service.New(ctx, testConfig(tt.indexType, t.TempDir()), logging.Dummy())
			testutil.Must(t, err)
			testutil.Must(t, svc.Activate(ctx))
			defer func() { testutil.Must(t, svc.Close(ctx)) }()

			id, err := svc.Repo.IDs().NextID(store.Branch{ID: store.MainBranchID})
			testutil.Must(t, err)
			res, err := svc.Commits.Run(ctx, commit.Request{
				Branch:  store.MainBranchID,
				UserID:  "alice",
				Comment: "add",
				Changes: []revision.Change{{Kind: revision.ChangeNew, ObjectID: id, Type: "concept", Fields: map[string]interface{}{"term": "heart"}}},
			})
			testutil.Must(t, err)
			require.True(t, res.Committed())

			err = svc.Index.WithReadSnapshot(ctx, store.MainBranchID, func(snap index.Snapshot) error {
				doc, err := snap.Get(ctx, index.Key{Type: "concept", ID: id.String()})
				if err != nil {
					return err
				}
				require.Equal(t, "heart", doc.Fields["term"])
				return nil
			})
			testutil.Must(t, err)
		})
	}
}

func TestService_Types(t *testing.T) {
	ctx := context.Background()
	types := metadata.NewRegistry()
	_, err := types.Register("concept", metadata.Field{Name: "term", Kind: metadata.KindString, Required: true})
	testutil.Must(t, err)
	svc, err := service.New(ctx, testConfig(config.IndexTypeMem, ""), logging.Dummy(), service.WithTypes(types))
	testutil.Must(t, err)
	testutil.Must(t, svc.Activate(ctx))
	defer func() { testutil.Must(t, svc.Close(ctx)) }()

	_, err = svc.Commits.Run(ctx, commit.Request{
		Branch:  store.MainBranchID,
		Changes: []revision.Change{{Kind: revision.ChangeNew, ObjectID: ident.Long(1), Type: "concept", Fields: map[string]interface{}{}}},
	})
	require.ErrorIs(t, err, metadata.ErrInvalidField)
}

func TestService_BadConfig(t *testing.T) {
	cfg := testConfig("nope", "")
	_, err := service.New(context.Background(), cfg, logging.Dummy())
	require.ErrorIs(t, err, config.ErrBadConfiguration)
}

func TestService_Query(t *testing.T) {
	ctx := context.Background()
	svc, err := service.New(ctx, testConfig(config.IndexTypeMem, ""), logging.Dummy())
	testutil.Must(t, err)
	testutil.Must(t, svc.Activate(ctx))
	defer func() { testutil.Must(t, svc.Close(ctx)) }()

	_, err = svc.Query(ctx, query.Query{Text: "  "})
	require.ErrorIs(t, err, query.ErrEmptyQuery)
	_, err = svc.Query(ctx, query.Query{Text: "SELECT id FROM branches WHERE id = :id"})
	require.ErrorIs(t, err, query.ErrMissingParameter)
	// the mem backend has no query language
	_, err = svc.Query(ctx, query.Query{Text: "SELECT id FROM branches"})
	require.ErrorIs(t, err, store.ErrUnsupported)
}
