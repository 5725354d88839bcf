package storetest

import (
	"context"
	"testing"

	"github.com/treeverse/termstore/pkg/accessor"
	"github.com/treeverse/termstore/pkg/logging"
	"github.com/treeverse/termstore/pkg/store"
	"github.com/treeverse/termstore/pkg/store/mem"
)

// NewMemPools returns accessor pools over a fresh in-memory backend holding the main branch.
func NewMemPools(t testing.TB) (*accessor.Pools, *mem.Backend) {
	t.Helper()
	ctx := context.Background()
	backend := mem.New()
	if err := backend.Setup(ctx); err != nil {
		t.Fatalf("setup mem backend: %s", err)
	}
	pools, err := accessor.NewPools(backend, accessor.Config{}, logging.Dummy())
	if err != nil {
		t.Fatalf("create pools: %s", err)
	}
	t.Cleanup(func() { _ = pools.Close() })
	err = pools.Write(ctx, func(tx store.Tx) error {
		return tx.InsertBranch(ctx, store.Branch{
			ID:           store.MainBranchID,
			Name:         store.MainBranchName,
			BaseBranchID: store.MainBranchID,
		})
	})
	if err != nil {
		t.Fatalf("insert main branch: %s", err)
	}
	return pools, backend
}
