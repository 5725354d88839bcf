package mem_test

import (
	"context"
	"testing"

	"github.com/treeverse/termstore/pkg/index"
	"github.com/treeverse/termstore/pkg/index/indextest"
	"github.com/treeverse/termstore/pkg/index/mem"
)

func TestMemIndex(t *testing.T) {
	indextest.TestDriver(t, func(t *testing.T, ctx context.Context) index.Store {
		t.Helper()
		s, err := index.Open(ctx, index.Params{Type: mem.DriverName})
		if err != nil {
			t.Fatalf("failed to open index '%s': %s", mem.DriverName, err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
