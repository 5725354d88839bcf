package postgres_test

import (
	"testing"

	"github.com/treeverse/termstore/pkg/db/params"
	"github.com/treeverse/termstore/pkg/store/postgres"
	"github.com/treeverse/termstore/pkg/store/storetest"
)

func TestPostgresStore(t *testing.T) {
	if databaseURI == "" {
		t.Skip("postgres is not available")
	}
	storetest.TestDriver(t, postgres.DriverName, &params.Database{
		ConnectionString:   databaseURI,
		MaxOpenConnections: 8,
		MaxIdleConnections: 2,
	})
}
