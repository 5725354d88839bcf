package postgres_test

import (
	"flag"
	"log"
	"os"
	"testing"

	"github.com/ory/dockertest/v3"
	"github.com/treeverse/termstore/pkg/logging"
	"github.com/treeverse/termstore/pkg/testutil"
)

var databaseURI string

func TestMain(m *testing.M) {
	flag.Parse()
	if !testing.Verbose() {
		// keep the log level calm
		logging.SetLevel("panic")
	}
	if testing.Short() {
		os.Exit(m.Run())
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		log.Printf("Could not connect to Docker, postgres tests are skipped: %s", err)
		os.Exit(m.Run())
	}
	var closer func()
	databaseURI, closer = testutil.GetDBInstance(pool)
	code := m.Run()
	closer()
	os.Exit(code)
}
