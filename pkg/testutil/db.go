package testutil

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/ory/dockertest/v3"
)

const (
	DBContainerTimeoutSeconds = 60 * 30 // 30 minutes

	dbUser     = "termstore"
	dbPassword = "termstore"
	dbName     = "termstore_db"
)

var (
	keepDB = flag.Bool("keep-db", false, "keep test DB instance running")
	addrDB = flag.String("db", "", "DB address to use")
)

// GetDBInstance starts a postgres container in pool, unless -db supplies an address, and
// returns its connection string and a closer that purges the container.
func GetDBInstance(pool *dockertest.Pool) (string, func()) {
	if len(*addrDB) > 0 {
		if err := verifyDBConnectionString(*addrDB); err != nil {
			log.Fatalf("could not connect to postgres: %s", err)
		}
		return *addrDB, func() {}
	}
	resource, err := pool.Run("postgres", "14", []string{
		"POSTGRES_USER=" + dbUser,
		"POSTGRES_PASSWORD=" + dbPassword,
		"POSTGRES_DB=" + dbName,
	})
	if err != nil {
		log.Fatalf("could not start postgresql: %s", err)
	}

	// expire the container, just to be on the safe side
	if !*keepDB {
		if err := resource.Expire(DBContainerTimeoutSeconds); err != nil {
			log.Fatalf("could not expire postgres container")
		}
	}

	uri := fmt.Sprintf("postgres://%s:%s@localhost:%s/%s?sslmode=disable",
		dbUser, dbPassword, resource.GetPort("5432/tcp"), dbName)

	// wait for container to start and connect to db
	if err = pool.Retry(func() error {
		return verifyDBConnectionString(uri)
	}); err != nil {
		log.Fatalf("could not connect to postgres: %s", err)
	}

	closer := func() {
		if *keepDB {
			return
		}
		if err := pool.Purge(resource); err != nil {
			log.Fatalf("could not kill postgres container")
		}
	}
	return uri, closer
}

func verifyDBConnectionString(uri string) error {
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, uri)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(ctx) }()
	return conn.Ping(ctx)
}
