package db

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"github.com/treeverse/termstore/pkg/logging"
)

func TestErrorClassification(t *testing.T) {
	serialization := fmt.Errorf("commit: %w", &pgconn.PgError{Code: pgCodeSerializationFailure})
	require.True(t, IsSerializationError(serialization))
	require.False(t, IsSerializationError(errors.New("other")))

	dial := fmt.Errorf("connect: %w", &net.OpError{Op: "dial", Err: errors.New("refused")})
	require.True(t, isDialError(dial))
	require.False(t, isDialError(&net.OpError{Op: "read", Err: errors.New("reset")}))
}

func TestHandleSQLError(t *testing.T) {
	tx := &dbTx{logger: logging.Dummy()}

	err := tx.handleSQLError(&pgconn.PgError{Code: pgCodeUniqueViolation}, "exec", "INSERT INTO x VALUES (1)")
	require.ErrorIs(t, err, ErrAlreadyExists)

	err = tx.handleSQLError(pgx.ErrNoRows, "get", "SELECT 1")
	require.ErrorIs(t, err, ErrNotFound)

	cause := errors.New("broken pipe")
	err = tx.handleSQLError(cause, "exec", "UPDATE   x\n  SET y = 1")
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "UPDATE x SET y = 1")
}
