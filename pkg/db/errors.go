package db

import (
	"errors"
	"fmt"
	"net"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgCodeSerializationFailure = "40001"
	pgCodeUniqueViolation      = "23505"
)

var (
	ErrNotFound      = fmt.Errorf("not found: %w", pgx.ErrNoRows)
	ErrAlreadyExists = errors.New("already exists")
	ErrSerialization = errors.New("serialization error")
)

func isPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func IsSerializationError(err error) bool {
	return isPGCode(err, pgCodeSerializationFailure)
}

func isUniqueViolation(err error) bool {
	return isPGCode(err, pgCodeUniqueViolation)
}

func isDialError(err error) bool {
	netError := &net.OpError{}
	return errors.As(err, &netError) && netError.Op == "dial"
}

func (d *dbTx) handleSQLError(err error, cmdType string, query string) error {
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if pgxscan.NotFound(err) || errors.Is(err, pgx.ErrNoRows) {
		d.logger.Trace("SQL query returned no results")
		return ErrNotFound
	}
	dbErrorsCounter.WithLabelValues(cmdType).Inc()
	d.logger.WithError(err).WithField("query", queryToString(query)).Error("SQL query failed with error")
	return fmt.Errorf("query %s: %w", queryToString(query), err)
}
