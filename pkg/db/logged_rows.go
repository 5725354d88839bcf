package db

import (
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/treeverse/termstore/pkg/logging"
)

// LoggedRows is a pgx.Rows that logs the query duration once it is closed.
type LoggedRows struct {
	pgx.Rows
	start  time.Time
	l      logging.Logger
	closed bool
}

func (lr *LoggedRows) Close() {
	lr.Rows.Close()
	if lr.closed {
		return
	}
	lr.closed = true
	lr.l.WithField("took", time.Since(lr.start)).Trace("SQL query rows closed")
}

func (lr *LoggedRows) Next() bool {
	if lr.Rows.Next() {
		return true
	}
	lr.Close()
	return false
}

func Logged(rows pgx.Rows, start time.Time, l logging.Logger) *LoggedRows {
	return &LoggedRows{Rows: rows, start: start, l: l}
}
