// Package storage opens the run-record database (SQLite by default,
// Postgres optionally) and checks that local state lives on local disk.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// TimeLayout is the fixed-width UTC layout used for timestamp columns, so
// lexical and chronological order agree on both backends.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t for a timestamp column.
func FormatTime(t time.Time) string { return t.UTC().Format(TimeLayout) }

// ParseTime reads a timestamp column.
func ParseTime(s string) (time.Time, error) { return time.Parse(TimeLayout, s) }

// DB is a database handle that knows its placeholder dialect.
type DB struct {
	*sql.DB
	Driver string
}

// Rebind rewrites ? placeholders to $n for postgres.
func (db *DB) Rebind(query string) string {
	if db.Driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Open connects to the configured backend and bootstraps the schema.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	switch driver {
	case DriverSQLite, "":
		return OpenSQLite(ctx, dsn)
	case DriverPostgres:
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Bootstrap creates tables/indexes if missing. The DDL is valid on both backends.
func Bootstrap(ctx context.Context, db *DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS job_runs (
  id           TEXT PRIMARY KEY,
  job          TEXT NOT NULL,
  status       TEXT NOT NULL,
  attempts     INTEGER NOT NULL DEFAULT 1,
  duration_ms  BIGINT NOT NULL,
  error        TEXT,
  started_at   TEXT NOT NULL,
  finished_at  TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS job_runs_job_status_finished ON job_runs(job, status, finished_at);`,
		`CREATE INDEX IF NOT EXISTS job_runs_finished ON job_runs(finished_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap %s: %w", db.Driver, err)
		}
	}
	return nil
}
