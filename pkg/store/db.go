package store

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Open opens either a Postgres or an embedded sqlite database depending on
// driver. driver is "postgres" or "sqlite"; dsn is passed through
// unchanged to the matching driver (a libpq connection string, or a file
// path / ":memory:" for sqlite). Single-process deployments that want to
// avoid standing up Postgres use the sqlite path; everything else in this
// package is driver-agnostic database/sql, so either works against the
// same schema.
func Open(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case "postgres":
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("store: open postgres: %w", err)
		}
		return db, nil
	case "sqlite":
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("store: open sqlite: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}
