// Package store persists job records under the engine cache directory. The
// records are informational snapshots of the registry; the scheduler never
// reads them back for its own decisions.
package store

import (
	"database/sql"

	_ "github.com/duckdb/duckdb-go/v2"
)

// Store provides access to all storage repositories.
type Store struct {
	db   *sql.DB
	jobs *JobStore
}

// NewDB opens a DuckDB database at path. ":memory:" (or an empty path)
// opens an in-memory database.
func NewDB(path string) (*sql.DB, error) {
	if path == ":memory:" {
		path = ""
	}
	return sql.Open("duckdb", path)
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:   db,
		jobs: NewJobStore(db),
	}
}

func (s *Store) Jobs() *JobStore {
	return s.jobs
}

func (s *Store) Close() error {
	return s.db.Close()
}
