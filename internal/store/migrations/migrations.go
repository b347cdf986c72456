// Package migrations creates the job-record schema.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id VARCHAR PRIMARY KEY,
		name VARCHAR NOT NULL,
		backend VARCHAR NOT NULL,
		status VARCHAR NOT NULL,
		retries INTEGER NOT NULL DEFAULT 0,
		retry_remain INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP,
		submitted_at TIMESTAMP,
		stopped_at TIMESTAMP,
		updated_at TIMESTAMP DEFAULT now()
	)`,
}

// Run applies all migrations in order.
func Run(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
