package store

// Job record queries
const (
	queryUpsertJob = `
		INSERT INTO jobs (id, name, backend, status, retries, retry_remain, created_at, submitted_at, stopped_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			backend = EXCLUDED.backend,
			status = EXCLUDED.status,
			retries = EXCLUDED.retries,
			retry_remain = EXCLUDED.retry_remain,
			submitted_at = EXCLUDED.submitted_at,
			stopped_at = EXCLUDED.stopped_at,
			updated_at = now()`

	queryGetJob = `
		SELECT id, name, backend, status, retries, retry_remain, created_at, submitted_at, stopped_at
		FROM jobs WHERE id = ?`

	queryDeleteJob = `
		DELETE FROM jobs WHERE id = ?`
)
