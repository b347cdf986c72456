package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"

	srvErrors "github.com/Nanguage/executor/pkg/errors"
)

// JobRecord is the persisted snapshot of a job.
type JobRecord struct {
	ID          string
	Name        string
	Backend     string
	Status      string
	Retries     int
	RetryRemain int
	CreatedAt   time.Time
	SubmittedAt *time.Time
	StoppedAt   *time.Time
}

// JobStore handles job record storage using DuckDB.
type JobStore struct {
	db *sql.DB
}

// NewJobStore creates a new job record store.
func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

// Upsert stores or updates a job record.
func (s *JobStore) Upsert(ctx context.Context, rec *JobRecord) error {
	_, err := s.db.ExecContext(ctx, queryUpsertJob,
		rec.ID, rec.Name, rec.Backend, rec.Status,
		rec.Retries, rec.RetryRemain,
		rec.CreatedAt, nullableTime(rec.SubmittedAt), nullableTime(rec.StoppedAt),
	)
	return err
}

// Get retrieves a job record by id.
func (s *JobStore) Get(ctx context.Context, id string) (*JobRecord, error) {
	row := s.db.QueryRowContext(ctx, queryGetJob, id)
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, srvErrors.NewInvalidStateError("job record %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes a job record.
func (s *JobStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, queryDeleteJob, id)
	return err
}

// List returns job records, optionally filtered by status, newest first.
func (s *JobStore) List(ctx context.Context, status string) ([]*JobRecord, error) {
	builder := sq.Select("id", "name", "backend", "status", "retries", "retry_remain", "created_at", "submitted_at", "stopped_at").
		From("jobs").
		OrderBy("created_at DESC")
	if status != "" {
		builder = builder.Where(sq.Eq{"status": status})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*JobRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(scan func(dest ...any) error) (*JobRecord, error) {
	var (
		rec       JobRecord
		submitted sql.NullTime
		stopped   sql.NullTime
	)
	err := scan(
		&rec.ID, &rec.Name, &rec.Backend, &rec.Status,
		&rec.Retries, &rec.RetryRemain,
		&rec.CreatedAt, &submitted, &stopped,
	)
	if err != nil {
		return nil, err
	}
	if submitted.Valid {
		rec.SubmittedAt = &submitted.Time
	}
	if stopped.Valid {
		rec.StoppedAt = &stopped.Time
	}
	return &rec, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
