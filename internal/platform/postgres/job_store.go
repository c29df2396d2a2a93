package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/praxisworks/jobq/internal/job"
	"github.com/praxisworks/jobq/internal/platform/logger"
	"github.com/praxisworks/jobq/internal/store"
)

// jobColumns is the column list every row scan in this file uses.
const jobColumns = `id, kind, payload, status, attempts, max_attempts,
	last_error, locked_by, locked_at, available_at, created_at, updated_at`

// JobStore implements the job.Store interface using PostgreSQL. All
// cross-worker coordination relies on the database's row locks: the claim is
// one conditional UPDATE over a FOR UPDATE SKIP LOCKED subselect, so two
// workers can never claim the same row.
type JobStore struct {
	db store.DBTX
}

// NewJobStore creates a new JobStore
func NewJobStore(db store.DBTX) *JobStore {
	return &JobStore{
		db: db,
	}
}

// WithTx returns a JobStore bound to the provided transaction.
func (s *JobStore) WithTx(tx *sql.Tx) job.Store {
	return &JobStore{
		db: tx,
	}
}

// Insert persists a new job record.
func (s *JobStore) Insert(ctx context.Context, j *job.Job) error {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO jobs (id, kind, payload, status, attempts, max_attempts,
			last_error, locked_by, locked_at, available_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.db.ExecContext(ctx, query,
		j.ID,
		j.Kind,
		j.Payload,
		j.Status,
		j.Attempts,
		j.MaxAttempts,
		nullString(j.LastError),
		nullString(j.LockedBy),
		j.LockedAt,
		j.AvailableAt,
		j.CreatedAt,
		j.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to insert job",
			"job_id", j.ID,
			"kind", j.Kind,
			"error", err)
		return fmt.Errorf("failed to insert job: %w", MapError(err))
	}

	return nil
}

// ClaimNext atomically claims the oldest eligible job for workerID.
//
// The subselect picks one eligible row in (available_at, created_at) order;
// FOR UPDATE SKIP LOCKED makes concurrent claimers skip rows another
// transaction is already claiming instead of blocking on them, so the
// selection and lock are a single atomic operation. The attempt counter is
// incremented here, exactly once per claim.
func (s *JobStore) ClaimNext(ctx context.Context, workerID string, now time.Time) (*job.Job, error) {
	query := `
		UPDATE jobs SET
			status = $1,
			locked_by = $2,
			locked_at = $3,
			attempts = attempts + 1,
			updated_at = $3
		WHERE id = (
			SELECT id FROM jobs
			WHERE status IN ($4, $5)
			  AND available_at <= $3
			ORDER BY available_at ASC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + jobColumns

	row := s.db.QueryRowContext(ctx, query,
		job.StatusRunning,
		workerID,
		now.UTC(),
		job.StatusPending,
		job.StatusRetrying,
	)

	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Empty queue, not an error.
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", MapError(err))
	}

	return j, nil
}

// Complete marks a job completed and clears its lock fields. Re-completing a
// completed job is a no-op; a dead-lettered job is never resurrected.
func (s *JobStore) Complete(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE jobs
		SET status = $1, locked_by = NULL, locked_at = NULL, updated_at = $2
		WHERE id = $3 AND status <> $4
	`

	result, err := s.db.ExecContext(ctx, query,
		job.StatusCompleted,
		time.Now().UTC(),
		id,
		job.StatusDeadLettered,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", MapError(err))
	}

	if err := CheckRowsAffected(result, "job"); err != nil {
		// Distinguish a missing row from a dead-lettered one.
		if _, getErr := s.GetJob(ctx, id); getErr != nil {
			return store.ErrJobNotFound
		}
		return nil
	}

	return nil
}

// Fail records a failed execution attempt. The retry-or-dead-letter branch
// runs inside the statement so it is atomic with respect to the row.
func (s *JobStore) Fail(ctx context.Context, id uuid.UUID, errMsg string, retryAt time.Time) error {
	query := `
		UPDATE jobs SET
			status = CASE WHEN attempts >= max_attempts THEN $1 ELSE $2 END,
			available_at = CASE WHEN attempts >= max_attempts THEN available_at ELSE $3 END,
			last_error = $4,
			locked_by = NULL,
			locked_at = NULL,
			updated_at = $5
		WHERE id = $6
	`

	result, err := s.db.ExecContext(ctx, query,
		job.StatusDeadLettered,
		job.StatusRetrying,
		retryAt.UTC(),
		errMsg,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to record job failure: %w", MapError(err))
	}

	if err := CheckRowsAffected(result, "job"); err != nil {
		return store.ErrJobNotFound
	}

	return nil
}

// MarkDeadLettered moves a job straight to the dead-letter state.
func (s *JobStore) MarkDeadLettered(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE jobs SET
			status = $1,
			last_error = $2,
			locked_by = NULL,
			locked_at = NULL,
			updated_at = $3
		WHERE id = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		job.StatusDeadLettered,
		errMsg,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to dead-letter job: %w", MapError(err))
	}

	if err := CheckRowsAffected(result, "job"); err != nil {
		return store.ErrJobNotFound
	}

	return nil
}

// ReclaimStale requeues running jobs whose claim predates the threshold. The
// attempt counter is left alone; it was already incremented when the crashed
// worker claimed the row.
func (s *JobStore) ReclaimStale(ctx context.Context, olderThan time.Duration, now time.Time) (int64, error) {
	log := logger.FromContext(ctx)

	query := `
		UPDATE jobs SET
			status = $1,
			available_at = $2,
			last_error = $3,
			locked_by = NULL,
			locked_at = NULL,
			updated_at = $2
		WHERE status = $4 AND locked_at < $5
	`

	cutoff := now.UTC().Add(-olderThan)
	result, err := s.db.ExecContext(ctx, query,
		job.StatusRetrying,
		now.UTC(),
		"claim expired, worker presumed dead",
		job.StatusRunning,
		cutoff,
	)
	if err != nil {
		log.Error("failed to reclaim stale jobs",
			"older_than", olderThan,
			"error", err)
		return 0, fmt.Errorf("failed to reclaim stale jobs: %w", MapError(err))
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return count, nil
}

// GetJob retrieves a job by ID.
func (s *JobStore) GetJob(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	j, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", MapError(err))
	}

	return j, nil
}

// ListJobs retrieves jobs newest-first with optional status filter.
func (s *JobStore) ListJobs(ctx context.Context, status job.Status, limit, offset int) ([]*job.Job, error) {
	log := logger.FromContext(ctx)

	var query string
	var args []any

	if status != "" {
		query = `SELECT ` + jobColumns + `
			FROM jobs
			WHERE status = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3`
		args = []any{status, limit, offset}
	} else {
		query = `SELECT ` + jobColumns + `
			FROM jobs
			ORDER BY created_at DESC
			LIMIT $1 OFFSET $2`
		args = []any{limit, offset}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to list jobs",
			"status", status,
			"error", err)
		return nil, fmt.Errorf("failed to list jobs: %w", MapError(err))
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}

	return jobs, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanJob.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob maps one database row onto a job record.
func scanJob(row rowScanner) (*job.Job, error) {
	var j job.Job
	var lastError sql.NullString
	var lockedBy sql.NullString
	var lockedAt sql.NullTime

	err := row.Scan(
		&j.ID,
		&j.Kind,
		&j.Payload,
		&j.Status,
		&j.Attempts,
		&j.MaxAttempts,
		&lastError,
		&lockedBy,
		&lockedAt,
		&j.AvailableAt,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.LastError = lastError.String
	j.LockedBy = lockedBy.String
	if lockedAt.Valid {
		t := lockedAt.Time
		j.LockedAt = &t
	}

	return &j, nil
}

// nullString maps an empty string onto SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
