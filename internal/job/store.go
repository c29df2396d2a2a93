package job

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Store defines the interface for persisting jobs. Implementations must be
// safe for concurrent callers from multiple workers against the same backing
// store; ClaimNext in particular must be a single atomic operation so that no
// two workers can claim the same job.
// Version: 1.0
type Store interface {
	// Insert persists a new job record.
	Insert(ctx context.Context, j *Job) error

	// ClaimNext atomically selects one eligible job (pending or retrying,
	// available_at <= now), ordered by available_at then created_at, marks it
	// running, records the claiming worker and claim time, and increments its
	// attempt counter. Returns (nil, nil) when no job is eligible; that is
	// not an error.
	ClaimNext(ctx context.Context, workerID string, now time.Time) (*Job, error)

	// Complete marks a job completed and clears its lock fields. Completing
	// an already-completed job is a no-op. Returns store.ErrJobNotFound if
	// the job does not exist.
	Complete(ctx context.Context, id uuid.UUID) error

	// Fail records a failed execution attempt. While the job has attempts
	// remaining it becomes retrying, eligible again at retryAt; once its
	// attempt ceiling is reached it is dead-lettered instead. Lock fields are
	// cleared and the error message recorded either way.
	Fail(ctx context.Context, id uuid.UUID, errMsg string, retryAt time.Time) error

	// MarkDeadLettered moves a job straight to the dead-letter state,
	// bypassing remaining attempts. Used for permanent failures such as an
	// unregistered kind, where retrying cannot help.
	MarkDeadLettered(ctx context.Context, id uuid.UUID, errMsg string) error

	// ReclaimStale resets running jobs whose claim is older than olderThan
	// back to retrying with immediate eligibility, clearing their lock
	// fields. The attempt counter is not touched; the increment already
	// happened at claim time. Returns the number of jobs reclaimed.
	ReclaimStale(ctx context.Context, olderThan time.Duration, now time.Time) (int64, error)

	// GetJob retrieves a job by ID. Returns store.ErrJobNotFound when absent.
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)

	// ListJobs retrieves jobs newest-first, optionally filtered by status
	// (empty status means all), with limit/offset pagination.
	ListJobs(ctx context.Context, status Status, limit, offset int) ([]*Job, error)

	// WithTx returns a new Store instance that uses the provided transaction.
	// This allows a producer to enqueue a job atomically with its own writes.
	// The transaction is created and managed by the caller.
	WithTx(tx *sql.Tx) Store
}
