package job

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// QueueConfig holds the queue's policy knobs.
type QueueConfig struct {
	// DefaultMaxAttempts applies to jobs enqueued without WithMaxAttempts.
	DefaultMaxAttempts int

	// Backoff computes the retry delay from the attempt count.
	Backoff Backoff
}

// DefaultQueueConfig returns a QueueConfig with reasonable defaults
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		DefaultMaxAttempts: 5,
		Backoff:            DefaultBackoff(),
	}
}

// Queue is the coordination layer over the job store. It owns eligibility and
// ordering policy (oldest-ready-first over available_at, created_at) and the
// retry backoff function; all cross-worker coordination happens through the
// store's atomic claim, so Queue itself holds no locks across callers.
type Queue struct {
	store  Store
	config QueueConfig
	logger *slog.Logger
}

// NewQueue creates a Queue over the given store.
func NewQueue(store Store, config QueueConfig, logger *slog.Logger) *Queue {
	if config.DefaultMaxAttempts <= 0 {
		config.DefaultMaxAttempts = DefaultQueueConfig().DefaultMaxAttempts
	}
	if config.Backoff == (Backoff{}) {
		config.Backoff = DefaultBackoff()
	}
	return &Queue{
		store:  store,
		config: config,
		logger: logger,
	}
}

// enqueueOptions collects per-job overrides of the queue defaults.
type enqueueOptions struct {
	delay       time.Duration
	maxAttempts int
}

// EnqueueOption configures a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

// WithDelay delays the job's first eligibility by d.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) { o.delay = d }
}

// WithMaxAttempts overrides the queue's default attempt ceiling for this job.
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) { o.maxAttempts = n }
}

// Enqueue creates a pending job and returns its ID. The payload is opaque to
// the queue; only the handler registered for kind interprets it.
func (q *Queue) Enqueue(
	ctx context.Context,
	kind string,
	payload []byte,
	opts ...EnqueueOption,
) (uuid.UUID, error) {
	return q.enqueue(ctx, q.store, kind, payload, opts...)
}

// EnqueueTx is Enqueue on a caller-managed transaction, letting producers
// commit a job atomically with their own writes.
func (q *Queue) EnqueueTx(
	ctx context.Context,
	tx *sql.Tx,
	kind string,
	payload []byte,
	opts ...EnqueueOption,
) (uuid.UUID, error) {
	return q.enqueue(ctx, q.store.WithTx(tx), kind, payload, opts...)
}

func (q *Queue) enqueue(
	ctx context.Context,
	store Store,
	kind string,
	payload []byte,
	opts ...EnqueueOption,
) (uuid.UUID, error) {
	if kind == "" {
		return uuid.Nil, fmt.Errorf("job kind must not be empty")
	}

	options := enqueueOptions{maxAttempts: q.config.DefaultMaxAttempts}
	for _, opt := range opts {
		opt(&options)
	}
	if options.maxAttempts <= 0 {
		options.maxAttempts = q.config.DefaultMaxAttempts
	}

	j := NewJob(kind, payload, options.maxAttempts, time.Now().UTC().Add(options.delay))
	if err := store.Insert(ctx, j); err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.logger.Debug("job enqueued",
		"job_id", j.ID,
		"kind", j.Kind,
		"max_attempts", j.MaxAttempts,
		"available_at", j.AvailableAt)
	return j.ID, nil
}

// Dequeue claims the next eligible job for workerID. Returns (nil, nil) when
// the queue is empty; the caller is expected to wait out a poll interval
// rather than spin.
func (q *Queue) Dequeue(ctx context.Context, workerID string) (*Job, error) {
	j, err := q.store.ClaimNext(ctx, workerID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return j, nil
}

// Ack reports successful execution. Acking an already-completed job is a
// no-op.
func (q *Queue) Ack(ctx context.Context, id uuid.UUID) error {
	if err := q.store.Complete(ctx, id); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// Nack reports a failed execution. The job retries after the backoff delay
// for its attempt count, or dead-letters once its ceiling is reached.
func (q *Queue) Nack(ctx context.Context, j *Job, cause error) error {
	retryAt := time.Now().UTC().Add(q.config.Backoff.Delay(j.Attempts))
	if err := q.store.Fail(ctx, j.ID, cause.Error(), retryAt); err != nil {
		return fmt.Errorf("failed to record job failure: %w", err)
	}
	return nil
}

// Discard dead-letters a job immediately, bypassing remaining attempts. Used
// for permanent failures where retrying cannot change the outcome.
func (q *Queue) Discard(ctx context.Context, j *Job, cause error) error {
	if err := q.store.MarkDeadLettered(ctx, j.ID, cause.Error()); err != nil {
		return fmt.Errorf("failed to dead-letter job: %w", err)
	}
	q.logger.Warn("job dead-lettered without retry",
		"job_id", j.ID,
		"kind", j.Kind,
		"error", cause)
	return nil
}

// ReclaimStale requeues running jobs whose claim is older than olderThan,
// presuming their worker crashed. Returns the number of jobs recovered.
func (q *Queue) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	count, err := q.store.ReclaimStale(ctx, olderThan, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale jobs: %w", err)
	}
	return count, nil
}

// Get retrieves a single job for status inspection.
func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	return q.store.GetJob(ctx, id)
}

// List retrieves jobs newest-first, optionally filtered by status (empty
// status means all), with limit/offset pagination. A non-positive limit
// falls back to a page of 50.
func (q *Queue) List(ctx context.Context, status Status, limit, offset int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return q.store.ListJobs(ctx, status, limit, offset)
}
