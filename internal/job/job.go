package job

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a job
type Status string

// Possible job status values
const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusRetrying     Status = "retrying"
	StatusDeadLettered Status = "dead_lettered"
)

// IsTerminal reports whether the status can never be claimed again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDeadLettered
}

// Job represents a unit of background work to be processed.
//
// A job is created by a producer via Queue.Enqueue, mutated only by the
// claiming worker (execution outcome) or by the stale-claim reaper, and
// becomes eligible for claiming once AvailableAt has passed.
type Job struct {
	// ID is the job's unique identifier, assigned at creation, immutable.
	ID uuid.UUID

	// Kind identifies which registered handler executes this job.
	Kind string

	// Payload is opaque serialized data interpreted only by the handler.
	Payload []byte

	// Status is the job's position in its lifecycle.
	Status Status

	// Attempts counts execution attempts so far. It is incremented exactly
	// once per successful claim, inside the claim statement itself.
	Attempts int

	// MaxAttempts is the ceiling; a failure at or past it dead-letters the job.
	MaxAttempts int

	// LastError is the most recent failure message, empty if none.
	LastError string

	// LockedBy is the identity of the claiming worker while Running.
	LockedBy string

	// LockedAt is the claim timestamp, used to detect stale claims.
	LockedAt *time.Time

	// AvailableAt is the earliest time the job is eligible for claiming.
	// Retries push it forward by the backoff policy.
	AvailableAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewJob builds a pending job record with a fresh ID. availableAt controls
// delayed execution; pass the current time for immediate eligibility.
func NewJob(kind string, payload []byte, maxAttempts int, availableAt time.Time) *Job {
	now := time.Now().UTC()
	if availableAt.Before(now) {
		availableAt = now
	}
	return &Job{
		ID:          uuid.New(),
		Kind:        kind,
		Payload:     payload,
		Status:      StatusPending,
		MaxAttempts: maxAttempts,
		AvailableAt: availableAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
