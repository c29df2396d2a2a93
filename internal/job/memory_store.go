package job

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/praxisworks/jobq/internal/store"
)

// MemoryStore implements the Store interface in memory. It honors the same
// eligibility, ordering, and atomic-claim semantics as the durable store,
// which makes it usable both for tests and for local development without a
// database. The single mutex serializes claims the way the database's row
// locks do.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
	seq  map[uuid.UUID]int
	next int

	// Optional overrides for simulating store failures in tests.
	InsertFn    func(ctx context.Context, j *Job) error
	ClaimNextFn func(ctx context.Context, workerID string, now time.Time) (*Job, error)
}

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[uuid.UUID]*Job),
		seq:  make(map[uuid.UUID]int),
	}
}

// Insert persists a new job record.
func (s *MemoryStore) Insert(ctx context.Context, j *Job) error {
	if s.InsertFn != nil {
		return s.InsertFn(ctx, j)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[j.ID]; exists {
		return fmt.Errorf("%w: job %s", store.ErrDuplicate, j.ID)
	}

	cp := *j
	s.jobs[j.ID] = &cp
	s.seq[j.ID] = s.next
	s.next++
	return nil
}

// ClaimNext atomically claims the oldest eligible job for workerID.
func (s *MemoryStore) ClaimNext(ctx context.Context, workerID string, now time.Time) (*Job, error) {
	if s.ClaimNextFn != nil {
		return s.ClaimNextFn(ctx, workerID, now)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Job
	for _, j := range s.jobs {
		if j.Status != StatusPending && j.Status != StatusRetrying {
			continue
		}
		if j.AvailableAt.After(now) {
			continue
		}
		if best == nil || claimLess(j, best, s.seq) {
			best = j
		}
	}

	if best == nil {
		return nil, nil
	}

	best.Status = StatusRunning
	best.LockedBy = workerID
	lockedAt := now
	best.LockedAt = &lockedAt
	best.Attempts++
	best.UpdatedAt = now

	cp := *best
	return &cp, nil
}

// claimLess orders jobs by available_at, then created_at, then insertion
// order, matching the durable store's claim ordering.
func claimLess(a, b *Job, seq map[uuid.UUID]int) bool {
	if !a.AvailableAt.Equal(b.AvailableAt) {
		return a.AvailableAt.Before(b.AvailableAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return seq[a.ID] < seq[b.ID]
}

// Complete marks a job completed and clears its lock fields.
func (s *MemoryStore) Complete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, exists := s.jobs[id]
	if !exists {
		return store.ErrJobNotFound
	}
	if j.Status == StatusDeadLettered {
		return nil
	}

	j.Status = StatusCompleted
	j.LockedBy = ""
	j.LockedAt = nil
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail records a failed attempt, retrying or dead-lettering per the job's
// attempt ceiling.
func (s *MemoryStore) Fail(ctx context.Context, id uuid.UUID, errMsg string, retryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, exists := s.jobs[id]
	if !exists {
		return store.ErrJobNotFound
	}

	if j.Attempts >= j.MaxAttempts {
		j.Status = StatusDeadLettered
	} else {
		j.Status = StatusRetrying
		j.AvailableAt = retryAt
	}
	j.LastError = errMsg
	j.LockedBy = ""
	j.LockedAt = nil
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkDeadLettered moves a job straight to the dead-letter state.
func (s *MemoryStore) MarkDeadLettered(ctx context.Context, id uuid.UUID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, exists := s.jobs[id]
	if !exists {
		return store.ErrJobNotFound
	}

	j.Status = StatusDeadLettered
	j.LastError = errMsg
	j.LockedBy = ""
	j.LockedAt = nil
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// ReclaimStale requeues running jobs whose claim is older than olderThan.
func (s *MemoryStore) ReclaimStale(ctx context.Context, olderThan time.Duration, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-olderThan)
	var count int64
	for _, j := range s.jobs {
		if j.Status != StatusRunning || j.LockedAt == nil || !j.LockedAt.Before(cutoff) {
			continue
		}
		j.Status = StatusRetrying
		j.AvailableAt = now
		j.LockedBy = ""
		j.LockedAt = nil
		j.LastError = "claim expired, worker presumed dead"
		j.UpdatedAt = now
		count++
	}
	return count, nil
}

// GetJob retrieves a job by ID.
func (s *MemoryStore) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, exists := s.jobs[id]
	if !exists {
		return nil, store.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// ListJobs retrieves jobs newest-first with optional status filter.
func (s *MemoryStore) ListJobs(ctx context.Context, status Status, limit, offset int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []*Job
	for _, j := range s.jobs {
		if status != "" && j.Status != status {
			continue
		}
		cp := *j
		jobs = append(jobs, &cp)
	}

	sort.Slice(jobs, func(a, b int) bool {
		if !jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
		}
		return s.seq[jobs[a].ID] > s.seq[jobs[b].ID]
	})

	if offset >= len(jobs) {
		return nil, nil
	}
	jobs = jobs[offset:]
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// WithTx returns the store unchanged; the in-memory store has no
// transactions.
func (s *MemoryStore) WithTx(_ *sql.Tx) Store {
	return s
}
