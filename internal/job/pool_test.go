package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPoolConfig returns a config with intervals short enough for tests. The
// stale threshold is deliberately large so the reaper never races against
// handlers that are legitimately still running.
func testPoolConfig() PoolConfig {
	return PoolConfig{
		WorkerCount:     2,
		PollInterval:    5 * time.Millisecond,
		HandlerTimeout:  time.Second,
		StaleAfter:      time.Hour,
		ReapInterval:    time.Hour,
		ShutdownTimeout: 5 * time.Second,
	}
}

// fastBackoff retries almost immediately so multi-attempt tests finish fast.
func fastBackoff() Backoff {
	return Backoff{Base: time.Millisecond, Cap: 2 * time.Millisecond}
}

func newTestQueue(t *testing.T, s Store) *Queue {
	t.Helper()
	return NewQueue(s, QueueConfig{DefaultMaxAttempts: 3, Backoff: fastBackoff()}, testLogger())
}

func TestNewPool_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, NewMemoryStore())
	r := NewRegistry()

	tests := []struct {
		name   string
		mutate func(*PoolConfig)
	}{
		{"zero worker count", func(c *PoolConfig) { c.WorkerCount = 0 }},
		{"negative worker count", func(c *PoolConfig) { c.WorkerCount = -1 }},
		{"zero poll interval", func(c *PoolConfig) { c.PollInterval = 0 }},
		{"zero handler timeout", func(c *PoolConfig) { c.HandlerTimeout = 0 }},
		{"zero stale threshold", func(c *PoolConfig) { c.StaleAfter = 0 }},
		{"zero reap interval", func(c *PoolConfig) { c.ReapInterval = 0 }},
		{"zero shutdown timeout", func(c *PoolConfig) { c.ShutdownTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testPoolConfig()
			tt.mutate(&cfg)

			pool, err := NewPool(q, r, cfg, testLogger())
			assert.Error(t, err)
			assert.Nil(t, pool)
		})
	}
}

func TestPool_StartTwice(t *testing.T) {
	t.Parallel()

	pool, err := NewPool(newTestQueue(t, NewMemoryStore()), NewRegistry(), testPoolConfig(), testLogger())
	require.NoError(t, err)

	require.NoError(t, pool.Start())
	defer pool.Stop(false)

	assert.ErrorIs(t, pool.Start(), ErrPoolRunning)
}

// TestPool_EchoJobCompletes enqueues an "echo" job whose handler succeeds and
// verifies one claim cycle completes it.
func TestPool_EchoJobCompletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := NewMemoryStore()
	q := newTestQueue(t, s)

	var mu sync.Mutex
	var received []byte

	r := NewRegistry()
	require.NoError(t, r.Register("echo", func(ctx context.Context, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		received = append([]byte(nil), payload...)
		return nil
	}))

	pool, err := NewPool(q, r, testPoolConfig(), testLogger())
	require.NoError(t, err)
	require.NoError(t, pool.Start())
	defer pool.Stop(false)

	id, err := q.Enqueue(ctx, "echo", []byte("hi"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := q.Get(ctx, id)
		return err == nil && j.Status == StatusCompleted
	}, 5*time.Second, 10*time.Millisecond, "job should complete")

	j, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, j.Attempts)
	assert.Empty(t, j.LockedBy)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []byte("hi"), received)
}

// TestPool_FailingJobDeadLetters enqueues a "noop" job whose handler always
// fails with a transient error; after three claim/execute cycles the job is
// dead-lettered with attempts = 3.
func TestPool_FailingJobDeadLetters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := NewMemoryStore()
	q := newTestQueue(t, s)

	r := NewRegistry()
	require.NoError(t, r.Register("noop", func(ctx context.Context, payload []byte) error {
		return errors.New("transient failure")
	}))

	pool, err := NewPool(q, r, testPoolConfig(), testLogger())
	require.NoError(t, err)
	require.NoError(t, pool.Start())
	defer pool.Stop(false)

	id, err := q.Enqueue(ctx, "noop", nil, WithMaxAttempts(3))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := q.Get(ctx, id)
		return err == nil && j.Status == StatusDeadLettered
	}, 5*time.Second, 10*time.Millisecond, "job should exhaust retries")

	j, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, j.Attempts)
	assert.Equal(t, "transient failure", j.LastError)
}

// TestPool_UnregisteredKindDeadLettersImmediately verifies that a kind with
// no handler skips retries entirely.
func TestPool_UnregisteredKindDeadLettersImmediately(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	q := newTestQueue(t, NewMemoryStore())

	pool, err := NewPool(q, NewRegistry(), testPoolConfig(), testLogger())
	require.NoError(t, err)
	require.NoError(t, pool.Start())
	defer pool.Stop(false)

	id, err := q.Enqueue(ctx, "nobody-home", nil, WithMaxAttempts(10))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := q.Get(ctx, id)
		return err == nil && j.Status == StatusDeadLettered
	}, 5*time.Second, 10*time.Millisecond)

	j, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, j.Attempts, "an unregistered kind must not burn retries")
	assert.Contains(t, j.LastError, "no handler registered")
}

// TestPool_HandlerPanicDoesNotKillWorker verifies a panicking handler is
// converted into a failure and the worker keeps processing other jobs.
func TestPool_HandlerPanicDoesNotKillWorker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	q := newTestQueue(t, NewMemoryStore())

	r := NewRegistry()
	require.NoError(t, r.Register("explode", func(ctx context.Context, payload []byte) error {
		panic("boom")
	}))
	require.NoError(t, r.Register("echo", func(ctx context.Context, payload []byte) error {
		return nil
	}))

	cfg := testPoolConfig()
	cfg.WorkerCount = 1
	pool, err := NewPool(q, r, cfg, testLogger())
	require.NoError(t, err)
	require.NoError(t, pool.Start())
	defer pool.Stop(false)

	panicID, err := q.Enqueue(ctx, "explode", nil, WithMaxAttempts(1))
	require.NoError(t, err)
	okID, err := q.Enqueue(ctx, "echo", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		p, errP := q.Get(ctx, panicID)
		o, errO := q.Get(ctx, okID)
		return errP == nil && errO == nil &&
			p.Status == StatusDeadLettered && o.Status == StatusCompleted
	}, 5*time.Second, 10*time.Millisecond, "panic must fail the job, not the worker")

	p, err := q.Get(ctx, panicID)
	require.NoError(t, err)
	assert.Contains(t, p.LastError, "handler panicked")
}

// TestPool_HandlerTimeout verifies a handler that exceeds its deadline is
// failed without blocking the worker.
func TestPool_HandlerTimeout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	q := newTestQueue(t, NewMemoryStore())

	// The handler ignores its context entirely, simulating underlying work
	// that cannot be cancelled.
	block := make(chan struct{})
	defer close(block)

	r := NewRegistry()
	require.NoError(t, r.Register("stuck", func(ctx context.Context, payload []byte) error {
		<-block
		return nil
	}))

	cfg := testPoolConfig()
	cfg.HandlerTimeout = 20 * time.Millisecond
	pool, err := NewPool(q, r, cfg, testLogger())
	require.NoError(t, err)
	require.NoError(t, pool.Start())
	defer pool.Stop(false)

	id, err := q.Enqueue(ctx, "stuck", nil, WithMaxAttempts(1))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, err := q.Get(ctx, id)
		return err == nil && j.Status == StatusDeadLettered
	}, 5*time.Second, 10*time.Millisecond, "timed-out job should be failed")

	j, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, j.LastError, "timed out")
}

// TestPool_AdmissionControl verifies that at most WorkerCount handlers run
// concurrently even when many more jobs are eligible.
func TestPool_AdmissionControl(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	q := newTestQueue(t, NewMemoryStore())

	var mu sync.Mutex
	current, peak := 0, 0
	release := make(chan struct{})

	r := NewRegistry()
	require.NoError(t, r.Register("slow", func(ctx context.Context, payload []byte) error {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()

		<-release

		mu.Lock()
		current--
		mu.Unlock()
		return nil
	}))

	cfg := testPoolConfig()
	cfg.WorkerCount = 2
	pool, err := NewPool(q, r, cfg, testLogger())
	require.NoError(t, err)
	require.NoError(t, pool.Start())
	defer pool.Stop(false)

	const jobCount = 6
	for i := 0; i < jobCount; i++ {
		_, err := q.Enqueue(ctx, "slow", nil)
		require.NoError(t, err)
	}

	// Both workers should saturate, and no more.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return current == 2
	}, 5*time.Second, 10*time.Millisecond)

	close(release)

	require.Eventually(t, func() bool {
		jobs, err := q.List(ctx, StatusCompleted, jobCount+1, 0)
		return err == nil && len(jobs) == jobCount
	}, 5*time.Second, 10*time.Millisecond, "all jobs should eventually complete")

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2, "admission ceiling exceeded")
}

// TestPool_StaleClaimRecovery simulates a worker that crashed mid-execution:
// its job is reclaimed without an extra attempts increment and re-executed.
func TestPool_StaleClaimRecovery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Now().UTC()

	s := NewMemoryStore()
	q := newTestQueue(t, s)

	// A job claimed an hour ago by a worker that never reported back.
	orphan := insertJob(t, s, "echo", 3, now.Add(-time.Hour))
	claimed, err := s.ClaimNext(ctx, "crashed-worker", now.Add(-time.Hour))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, orphan.ID, claimed.ID)

	r := NewRegistry()
	require.NoError(t, r.Register("echo", func(ctx context.Context, payload []byte) error {
		return nil
	}))

	cfg := testPoolConfig()
	cfg.StaleAfter = 30 * time.Minute
	pool, err := NewPool(q, r, cfg, testLogger())
	require.NoError(t, err)
	require.NoError(t, pool.Start())
	defer pool.Stop(false)

	require.Eventually(t, func() bool {
		j, err := q.Get(ctx, orphan.ID)
		return err == nil && j.Status == StatusCompleted
	}, 5*time.Second, 10*time.Millisecond, "orphaned job should be recovered and re-executed")

	j, err := q.Get(ctx, orphan.ID)
	require.NoError(t, err)
	// One increment from the crashed claim, one from the re-claim; the
	// reclaim itself must not add a third.
	assert.Equal(t, 2, j.Attempts)
}

// TestPool_GracefulStopWaitsForInFlight verifies graceful shutdown lets an
// in-flight job finish.
func TestPool_GracefulStopWaitsForInFlight(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	q := newTestQueue(t, NewMemoryStore())

	started := make(chan struct{})
	r := NewRegistry()
	require.NoError(t, r.Register("slow", func(ctx context.Context, payload []byte) error {
		close(started)
		time.Sleep(100 * time.Millisecond)
		return nil
	}))

	pool, err := NewPool(q, r, testPoolConfig(), testLogger())
	require.NoError(t, err)
	require.NoError(t, pool.Start())

	id, err := q.Enqueue(ctx, "slow", nil)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	pool.Stop(true)

	j, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, j.Status, "graceful stop must wait for in-flight work")
}

// TestPool_AbruptStopCancelsInFlight verifies a non-graceful shutdown cancels
// handler contexts and records the interrupted attempt.
func TestPool_AbruptStopCancelsInFlight(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	q := newTestQueue(t, NewMemoryStore())

	started := make(chan struct{})
	r := NewRegistry()
	require.NoError(t, r.Register("obedient", func(ctx context.Context, payload []byte) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))

	pool, err := NewPool(q, r, testPoolConfig(), testLogger())
	require.NoError(t, err)
	require.NoError(t, pool.Start())

	id, err := q.Enqueue(ctx, "obedient", nil)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	pool.Stop(false)

	j, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRetrying, j.Status, "interrupted job should be requeued for retry")
	assert.Equal(t, 1, j.Attempts)
}
