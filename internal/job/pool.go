package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PoolConfig holds configuration for the worker pool.
type PoolConfig struct {
	// WorkerCount determines how many concurrent workers process jobs. This
	// is the system's admission control: at most WorkerCount handler bodies
	// execute at once, regardless of how many jobs are eligible.
	WorkerCount int

	// PollInterval is how long an idle worker waits before the next claim
	// attempt when the queue is empty.
	PollInterval time.Duration

	// HandlerTimeout bounds a single handler execution.
	HandlerTimeout time.Duration

	// StaleAfter is the age past which a Running claim is presumed abandoned
	// by a crashed worker and requeued.
	StaleAfter time.Duration

	// ReapInterval is how often the reaper scans for stale claims.
	ReapInterval time.Duration

	// ShutdownTimeout bounds how long a graceful Stop waits for in-flight
	// jobs before cancelling them.
	ShutdownTimeout time.Duration
}

// DefaultPoolConfig returns a PoolConfig with reasonable defaults
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		WorkerCount:     4,
		PollInterval:    time.Second,
		HandlerTimeout:  time.Minute,
		StaleAfter:      15 * time.Minute,
		ReapInterval:    time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// validate reports startup-time misconfiguration, the only error class that
// is fatal to the pool.
func (c PoolConfig) validate() error {
	if c.WorkerCount <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", c.WorkerCount)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.HandlerTimeout <= 0 {
		return fmt.Errorf("handler timeout must be positive, got %s", c.HandlerTimeout)
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("stale threshold must be positive, got %s", c.StaleAfter)
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("reap interval must be positive, got %s", c.ReapInterval)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout)
	}
	return nil
}

// Pool owns a bounded set of concurrent workers sharing one queue and one
// registry, plus the reaper that recovers claims abandoned by crashed
// workers.
type Pool struct {
	queue    *Queue
	registry *Registry
	config   PoolConfig
	logger   *slog.Logger

	// loopCtx stops workers from claiming new jobs; execCtx additionally
	// cancels in-flight handler executions.
	loopCtx    context.Context
	loopCancel context.CancelFunc
	execCtx    context.Context
	execCancel context.CancelFunc

	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewPool creates a worker pool. Invalid configuration is rejected here so
// misconfiguration surfaces at startup, not at runtime.
func NewPool(queue *Queue, registry *Registry, config PoolConfig, logger *slog.Logger) (*Pool, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	execCtx, execCancel := context.WithCancel(context.Background())

	return &Pool{
		queue:      queue,
		registry:   registry,
		config:     config,
		logger:     logger,
		loopCtx:    loopCtx,
		loopCancel: loopCancel,
		execCtx:    execCtx,
		execCancel: execCancel,
	}, nil
}

// Start spawns the worker loops and the stale-claim reaper. It first runs one
// reap pass so jobs orphaned by a previous crash of this process are
// requeued without waiting a full reap interval.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolRunning
	}
	p.started = true

	p.logger.Info("starting worker pool",
		"worker_count", p.config.WorkerCount,
		"poll_interval", p.config.PollInterval,
		"kinds", p.registry.Kinds())

	p.reapOnce()

	instance := uuid.NewString()[:8]
	for i := 0; i < p.config.WorkerCount; i++ {
		w := &worker{
			id:             fmt.Sprintf("worker-%s-%d", instance, i),
			queue:          p.queue,
			registry:       p.registry,
			pollInterval:   p.config.PollInterval,
			handlerTimeout: p.config.HandlerTimeout,
			logger:         p.logger,
		}

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(p.loopCtx, p.execCtx)
		}()
	}

	p.wg.Add(1)
	go p.reaper()

	return nil
}

// Stop shuts the pool down. All workers stop claiming new jobs immediately.
// If graceful, Stop waits up to ShutdownTimeout for in-flight jobs to finish
// before cancelling them; otherwise in-flight executions are cancelled at
// once. Any job still Running afterwards is recovered later by the reaper.
func (p *Pool) Stop(graceful bool) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.logger.Info("stopping worker pool", "graceful", graceful)
	p.loopCancel()

	if !graceful {
		p.execCancel()
		p.wg.Wait()
		return
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("shutdown timeout elapsed, cancelling in-flight jobs",
			"timeout", p.config.ShutdownTimeout)
		p.execCancel()
		<-done
	}

	p.logger.Info("worker pool stopped")
}

// reaper periodically requeues jobs whose claim has gone stale.
func (p *Pool) reaper() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.loopCtx.Done():
			return
		case <-ticker.C:
			p.reapOnce()
		}
	}
}

// reapOnce runs a single stale-claim sweep.
func (p *Pool) reapOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := p.queue.ReclaimStale(ctx, p.config.StaleAfter)
	if err != nil {
		p.logger.Error("failed to reclaim stale jobs", "error", err)
		return
	}
	if count > 0 {
		p.logger.Info("reclaimed stale jobs",
			"count", count,
			"older_than", p.config.StaleAfter)
	}
}
