package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// worker is a single execution loop bound to one logical worker identity.
// It claims one job at a time, dispatches it to the registered handler, and
// reports the outcome; at most one handler runs per worker, which is how the
// pool bounds concurrent executions.
type worker struct {
	id             string
	queue          *Queue
	registry       *Registry
	pollInterval   time.Duration
	handlerTimeout time.Duration
	logger         *slog.Logger
}

// run loops until loopCtx is cancelled. Handler executions derive from
// execCtx instead, so a graceful shutdown (loopCtx cancelled, execCtx alive)
// lets in-flight jobs finish while no new jobs are claimed.
func (w *worker) run(loopCtx, execCtx context.Context) {
	w.logger.Debug("starting worker", "worker_id", w.id)

	for {
		select {
		case <-loopCtx.Done():
			w.logger.Debug("stopping worker", "worker_id", w.id)
			return
		default:
		}

		j, err := w.queue.Dequeue(loopCtx, w.id)
		if err != nil {
			if loopCtx.Err() != nil {
				return
			}
			// Transient store errors are never fatal to the loop; wait out a
			// poll interval and try again.
			w.logger.Error("failed to dequeue job",
				"worker_id", w.id,
				"error", err)
			w.idle(loopCtx)
			continue
		}

		if j == nil {
			w.idle(loopCtx)
			continue
		}

		w.process(execCtx, j)
	}
}

// idle sleeps a jittered poll interval so an empty queue does not turn into a
// synchronized stampede of claim scans.
func (w *worker) idle(ctx context.Context) {
	d := w.pollInterval/2 + rand.N(w.pollInterval)

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// process dispatches one claimed job and reports its outcome. Outcome
// reporting uses a fresh context so that a cancelled execution context cannot
// also lose the status update.
func (w *worker) process(execCtx context.Context, j *Job) {
	log := w.logger.With(
		"job_id", j.ID,
		"kind", j.Kind,
		"worker_id", w.id,
		"attempt", j.Attempts,
	)

	handler, ok := w.registry.Get(j.Kind)
	if !ok {
		// Permanent failure: no amount of retrying registers a handler.
		log.Error("no handler registered, dead-lettering job")
		w.report(log, func(ctx context.Context) error {
			return w.queue.Discard(ctx, j, fmt.Errorf("%w: %q", ErrUnregisteredKind, j.Kind))
		})
		return
	}

	log.Info("processing job")

	err := w.execute(execCtx, handler, j)
	if err != nil {
		log.Error("job execution failed", "error", err)
		w.report(log, func(ctx context.Context) error {
			return w.queue.Nack(ctx, j, err)
		})
		return
	}

	log.Info("job completed")
	w.report(log, func(ctx context.Context) error {
		return w.queue.Ack(ctx, j.ID)
	})
}

// execute runs the handler under the per-job deadline with a panic guard.
// When the deadline or execCtx expires the worker stops waiting and moves on;
// a handler that ignores its context keeps the row Running until the
// stale-claim reaper recovers it.
func (w *worker) execute(execCtx context.Context, handler Handler, j *Job) error {
	ctx, cancel := context.WithTimeout(execCtx, w.handlerTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("handler panicked: %v", p)
			}
		}()
		done <- handler(ctx, j.Payload)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrHandlerTimeout, w.handlerTimeout)
		}
		return fmt.Errorf("job execution cancelled: %w", ctx.Err())
	}
}

// report applies an outcome update with a bounded background context and logs
// a failure to do so. A lost update leaves the row Running; the reaper will
// requeue it, so the error is logged rather than retried here.
func (w *worker) report(log *slog.Logger, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := fn(ctx); err != nil {
		log.Error("failed to report job outcome", "error", err)
	}
}
