package job

import "errors"

// Errors returned by the queue, registry, and workers.
var (
	// ErrUnregisteredKind is returned when a job's kind has no registered
	// handler. This is a permanent failure: the job is dead-lettered
	// immediately, since retrying cannot conjure a handler.
	ErrUnregisteredKind = errors.New("no handler registered for job kind")

	// ErrDuplicateKind is returned when registering a kind twice.
	ErrDuplicateKind = errors.New("handler already registered for job kind")

	// ErrHandlerTimeout is returned when a handler exceeds its execution
	// deadline. It counts as an ordinary handler failure for retry
	// accounting.
	ErrHandlerTimeout = errors.New("handler execution timed out")

	// ErrPoolRunning is returned when starting a pool that is already running.
	ErrPoolRunning = errors.New("worker pool already started")
)
