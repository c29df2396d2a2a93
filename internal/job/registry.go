package job

import (
	"context"
	"fmt"
	"sync"
)

// Handler executes the business logic for one job kind. The payload is the
// opaque bytes recorded at enqueue time; a nil error acks the job, a non-nil
// error nacks it into retry/dead-letter accounting.
//
// Handlers must honor ctx cancellation: the worker cancels ctx when the
// execution deadline passes or the pool shuts down abruptly, and stops
// waiting for the result. A handler that ignores ctx may still be mutating
// shared state after its job has been abandoned and later requeued by the
// stale-claim reaper, so side effects must tolerate at-least-once delivery.
// Exactly-once semantics are not provided.
type Handler func(ctx context.Context, payload []byte) error

// Registry maps job kinds to their handlers. Registration happens at process
// startup before the pool starts; lookups during execution are read-only.
// Version: 1.0
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a job kind. Registering the same kind twice or
// registering a nil handler is a programming error and is rejected.
func (r *Registry) Register(kind string, handler Handler) error {
	if kind == "" {
		return fmt.Errorf("job kind must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler for kind %q must not be nil", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateKind, kind)
	}
	r.handlers[kind] = handler
	return nil
}

// Get returns the handler for the given kind, if one is registered.
func (r *Registry) Get(kind string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[kind]
	return handler, ok
}

// Kinds returns all registered job kinds, for logging at startup.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	return kinds
}
