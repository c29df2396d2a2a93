// Package job implements the durable background job subsystem: a
// persistently-backed queue of job records, a registry mapping job kinds to
// handlers, and a bounded pool of workers that claim, execute, and report
// jobs with retry, backoff, and stale-claim recovery.
//
// All cross-worker coordination is expressed through the store's atomic
// claim operation; no in-process lock is shared across workers' job state.
// Execution is at-least-once: a worker crash or an abandoned timeout leaves
// the row Running until the reaper requeues it, so handlers must tolerate
// re-delivery.
package job
