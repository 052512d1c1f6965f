// Package execution interprets declarative skills against a mutable
// execution context: condition evaluation, parameter templating, approval
// gating, action dispatch, retry with backoff, timeouts, and rollback
// surfacing.
//
// Advance calls on a single context are serialized; independent contexts run
// fully concurrently. The approval gate is the only long-duration suspension:
// a paused context is plain data, snapshots into a checkpoint, and resumes
// from persisted state after a process restart.
package execution
