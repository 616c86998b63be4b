// Package enrollment is the state machine for one subject progressing
// through one drip sequence.
//
// Rules:
//   - at most one live (active or paused) enrollment per (subject, sequence)
//   - next_send_at never moves backwards and is always after the call that set it
//   - exiting is idempotent; an exited enrollment keeps its original exited_at
//
// Every mutation runs under a per-(subject, sequence) lock and is committed
// with a compare-and-swap on (status, current_step), so a stale writer fails
// with ErrConflict instead of overwriting newer state.
package enrollment
