// Package supervisor manages the lifecycle of the acquisition process.
package supervisor

// State represents the current state of the supervised process.
type State int

const (
	// StateIdle is the initial state before any start attempt.
	StateIdle State = iota

	// StateStarting indicates the process has been spawned but startup is
	// not yet confirmed.
	StateStarting

	// StateRunning indicates the process is confirmed running.
	StateRunning

	// StateRetrying indicates a failed attempt is waiting for the next try.
	StateRetrying

	// StateSucceeded indicates the process exited cleanly.
	StateSucceeded

	// StateFailed indicates the process failed and no retries remain.
	StateFailed

	// StateTimedOut indicates a startup or runtime deadline expired on the
	// final attempt.
	StateTimedOut
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRetrying:
		return "retrying"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// IsActive returns true if the state represents an in-flight attempt.
func (s State) IsActive() bool {
	return s == StateStarting || s == StateRunning || s == StateRetrying
}

// IsTerminal returns true if no further attempts will be made.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateTimedOut
}
