// Package sessionsync synchronizes a session name across the nodes of a
// multi-rig recording.
//
// The master binds a TCP listener, waits for the expected number of slave
// connections, then broadcasts one session name as a newline-terminated
// plain-text line. Slaves retry-connect until their timeout and read the
// name. Every node ends the handshake holding the identical string, or
// the run aborts with a SyncError.
package sessionsync

import (
	"fmt"
	"time"
)

// Roles accepted in the session_sync_role parameter.
const (
	RoleMaster = "master"
	RoleSlave  = "slave"
)

// SyncError is the only error type this package returns. Session sync
// failures are always fatal to the run: an unsynchronized multi-rig
// recording is worse than no recording.
type SyncError struct {
	Role string
	Op   string
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("session sync %s: %s: %v", e.Role, e.Op, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func syncErr(role, op string, err error) *SyncError {
	return &SyncError{Role: role, Op: op, Err: err}
}

// DefaultSessionName builds the session name the master assigns when the
// parameter file does not provide one.
func DefaultSessionName(subjectID string, t time.Time) string {
	return fmt.Sprintf("%s_%s", subjectID, t.Format("20060102_150405"))
}
