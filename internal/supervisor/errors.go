package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by Start when a daemon is alive.
	ErrAlreadyRunning = errors.New("daemon already running")
	// ErrStartInProgress is returned by Start when another caller holds the start lock.
	ErrStartInProgress = errors.New("daemon start already in progress")
	// ErrNotRunning is returned by ForceKill when there is nothing to kill.
	ErrNotRunning = errors.New("daemon not running")
)

// ProcessError reports a spawn or signal failure.
type ProcessError struct {
	Op  string
	PID int
	Err error
}

func (e *ProcessError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("%s daemon (pid %d): %v", e.Op, e.PID, e.Err)
	}
	return fmt.Sprintf("%s daemon: %v", e.Op, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }
