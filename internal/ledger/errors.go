package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an update or delete names an unknown id.
	ErrNotFound = errors.New("activity not found")
	// ErrUnknownSetting rejects keys outside the settings schema.
	ErrUnknownSetting = errors.New("unknown setting")
	// ErrInvalidSetting rejects values that fail parsing or validation.
	ErrInvalidSetting = errors.New("invalid setting value")
	// ErrEmptyDescription rejects blank activity descriptions.
	ErrEmptyDescription = errors.New("activity description is empty")
)

// PersistenceError reports a failed write or read-back verification of a
// canonical file. Restored is true when the newest backup was copied back and
// in-memory state reloaded from it.
type PersistenceError struct {
	Path     string
	Op       string
	Restored bool
	Err      error
}

func (e *PersistenceError) Error() string {
	state := "in-memory state kept"
	if e.Restored {
		state = "restored from backup"
	}
	return fmt.Sprintf("persist %s: %s failed (%s): %v", e.Path, e.Op, state, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IntegrityError describes records dropped while loading. It is logged, not
// returned to callers.
type IntegrityError struct {
	Path    string
	Dropped int
	Reasons []string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: dropped %d malformed record(s)", e.Path, e.Dropped)
}
