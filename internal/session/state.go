package session

// SessionState is whether the user's graphical session is in the foreground.
type SessionState int

const (
	SessionUnknown SessionState = iota
	SessionActive
	SessionInactive
)

func (s SessionState) String() string {
	switch s {
	case SessionActive:
		return "active"
	case SessionInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// LockState is whether the screen is locked.
type LockState int

const (
	LockUnknown LockState = iota
	LockLocked
	LockUnlocked
)

func (s LockState) String() string {
	switch s {
	case LockLocked:
		return "locked"
	case LockUnlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// Event is a directional transition of one state variable.
type Event int

const (
	EventLogin Event = iota + 1
	EventLogout
	EventLock
	EventUnlock
)

func (e Event) String() string {
	switch e {
	case EventLogin:
		return "login"
	case EventLogout:
		return "logout"
	case EventLock:
		return "lock"
	case EventUnlock:
		return "unlock"
	default:
		return "unknown"
	}
}

// tracker holds one state variable. The first observation is absorbed as the
// initial value; afterwards only a differing value reports a change.
type tracker[T comparable] struct {
	current T
	seen    bool
}

func (t *tracker[T]) observe(v T) bool {
	if !t.seen {
		t.seen = true
		t.current = v
		return false
	}
	if v == t.current {
		return false
	}
	t.current = v
	return true
}

func sessionFromSample(active bool) SessionState {
	if active {
		return SessionActive
	}
	return SessionInactive
}

func lockFromSample(locked bool) LockState {
	if locked {
		return LockLocked
	}
	return LockUnlocked
}
