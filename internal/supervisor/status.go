package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"nudge/internal/logging"
)

// DaemonStatus is the snapshot shown by `nudge status`.
type DaemonStatus struct {
	IsRunning    bool       `json:"isRunning"`
	PID          int        `json:"pid,omitempty"`
	NextCheckIn  *time.Time `json:"nextCheckIn,omitempty"`
	SessionState string     `json:"sessionState,omitempty"`
	LockState    string     `json:"lockState,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// StatusSource yields the daemon's live scheduler snapshot.
type StatusSource func() DaemonStatus

// SetStatusSource installs the in-daemon snapshot provider.
func (s *Supervisor) SetStatusSource(src StatusSource) {
	s.mu.Lock()
	s.statusSource = src
	s.mu.Unlock()
}

// Status reports the daemon state. Liveness is always recomputed; other
// fields come from the live source in the daemon or the status file outside it.
func (s *Supervisor) Status(ctx context.Context) DaemonStatus {
	s.mu.Lock()
	src := s.statusSource
	s.mu.Unlock()

	if src != nil && s.InDaemon() {
		st := src()
		st.IsRunning = true
		st.PID = os.Getpid()
		return st
	}

	st, err := s.ReadStatus()
	if err != nil && !os.IsNotExist(err) {
		s.logger.Debug("status file unreadable", logging.Error(err))
	}
	pid, running := s.runningPID(ctx)
	st.IsRunning = running
	if running {
		st.PID = pid
	} else {
		st.PID = 0
		st.NextCheckIn = nil
	}
	return st
}

// WriteStatus atomically replaces the status file.
func (s *Supervisor) WriteStatus(st DaemonStatus) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	path := s.StatusPath()
	tmp, err := os.CreateTemp(filepath.Dir(path), ".status-*")
	if err != nil {
		return fmt.Errorf("create status temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close status: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace status: %w", err)
	}
	return nil
}

// ReadStatus loads the last status file written by the daemon.
func (s *Supervisor) ReadStatus() (DaemonStatus, error) {
	var st DaemonStatus
	data, err := os.ReadFile(s.StatusPath())
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return DaemonStatus{}, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}
