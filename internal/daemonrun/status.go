package daemonrun

import (
	"context"
	"log/slog"
	"time"

	"nudge/internal/logging"
	"nudge/internal/supervisor"
)

// statusWriter refreshes the status file for non-daemon readers.
type statusWriter struct {
	sup      *supervisor.Supervisor
	snapshot supervisor.StatusSource
	interval time.Duration
	logger   *slog.Logger
}

func (s *statusWriter) String() string { return "status-writer" }

func (s *statusWriter) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.write()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.write()
		}
	}
}

func (s *statusWriter) write() {
	st := s.snapshot()
	st.IsRunning = true
	if err := s.sup.WriteStatus(st); err != nil {
		s.logger.Debug("status write failed", logging.Error(err))
	}
}
