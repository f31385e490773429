package session

import (
	"context"
	"errors"

	"nudge/internal/ledger"
	"nudge/internal/logging"
	"nudge/internal/supervisor"
)

func (m *Monitor) onLogin(ctx context.Context) {
	if !m.currentSettings().AutoStartOnLogin {
		return
	}
	m.ensureStarted(ctx, "login")
}

func (m *Monitor) onLogout(ctx context.Context) {
	if !m.currentSettings().AutoStopOnLogout {
		return
	}
	m.pauseAndStop(ctx, ledger.MarkerPausedLogout, "logout")
}

// onLock keeps the daemon alive when it must see the unlock later.
func (m *Monitor) onLock(ctx context.Context) {
	settings := m.currentSettings()
	if !settings.AutoStopOnLock {
		return
	}
	if settings.AutoStartOnUnlock {
		m.appendMarker(ctx, ledger.MarkerPausedLock)
		return
	}
	m.pauseAndStop(ctx, ledger.MarkerPausedLock, "lock")
}

func (m *Monitor) onUnlock(ctx context.Context) {
	if !m.currentSettings().AutoStartOnUnlock {
		return
	}
	if m.inDaemon {
		m.appendMarker(ctx, ledger.MarkerResumedUnlock)
		return
	}
	m.ensureStarted(ctx, "unlock")
}

func (m *Monitor) ensureStarted(ctx context.Context, reason string) {
	if m.sup == nil || m.sup.IsRunning(ctx) {
		return
	}
	pid, err := m.sup.Start(ctx)
	switch {
	case err == nil:
		m.logger.Info("daemon started on session event",
			logging.String("reason", reason),
			logging.PID(pid),
			logging.EventType("session_autostart"),
		)
	case errors.Is(err, supervisor.ErrAlreadyRunning), errors.Is(err, supervisor.ErrStartInProgress):
		m.logger.Debug("daemon start skipped", logging.String("reason", reason), logging.Error(err))
	default:
		logging.WarnWithContext(m.logger, "daemon auto-start failed", "session_autostart_failed",
			logging.String("reason", reason),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run nudge start manually and check the daemon log"),
			logging.String(logging.FieldImpact, "check-ins stay paused"),
		)
	}
}

// pauseAndStop records the pause, snapshots the ledger and stops the daemon.
func (m *Monitor) pauseAndStop(ctx context.Context, marker ledger.MarkerKind, reason string) {
	if m.sup == nil || !m.sup.IsRunning(ctx) {
		return
	}
	m.appendMarker(ctx, marker)
	if m.ledger != nil {
		if path, err := m.ledger.WriteEmergencyBackup(ctx, reason); err != nil {
			logging.WarnWithContext(m.logger, "emergency backup failed", "emergency_backup_failed",
				logging.String("reason", reason),
				logging.Error(err),
				logging.String(logging.FieldImpact, "recovery after restart relies on rotating backups"),
			)
		} else {
			m.logger.Debug("emergency backup written", logging.String("path", path))
		}
	}
	result, err := m.sup.Stop(ctx)
	if err != nil {
		logging.WarnWithContext(m.logger, "daemon stop failed", "session_autostop_failed",
			logging.String("reason", reason),
			logging.Error(err),
		)
		return
	}
	m.logger.Info("daemon stopped on session event",
		logging.String("reason", reason),
		logging.Bool("self", result.SelfShutdown),
		logging.EventType("session_autostop"),
	)
}

func (m *Monitor) appendMarker(ctx context.Context, kind ledger.MarkerKind) {
	if m.ledger == nil {
		return
	}
	if _, _, err := m.ledger.AppendMarker(ctx, kind); err != nil {
		logging.WarnWithContext(m.logger, "session marker not recorded", "marker_failed",
			logging.String("marker", string(kind)),
			logging.Error(err),
		)
	}
}
