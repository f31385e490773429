package ledger

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"nudge/internal/logging"
)

// EmergencyBackup summarizes a snapshot written before a session-triggered
// shutdown.
type EmergencyBackup struct {
	Timestamp       time.Time
	ProcessID       int
	Reason          string
	ActivitiesCount int
}

type emergencyFile struct {
	Timestamp       time.Time `json:"timestamp"`
	ProcessID       int       `json:"processId"`
	Reason          string    `json:"reason"`
	ActivitiesCount int       `json:"activitiesCount"`
	Activities      []record  `json:"activities"`
	Config          *Settings `json:"config"`
}

// EmergencyPath returns the location of the emergency snapshot.
func (l *Ledger) EmergencyPath() string {
	return filepath.Join(l.dir, emergencyFileName)
}

// WriteEmergencyBackup snapshots activities and settings together with the
// writing pid and reason.
func (l *Ledger) WriteEmergencyBackup(ctx context.Context, reason string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	l.syncActivitiesLocked()
	l.syncSettingsLocked()
	settings := l.settings
	snapshot := emergencyFile{
		Timestamp:       l.now().UTC(),
		ProcessID:       os.Getpid(),
		Reason:          reason,
		ActivitiesCount: len(l.activities),
		Activities:      toRecords(l.activities),
		Config:          &settings,
	}
	l.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", err
	}
	path := l.EmergencyPath()
	if err := writeVerified(path, data); err != nil {
		return "", &PersistenceError{Path: path, Op: "write", Err: err}
	}
	l.logger.Info("emergency backup written",
		logging.String("path", path),
		logging.String("reason", reason),
		logging.Int("activities", snapshot.ActivitiesCount),
		logging.EventType("emergency_backup_written"),
	)
	return path, nil
}

// applyEmergencyRecoveryLocked reapplies the emergency snapshot when the
// ledger file looks older or shorter than it. A running daemon may still
// need the snapshot, so it is left alone in that case.
func (l *Ledger) applyEmergencyRecoveryLocked(daemonRunning bool) {
	path := l.EmergencyPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.WarnWithContext(l.logger, "emergency backup unreadable", "emergency_backup_unreadable",
				logging.String("path", path),
				logging.Error(err),
			)
		}
		return
	}
	if daemonRunning {
		l.logger.Info("emergency backup left in place; daemon is running",
			logging.String("path", path),
			logging.EventType("emergency_backup_deferred"),
		)
		return
	}

	var snapshot emergencyFile
	if err := json.Unmarshal(data, &snapshot); err != nil {
		logging.WarnWithContext(l.logger, "emergency backup corrupt; discarding", "emergency_backup_corrupt",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "no emergency recovery this run"),
		)
		l.removeEmergencyLocked(path)
		return
	}

	var ledgerMtime time.Time
	if info, err := os.Stat(l.path(kindActivities)); err == nil {
		ledgerMtime = info.ModTime()
	}
	onDisk := len(l.activities)
	if !shouldRecover(ledgerMtime, onDisk, snapshot.Timestamp, snapshot.ActivitiesCount) {
		l.logger.Info("emergency backup superseded; removing",
			logging.String("path", path),
			logging.Int("on_disk", onDisk),
			logging.Int("backup_count", snapshot.ActivitiesCount),
		)
		l.removeEmergencyLocked(path)
		return
	}

	l.activities, _ = decodeRecords(snapshot.Activities)
	if snapshot.Config != nil {
		l.settings = *snapshot.Config
	}
	actErr := l.persistLocked(kindActivities)
	cfgErr := l.persistLocked(kindConfig)
	if actErr != nil || cfgErr != nil {
		logging.WarnWithContext(l.logger, "emergency recovery applied in memory only", "emergency_recovery_persist_failed",
			logging.Any("activities_error", actErr),
			logging.Any("settings_error", cfgErr),
			logging.String(logging.FieldImpact, "emergency backup kept for the next start"),
		)
		return
	}
	l.removeEmergencyLocked(path)

	summary := EmergencyBackup{
		Timestamp:       snapshot.Timestamp,
		ProcessID:       snapshot.ProcessID,
		Reason:          snapshot.Reason,
		ActivitiesCount: snapshot.ActivitiesCount,
	}
	l.logger.Info("emergency backup applied",
		logging.String("reason", snapshot.Reason),
		logging.Int("activities", len(l.activities)),
		logging.Int("on_disk_before", onDisk),
		logging.EventType("recovery_applied"),
	)
	if l.onRecovery != nil {
		l.onRecovery(summary)
	}
}

func shouldRecover(ledgerMtime time.Time, onDiskCount int, backupAt time.Time, backupCount int) bool {
	return ledgerMtime.Before(backupAt) || onDiskCount < backupCount-1
}

func (l *Ledger) removeEmergencyLocked(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.WarnWithContext(l.logger, "removing emergency backup failed", "emergency_backup_remove_failed",
			logging.String("path", path),
			logging.Error(err),
		)
	}
}
