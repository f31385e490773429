package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"nudge/internal/fileutil"
	"nudge/internal/logging"
)

const (
	emergencyFileName = "emergency_backup.json"
	backupDirName     = "backups"
)

// Options configures Open.
type Options struct {
	// Dir holds activities.json, config.json, backups/ and the emergency snapshot.
	Dir    string
	Logger *slog.Logger
	// DaemonRunning is consulted once during Open for the emergency recovery
	// decision. Nil means no daemon is running.
	DaemonRunning func() bool
	Now           func() time.Time
	// OnRecovery runs after an emergency snapshot has been reapplied.
	OnRecovery func(EmergencyBackup)
}

// Patch lists the fields Update may change. Nil fields are left alone.
type Patch struct {
	Description     *string
	TimestampEnd    *time.Time
	DurationMinutes *int
}

// Ledger is the activity store. It is safe for concurrent use within one
// process; cross-process writers are not coordinated.
type Ledger struct {
	mu         sync.RWMutex
	dir        string
	logger     *slog.Logger
	now        func() time.Time
	backups    *backupSet
	onRecovery func(EmergencyBackup)

	activities []Activity
	settings   Settings

	pending sync.WaitGroup
}

var writeVerified = fileutil.WriteVerified

// SetWriteFuncForTests swaps the verified writer used for canonical files.
func SetWriteFuncForTests(fn func(path string, data []byte) error) func() {
	prev := writeVerified
	writeVerified = fn
	return func() { writeVerified = prev }
}

// Open loads settings and activities from opts.Dir, drops malformed records,
// and applies or discards a pending emergency snapshot.
func Open(opts Options) (*Ledger, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, errors.New("ledger directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	l := &Ledger{
		dir:        dir,
		logger:     logging.NewComponentLogger(opts.Logger, "ledger"),
		now:        now,
		backups:    newBackupSet(filepath.Join(dir, backupDirName), now),
		onRecovery: opts.OnRecovery,
		settings:   DefaultSettings(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.loadSettingsLocked()
	l.loadActivitiesLocked()

	daemonRunning := false
	if opts.DaemonRunning != nil {
		daemonRunning = opts.DaemonRunning()
	}
	l.applyEmergencyRecoveryLocked(daemonRunning)

	l.logger.Debug("ledger opened",
		logging.String("dir", dir),
		logging.Int("activities", len(l.activities)),
	)
	return l, nil
}

// Close waits for background saves scheduled during Open.
func (l *Ledger) Close() error {
	l.pending.Wait()
	return nil
}

// Dir returns the data directory.
func (l *Ledger) Dir() string { return l.dir }

// Append inserts a new activity ending at end (now when zero). A non-nil
// durationOverride back-dates the start; otherwise start equals end.
func (l *Ledger) Append(ctx context.Context, description string, end time.Time, durationOverride *time.Duration) (Activity, error) {
	if err := ctx.Err(); err != nil {
		return Activity{}, err
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return Activity{}, ErrEmptyDescription
	}
	if end.IsZero() {
		end = l.now()
	}
	start := end
	if durationOverride != nil && *durationOverride > 0 {
		start = end.Add(-*durationOverride)
	}
	activity := Activity{
		ID:             newActivityID(),
		TimestampStart: start,
		TimestampEnd:   end,
		Description:    description,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.syncActivitiesLocked()
	return l.appendLocked(activity)
}

func (l *Ledger) appendLocked(activity Activity) (Activity, error) {
	l.activities = insertAt(l.activities, insertIndex(l.activities, activity.TimestampEnd), activity)
	recomputeDurations(l.activities)
	if idx := indexOf(l.activities, activity.ID); idx >= 0 {
		activity = l.activities[idx]
	}
	if err := l.persistLocked(kindActivities); err != nil {
		return activity, err
	}
	l.logger.Debug("activity logged",
		logging.ActivityID(activity.ID),
		logging.String("end", activity.TimestampEnd.Format(time.RFC3339)),
	)
	return activity, nil
}

// Update applies patch to the activity with id. A changed end time moves the
// entry to its new sorted position. DurationMinutes is applied after the
// recompute and lasts until the next mutation.
func (l *Ledger) Update(ctx context.Context, id string, patch Patch) (Activity, error) {
	if err := ctx.Err(); err != nil {
		return Activity{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.syncActivitiesLocked()

	idx := indexOf(l.activities, id)
	if idx < 0 {
		return Activity{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	updated := l.activities[idx]
	if patch.Description != nil {
		desc := strings.TrimSpace(*patch.Description)
		if desc == "" {
			return Activity{}, ErrEmptyDescription
		}
		updated.Description = desc
	}

	if patch.TimestampEnd != nil && !patch.TimestampEnd.Equal(updated.TimestampEnd) {
		span := updated.TimestampEnd.Sub(updated.TimestampStart)
		updated.TimestampEnd = *patch.TimestampEnd
		updated.TimestampStart = updated.TimestampEnd.Add(-span)
		l.activities = append(l.activities[:idx], l.activities[idx+1:]...)
		l.activities = insertAt(l.activities, insertIndex(l.activities, updated.TimestampEnd), updated)
	} else {
		l.activities[idx] = updated
	}
	recomputeDurations(l.activities)

	idx = indexOf(l.activities, id)
	if patch.DurationMinutes != nil {
		minutes := max(0, *patch.DurationMinutes)
		l.activities[idx].DurationMinutes = minutes
		l.activities[idx].TimestampStart = l.activities[idx].TimestampEnd.Add(-time.Duration(minutes) * time.Minute)
	}
	updated = l.activities[idx]

	if err := l.persistLocked(kindActivities); err != nil {
		return updated, err
	}
	l.logger.Debug("activity updated", logging.ActivityID(id))
	return updated, nil
}

// Delete removes the activity with id; the predecessor's duration then
// bridges the gap.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.syncActivitiesLocked()

	idx := indexOf(l.activities, id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	l.activities = append(l.activities[:idx], l.activities[idx+1:]...)
	recomputeDurations(l.activities)
	if err := l.persistLocked(kindActivities); err != nil {
		return err
	}
	l.logger.Debug("activity deleted", logging.ActivityID(id))
	return nil
}

// AppendMarker appends a session marker at the current time unless the most
// recent entry already is that marker. The bool reports whether one was added.
func (l *Ledger) AppendMarker(ctx context.Context, kind MarkerKind) (Activity, bool, error) {
	if err := ctx.Err(); err != nil {
		return Activity{}, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.syncActivitiesLocked()

	if n := len(l.activities); n > 0 && l.activities[n-1].IsMarker(kind) {
		return l.activities[n-1], false, nil
	}
	now := l.now()
	activity, err := l.appendLocked(Activity{
		ID:             newActivityID(),
		TimestampStart: now,
		TimestampEnd:   now,
		Description:    string(kind),
	})
	if err != nil {
		return activity, false, err
	}
	l.logger.Info("session marker added",
		logging.ActivityID(activity.ID),
		logging.String("marker", string(kind)),
		logging.EventType("marker_added"),
	)
	return activity, true, nil
}

// Last returns the most recent activity.
func (l *Ledger) Last() (Activity, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.activities) == 0 {
		return Activity{}, false
	}
	return l.activities[len(l.activities)-1], true
}

// Len returns the number of activities.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.activities)
}

// All returns a copy of every activity in order.
func (l *Ledger) All() []Activity {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Activity(nil), l.activities...)
}

// Get returns the activity with id.
func (l *Ledger) Get(id string) (Activity, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx := indexOf(l.activities, id)
	if idx < 0 {
		return Activity{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return l.activities[idx], nil
}

// Settings returns the current settings.
func (l *Ledger) Settings() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.settings
}

// UpdateSettings sets key to value and persists config.json.
func (l *Ledger) UpdateSettings(ctx context.Context, key, value string) (Settings, error) {
	if err := ctx.Err(); err != nil {
		return Settings{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.syncSettingsLocked()

	next, err := l.settings.Set(key, value)
	if err != nil {
		return l.settings, err
	}
	l.settings = next
	if err := l.persistLocked(kindConfig); err != nil {
		return l.settings, err
	}
	l.logger.Info("setting updated",
		logging.String("key", key),
		logging.String("value", value),
		logging.EventType("setting_updated"),
	)
	return l.settings, nil
}

// ReloadSettings re-reads config.json, keeping current settings when the
// file cannot be parsed.
func (l *Ledger) ReloadSettings() Settings {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.syncSettingsLocked()
	return l.settings
}

// ReloadActivities re-reads activities.json written by another process.
// Memory is kept when the file is missing or cannot be parsed.
func (l *Ledger) ReloadActivities() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.syncActivitiesLocked()
	return len(l.activities)
}

// Every mutation starts from the files on disk so a long-lived handle (the
// daemon, session --watch) never writes back a stale copy over entries that
// another process added since it last read.

func (l *Ledger) syncSettingsLocked() {
	s, err := readSettings(l.path(kindConfig))
	switch {
	case err == nil:
		l.settings = s
	case !os.IsNotExist(err):
		logging.WarnWithContext(l.logger, "settings reload failed; keeping previous values", "settings_reload_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "fix config.json or run nudge config set"),
		)
	}
}

func (l *Ledger) syncActivitiesLocked() {
	records, err := readRecords(l.path(kindActivities))
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Debug("activities reload skipped", logging.Error(err))
		}
		return
	}
	l.activities, _ = decodeRecords(records)
}

// Prune drops activities whose end time is older than dataRetentionDays.
// Zero retention disables pruning.
func (l *Ledger) Prune(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.syncActivitiesLocked()

	days := l.settings.DataRetentionDays
	if days <= 0 {
		return 0, nil
	}
	cutoff := now.AddDate(0, 0, -days)
	kept := l.activities[:0:0]
	for _, a := range l.activities {
		if a.TimestampEnd.Before(cutoff) {
			continue
		}
		kept = append(kept, a)
	}
	removed := len(l.activities) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	l.activities = kept
	recomputeDurations(l.activities)
	if err := l.persistLocked(kindActivities); err != nil {
		return removed, err
	}
	l.logger.Info("old activities pruned",
		logging.Int("removed", removed),
		logging.Int("retention_days", days),
		logging.EventType("ledger_pruned"),
	)
	return removed, nil
}

func (l *Ledger) path(kind fileKind) string {
	return filepath.Join(l.dir, kind.fileName())
}

func (l *Ledger) encodeLocked(kind fileKind) ([]byte, error) {
	switch kind {
	case kindConfig:
		return json.MarshalIndent(l.settings, "", "  ")
	default:
		return json.MarshalIndent(toRecords(l.activities), "", "  ")
	}
}

// persistLocked backs up the current file, writes the new snapshot and
// verifies it. On failure the newest backup is restored and reloaded.
func (l *Ledger) persistLocked(kind fileKind) error {
	path := l.path(kind)
	data, err := l.encodeLocked(kind)
	if err != nil {
		return &PersistenceError{Path: path, Op: "encode", Err: err}
	}
	if _, err := l.backups.create(kind, path); err != nil {
		logging.WarnWithContext(l.logger, "backup before write failed", "backup_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check free space and permissions in the backups directory"),
			logging.String(logging.FieldImpact, "this write has no restore point"),
		)
	}

	err = writeVerified(path, data)
	if err == nil {
		return nil
	}
	perr := &PersistenceError{Path: path, Op: "write", Err: err}
	if errors.Is(err, fileutil.ErrVerifyMismatch) {
		perr.Op = "verify"
	}
	perr.Restored = l.restoreLocked(kind)
	logging.ErrorWithContext(l.logger, "ledger write failed", "persist_failed",
		logging.String("path", path),
		logging.String("op", perr.Op),
		logging.Bool("restored", perr.Restored),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check disk space and permissions on the data directory"),
	)
	return perr
}

// restoreLocked copies the newest backup over the canonical file and reloads
// memory from it.
func (l *Ledger) restoreLocked(kind fileKind) bool {
	backup, ok := l.backups.latest(kind)
	if !ok {
		return false
	}
	path := l.path(kind)
	if err := fileutil.CopyFile(backup, path); err != nil {
		return false
	}
	switch kind {
	case kindConfig:
		s, err := readSettings(path)
		if err != nil {
			return false
		}
		l.settings = s
	default:
		records, err := readRecords(path)
		if err != nil {
			return false
		}
		l.activities, _ = decodeRecords(records)
	}
	return true
}

func readRecords(path string) ([]record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return records, nil
}

// readSettings merges the file over defaults. Unknown keys are ignored.
func readSettings(path string) (Settings, error) {
	settings := DefaultSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		return settings, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return settings, nil
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return DefaultSettings(), fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return settings, nil
}

func (l *Ledger) loadSettingsLocked() {
	path := l.path(kindConfig)
	settings, err := readSettings(path)
	switch {
	case err == nil:
		l.settings = settings
		return
	case os.IsNotExist(err):
		l.settings = DefaultSettings()
		return
	}
	logging.WarnWithContext(l.logger, "settings file unreadable; trying backups", "settings_corrupt",
		logging.String("path", path),
		logging.Error(err),
		logging.String(logging.FieldImpact, "settings fall back to the newest readable backup or defaults"),
	)
	l.settings = DefaultSettings()
	paths, _ := l.backups.list(kindConfig)
	for _, backup := range paths {
		if s, err := readSettings(backup); err == nil {
			l.settings = s
			if err := fileutil.CopyFile(backup, path); err == nil {
				l.logger.Info("settings restored from backup", logging.String("backup", backup))
			}
			return
		}
	}
}

func (l *Ledger) loadActivitiesLocked() {
	path := l.path(kindActivities)
	records, err := readRecords(path)
	if err != nil && !os.IsNotExist(err) {
		logging.WarnWithContext(l.logger, "ledger file unreadable; trying backups", "ledger_corrupt",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "activities fall back to the newest readable backup or start empty"),
		)
		records = nil
		l.restoreActivitiesFromBackupLocked(path, &records)
	}

	activities, dropped := decodeRecords(records)
	l.activities = activities
	if len(dropped) == 0 {
		return
	}

	integrity := &IntegrityError{Path: path, Dropped: len(dropped), Reasons: dropped}
	logging.WarnWithContext(l.logger, "malformed activities dropped", "ledger_integrity",
		logging.String("path", path),
		logging.Int("dropped", integrity.Dropped),
		logging.String("reasons", strings.Join(dropped, ", ")),
		logging.Error(integrity),
		logging.String(logging.FieldImpact, "dropped records are removed from the ledger file"),
	)
	l.pending.Add(1)
	go func() {
		defer l.pending.Done()
		l.mu.Lock()
		defer l.mu.Unlock()
		if err := l.persistLocked(kindActivities); err != nil {
			logging.WarnWithContext(l.logger, "saving cleaned ledger failed", "ledger_integrity_save_failed",
				logging.Error(err),
			)
		}
	}()
}

func (l *Ledger) restoreActivitiesFromBackupLocked(path string, records *[]record) {
	paths, _ := l.backups.list(kindActivities)
	for _, backup := range paths {
		restored, err := readRecords(backup)
		if err != nil {
			continue
		}
		*records = restored
		if err := fileutil.CopyFile(backup, path); err != nil {
			logging.WarnWithContext(l.logger, "copying ledger backup failed", "ledger_restore_failed",
				logging.String("backup", backup),
				logging.Error(err),
			)
		}
		l.logger.Info("ledger restored from backup",
			logging.String("backup", backup),
			logging.Int("records", len(restored)),
			logging.EventType("ledger_restored"),
		)
		return
	}
}
