package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"nudge/internal/ledger"
	"nudge/internal/logging"
)

const settingsDebounce = 200 * time.Millisecond

// settingsWatcher reloads config.json when another process changes it and
// hands the result to apply. Changes to activities.json made by the CLI are
// reloaded too so daemon writes never clobber them.
type settingsWatcher struct {
	ledger *ledger.Ledger
	apply  func(ledger.Settings)
	logger *slog.Logger
}

func (w *settingsWatcher) String() string { return "settings-watcher" }

// Serve watches the data directory rather than the file itself because the
// ledger replaces config.json by rename.
func (w *settingsWatcher) Serve(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	defer watcher.Close()

	dir := w.ledger.Dir()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	settingsPath := filepath.Join(dir, ledger.SettingsFileName)
	activitiesPath := filepath.Join(dir, ledger.ActivitiesFileName)

	var debounce *time.Timer
	var fire <-chan time.Time
	var settingsDirty, activitiesDirty bool
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("settings watcher closed")
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			switch filepath.Clean(event.Name) {
			case settingsPath:
				settingsDirty = true
			case activitiesPath:
				activitiesDirty = true
			default:
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(settingsDebounce)
			} else {
				debounce.Reset(settingsDebounce)
			}
			fire = debounce.C
		case <-fire:
			fire = nil
			if activitiesDirty {
				activitiesDirty = false
				n := w.ledger.ReloadActivities()
				w.logger.Debug("activities reloaded", logging.Int("activities", n))
			}
			if !settingsDirty {
				continue
			}
			settingsDirty = false
			settings := w.ledger.ReloadSettings()
			w.logger.Info("settings reloaded",
				logging.Int("notification_interval", settings.NotificationInterval),
				logging.Bool("session_features", settings.SessionFeaturesEnabled()),
				logging.EventType("settings_reloaded"),
			)
			w.apply(settings)
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("settings watcher closed")
			}
			w.logger.Debug("settings watcher error", logging.Error(err))
		}
	}
}
