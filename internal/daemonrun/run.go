package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/thejerf/suture/v4"

	"nudge/internal/config"
	"nudge/internal/journal"
	"nudge/internal/ledger"
	"nudge/internal/logging"
	"nudge/internal/notifications"
	"nudge/internal/session"
	"nudge/internal/supervisor"
)

// ErrLocked is returned when another daemon holds the runtime lock.
var ErrLocked = errors.New("another nudge daemon holds the runtime lock")

const runtimeLockName = "nudge.lock"

// Options configures daemon process runtime behavior. Zero values select the
// production implementations.
type Options struct {
	// LogLevel overrides the logLevel setting when set.
	LogLevel    string
	ConfigPath  string
	Executable  string
	Notifier    notifications.Notifier
	Probe       session.Probe
	Now         func() time.Time
	// Ready, when set, is called once all services are registered.
	Ready func()
}

// Run starts the nudge daemon runtime loop and blocks until shutdown.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	lock := flock.New(filepath.Join(cfg.Paths.DataDir, runtimeLockName))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire runtime lock: %w", err)
	}
	if !locked {
		return ErrLocked
	}
	defer func() { _ = lock.Unlock() }()

	signalCtx, cancelSignals := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancelSignals()
	runCtx, cancelRun := context.WithCancel(signalCtx)
	defer cancelRun()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.Logging.Level))
	logger, logPath, err := logging.NewDaemonLoggerWithLevel(cfg, runID, level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	runCtx = logging.WithRunID(runCtx, runID)
	logger = logging.WithContext(runCtx, logger)

	if err := ensureCurrentLogPointer(cfg.CurrentLogPath(), logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update nudge.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "nudge-*.log", Exclude: []string{logPath}},
	)

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	store, err := journal.Open(cfg.JournalPath())
	if err != nil {
		logging.WarnWithContext(logger, "journal unavailable", "journal_open_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "session and check-in history will not be recorded"),
		)
		store = nil
	}
	defer store.Close()

	// Holding the runtime lock means no other daemon can still need a
	// pending emergency snapshot.
	led, err := ledger.Open(ledger.Options{
		Dir:           cfg.Paths.DataDir,
		Logger:        logger,
		DaemonRunning: func() bool { return false },
		Now:           now,
		OnRecovery: func(b ledger.EmergencyBackup) {
			detail := fmt.Sprintf("%s from pid %d (%d activities)", b.Reason, b.ProcessID, b.ActivitiesCount)
			_ = store.Record(context.Background(), journal.KindRecoveryApplied, detail)
		},
	})
	if err != nil {
		logger.Error("open ledger", logging.Error(err))
		return err
	}
	defer led.Close()

	settings := led.Settings()
	if opts.LogLevel != "" {
		level.Set(logging.ParseLevel(opts.LogLevel))
	} else {
		level.Set(logging.ParseLevel(settings.LogLevel))
	}

	sup := supervisor.New(supervisor.Options{
		Dir:          cfg.Paths.DataDir,
		Executable:   opts.Executable,
		ConfigPath:   opts.ConfigPath,
		Logger:       logger,
		StartTimeout: cfg.StartTimeout(),
		GracePeriod:  cfg.StopGracePeriod(),
		InDaemon:     true,
	})
	sup.OnShutdown("daemon", cancelRun)

	pidPath := sup.PIDPath()
	if err := supervisor.WritePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)
	defer os.Remove(sup.StatusPath())

	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.New(cfg, logger)
	}
	if !notifications.Configured(notifier) {
		logger.Warn("no check-in transport configured",
			logging.EventType("notifier_unconfigured"),
			logging.String(logging.FieldErrorHint, "set notifications.ntfy_topic or notifications.command"),
			logging.String(logging.FieldImpact, "check-ins are scheduled but not delivered"),
		)
	}

	checkin := newCheckinService(led, notifier, store, logger, settings.CheckInEvery())
	checkin.now = now

	tree := newTree(logger)
	monitors := &monitorSlot{
		tree: tree,
		build: func(s ledger.Settings) *session.Monitor {
			probe := opts.Probe
			if probe == nil {
				probe = session.NewProbe(cfg.ProbeTimeout())
			}
			return session.New(session.Options{
				Probe:      probe,
				Ledger:     led,
				Supervisor: sup,
				Settings:   func() ledger.Settings { return s },
				InDaemon:   true,
				Logger:     logger,
				Journal:    store,
				Netlink:    cfg.Session.Netlink,
			})
		},
	}

	snapshot := func() supervisor.DaemonStatus {
		st := supervisor.DaemonStatus{NextCheckIn: checkin.NextCheckIn(), UpdatedAt: now()}
		sessState, lockState := monitors.state()
		st.SessionState = sessState.String()
		st.LockState = lockState.String()
		return st
	}
	sup.SetStatusSource(snapshot)

	tree.Add(checkin)
	tree.Add(&statusWriter{sup: sup, snapshot: snapshot, interval: cfg.StatusInterval(), logger: logger})
	tree.Add(&retentionService{ledger: led, journal: store, logger: logging.NewComponentLogger(logger, "retention"), now: now})
	tree.Add(&settingsWatcher{
		ledger: led,
		logger: logging.NewComponentLogger(logger, "settings-watcher"),
		apply: func(s ledger.Settings) {
			checkin.Reset(s.CheckInEvery())
			monitors.apply(s)
			if opts.LogLevel == "" {
				level.Set(logging.ParseLevel(s.LogLevel))
			}
		},
	})
	monitors.apply(settings)

	_ = store.Record(runCtx, journal.KindDaemonStarted, runID)
	logger.Info("nudge daemon started",
		logging.PID(os.Getpid()),
		logging.Duration("checkin_interval", settings.CheckInEvery()),
		logging.Bool("session_features", settings.SessionFeaturesEnabled()),
		logging.String("log_path", logPath),
		logging.EventType("daemon_started"),
	)

	errCh := tree.ServeBackground(runCtx)
	if opts.Ready != nil {
		opts.Ready()
	}

	<-runCtx.Done()
	logger.Info("nudge daemon shutting down", logging.EventType("daemon_stopping"))
	sup.Shutdown()
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, suture.ErrTerminateSupervisorTree) {
		logger.Warn("service tree stopped with error", logging.Error(err))
	}
	_ = store.Record(context.Background(), journal.KindDaemonStopped, runID)
	return nil
}

// monitorSlot adds, updates or removes the session monitor as the session
// flags change.
type monitorSlot struct {
	tree  *suture.Supervisor
	build func(ledger.Settings) *session.Monitor

	mu      sync.Mutex
	monitor *session.Monitor
	token   suture.ServiceToken
}

func (m *monitorSlot) apply(s ledger.Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case s.SessionFeaturesEnabled() && m.monitor == nil:
		m.monitor = m.build(s)
		m.token = m.tree.Add(m.monitor)
	case s.SessionFeaturesEnabled():
		m.monitor.UpdateConfig(s)
	case m.monitor != nil:
		_ = m.tree.Remove(m.token)
		m.monitor = nil
	}
}

func (m *monitorSlot) state() (session.SessionState, session.LockState) {
	m.mu.Lock()
	mon := m.monitor
	m.mu.Unlock()
	if mon == nil {
		return session.SessionUnknown, session.LockUnknown
	}
	return mon.State()
}

func ensureCurrentLogPointer(current, target string) error {
	if current == "" || target == "" {
		return nil
	}
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}
