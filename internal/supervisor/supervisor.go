package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"nudge/internal/logging"
)

const (
	pidFileName    = "nudge.pid"
	statusFileName = "nudge.status.json"
	startLockName  = "nudge.start.lock"

	defaultStartTimeout = 5 * time.Second
	defaultGracePeriod  = 3 * time.Second
	pollInterval        = 100 * time.Millisecond
)

// Options configures a Supervisor.
type Options struct {
	Dir          string
	Executable   string
	ConfigPath   string
	Logger       *slog.Logger
	StartTimeout time.Duration
	GracePeriod  time.Duration
	Scanner      ProcessScanner
	Spawner      Spawner
	// InDaemon marks the supervisor owned by the running daemon itself.
	InDaemon bool
}

// StopResult summarizes a Stop call.
type StopResult struct {
	WasRunning   bool
	Signalled    []int
	Killed       []int
	SelfShutdown bool
}

// Supervisor manages the daemon's lifecycle files and processes.
type Supervisor struct {
	dir          string
	executable   string
	configPath   string
	logger       *slog.Logger
	startTimeout time.Duration
	gracePeriod  time.Duration
	scanner      ProcessScanner
	spawner      Spawner
	inDaemon     bool

	mu           sync.Mutex
	hooks        map[string]func()
	hookOrder    []string
	shutdownDone bool
	statusSource StatusSource
}

// New constructs a Supervisor rooted at opts.Dir.
func New(opts Options) *Supervisor {
	exe := opts.Executable
	if exe == "" {
		if resolved, err := os.Executable(); err == nil {
			exe = resolved
		}
	}
	s := &Supervisor{
		dir:          opts.Dir,
		executable:   exe,
		configPath:   opts.ConfigPath,
		logger:       logging.NewComponentLogger(opts.Logger, "supervisor"),
		startTimeout: opts.StartTimeout,
		gracePeriod:  opts.GracePeriod,
		scanner:      opts.Scanner,
		spawner:      opts.Spawner,
		inDaemon:     opts.InDaemon,
		hooks:        make(map[string]func()),
	}
	if s.startTimeout <= 0 {
		s.startTimeout = defaultStartTimeout
	}
	if s.gracePeriod <= 0 {
		s.gracePeriod = defaultGracePeriod
	}
	if s.scanner == nil {
		s.scanner = NewProcessScanner(exe)
	}
	if s.spawner == nil {
		s.spawner = NewSpawner()
	}
	return s
}

// PIDPath returns the daemon pid file location.
func (s *Supervisor) PIDPath() string { return filepath.Join(s.dir, pidFileName) }

// StatusPath returns the daemon status file location.
func (s *Supervisor) StatusPath() string { return filepath.Join(s.dir, statusFileName) }

func (s *Supervisor) startLockPath() string { return filepath.Join(s.dir, startLockName) }

// InDaemon reports whether this supervisor belongs to the running daemon.
func (s *Supervisor) InDaemon() bool {
	if s.inDaemon {
		return true
	}
	pid, err := ReadPIDFile(s.PIDPath())
	return err == nil && pid == os.Getpid()
}

// IsRunning reports whether a daemon process is alive.
func (s *Supervisor) IsRunning(ctx context.Context) bool {
	_, ok := s.runningPID(ctx)
	return ok
}

func (s *Supervisor) runningPID(ctx context.Context) (int, bool) {
	pidPath := s.PIDPath()
	pid, err := ReadPIDFile(pidPath)
	switch {
	case err == nil && processAlive(pid):
		return pid, true
	case err == nil || !os.IsNotExist(err):
		if rmErr := removeIfExists(pidPath); rmErr == nil {
			s.logger.Info("removed stale pid file",
				logging.PID(pid),
				logging.EventType("stale_pid_removed"),
			)
		}
	}
	matches, err := s.scanner.Scan(ctx)
	if err != nil {
		s.logger.Debug("process scan failed", logging.Error(err))
		return 0, false
	}
	if len(matches) == 0 {
		return 0, false
	}
	return oldest(matches).PID, true
}

// Start launches the daemon and waits for it to publish its pid file.
// When a daemon is already alive its pid is returned with ErrAlreadyRunning.
func (s *Supervisor) Start(ctx context.Context) (int, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return 0, fmt.Errorf("ensure data dir: %w", err)
	}
	s.dedupe(ctx)

	if pid, ok := s.runningPID(ctx); ok {
		return pid, ErrAlreadyRunning
	}

	release, err := s.acquireStartLock()
	if err != nil {
		return 0, err
	}
	defer release()

	// Another caller may have finished a start between the check and the lock.
	if pid, ok := s.runningPID(ctx); ok {
		return pid, ErrAlreadyRunning
	}

	args := []string{"daemon"}
	if s.configPath != "" {
		args = append(args, "--config", s.configPath)
	}
	childPID, err := s.spawner.Spawn(s.executable, args)
	if err != nil {
		return 0, &ProcessError{Op: "start", Err: err}
	}
	s.logger.Debug("daemon spawned", logging.PID(childPID))

	pid, err := s.waitForPIDFile(ctx)
	if err != nil {
		if childPID > 0 {
			_ = signalProcess(childPID, unix.SIGKILL)
		}
		_ = removeIfExists(s.PIDPath())
		return 0, &ProcessError{Op: "start", PID: childPID, Err: err}
	}
	s.logger.Info("daemon started",
		logging.PID(pid),
		logging.EventType("daemon_started"),
	)
	return pid, nil
}

func (s *Supervisor) waitForPIDFile(ctx context.Context) (int, error) {
	deadline := time.Now().Add(s.startTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if pid, err := ReadPIDFile(s.PIDPath()); err == nil && processAlive(pid) {
			return pid, nil
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("pid file not written within %s", s.startTimeout)
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// acquireStartLock creates the exclusive start lock. A lock older than
// twice the start timeout is left over from a crashed caller and is replaced.
func (s *Supervisor) acquireStartLock() (func(), error) {
	path := s.startLockPath()
	for attempt := 0; attempt < 2; attempt++ {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = fmt.Fprintf(file, "%d\n", os.Getpid())
			_ = file.Close()
			return func() { _ = removeIfExists(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create start lock: %w", err)
		}
		info, statErr := os.Stat(path)
		if statErr != nil || time.Since(info.ModTime()) < 2*s.startTimeout {
			return nil, ErrStartInProgress
		}
		s.logger.Warn("removing abandoned start lock",
			logging.String("path", path),
			logging.EventType("start_lock_stale"),
		)
		_ = removeIfExists(path)
	}
	return nil, ErrStartInProgress
}

// dedupe keeps the oldest daemon and terminates the rest.
func (s *Supervisor) dedupe(ctx context.Context) {
	matches, err := s.scanner.Scan(ctx)
	if err != nil || len(matches) < 2 {
		return
	}
	keep := oldest(matches)
	var extra []int
	for _, m := range matches {
		if m.PID != keep.PID {
			extra = append(extra, m.PID)
		}
	}
	logging.WarnWithContext(s.logger, "duplicate daemons found", "daemon_duplicates",
		logging.PID(keep.PID),
		logging.Int("duplicates", len(extra)),
		logging.String(logging.FieldImpact, "terminating newer daemon processes"),
	)
	s.terminate(ctx, extra)
}

func oldest(matches []ProcessInfo) ProcessInfo {
	sorted := append([]ProcessInfo(nil), matches...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].PID < sorted[j].PID
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	return sorted[0]
}

// terminate sends SIGTERM, waits the grace period and SIGKILLs survivors.
func (s *Supervisor) terminate(ctx context.Context, pids []int) (signalled, killed []int) {
	var pending []int
	for _, pid := range pids {
		err := signalProcess(pid, unix.SIGTERM)
		switch {
		case err == nil:
			signalled = append(signalled, pid)
			pending = append(pending, pid)
		case errors.Is(err, unix.ESRCH):
		default:
			s.logger.Warn("signal daemon failed", logging.PID(pid), logging.Error(err))
		}
	}
	if len(pending) == 0 {
		return signalled, nil
	}

	deadline := time.NewTimer(s.gracePeriod)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
wait:
	for {
		pending = alive(pending)
		if len(pending) == 0 {
			return signalled, nil
		}
		select {
		case <-ctx.Done():
			break wait
		case <-deadline.C:
			break wait
		case <-ticker.C:
		}
	}
	for _, pid := range alive(pending) {
		if err := signalProcess(pid, unix.SIGKILL); err == nil {
			killed = append(killed, pid)
		}
	}
	return signalled, killed
}

func alive(pids []int) []int {
	out := pids[:0:0]
	for _, pid := range pids {
		if processAlive(pid) {
			out = append(out, pid)
		}
	}
	return out
}

// targets collects the pid file pid and every scan match, never the caller.
func (s *Supervisor) targets(ctx context.Context) []int {
	self := os.Getpid()
	seen := make(map[int]bool)
	var pids []int
	add := func(pid int) {
		if pid <= 0 || pid == self || seen[pid] {
			return
		}
		seen[pid] = true
		pids = append(pids, pid)
	}
	if pid, err := ReadPIDFile(s.PIDPath()); err == nil {
		add(pid)
	}
	if matches, err := s.scanner.Scan(ctx); err == nil {
		for _, m := range matches {
			add(m.PID)
		}
	} else {
		s.logger.Debug("process scan failed", logging.Error(err))
	}
	return pids
}

// Stop terminates every daemon process. Inside the daemon the shutdown hooks
// run in place of signalling the current process.
func (s *Supervisor) Stop(ctx context.Context) (StopResult, error) {
	var result StopResult
	if s.InDaemon() {
		result.SelfShutdown = true
		result.WasRunning = true
		s.Shutdown()
	}
	pids := s.targets(ctx)
	if len(pids) > 0 {
		result.WasRunning = true
	}
	result.Signalled, result.Killed = s.terminate(ctx, pids)
	if err := s.removeRuntimeFiles(); err != nil {
		return result, err
	}
	if result.WasRunning {
		s.logger.Info("daemon stopped",
			logging.Int("signalled", len(result.Signalled)),
			logging.Int("killed", len(result.Killed)),
			logging.EventType("daemon_stopped"),
		)
	}
	return result, nil
}

// ForceKill sends SIGKILL to every daemon process and removes runtime files.
func (s *Supervisor) ForceKill(ctx context.Context) (int, error) {
	pids := s.targets(ctx)
	killed := 0
	var firstErr error
	for _, pid := range pids {
		err := signalProcess(pid, unix.SIGKILL)
		switch {
		case err == nil:
			killed++
		case errors.Is(err, unix.ESRCH):
		default:
			if firstErr == nil {
				firstErr = &ProcessError{Op: "kill", PID: pid, Err: err}
			}
		}
	}
	if err := s.removeRuntimeFiles(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return killed, firstErr
	}
	if len(pids) == 0 {
		return 0, ErrNotRunning
	}
	return killed, nil
}

func (s *Supervisor) removeRuntimeFiles() error {
	if err := removeIfExists(s.PIDPath()); err != nil {
		return fmt.Errorf("remove pid file: %w", err)
	}
	if err := removeIfExists(s.StatusPath()); err != nil {
		return fmt.Errorf("remove status file: %w", err)
	}
	return nil
}
