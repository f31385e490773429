package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessInfo describes one daemon-pattern match in the process table.
type ProcessInfo struct {
	PID       int
	CreatedAt time.Time
	Args      []string
}

// ProcessScanner lists running daemons other than the current process.
type ProcessScanner interface {
	Scan(ctx context.Context) ([]ProcessInfo, error)
}

// Spawner starts the detached daemon child and returns its pid.
type Spawner interface {
	Spawn(executable string, args []string) (int, error)
}

// matchesDaemon reports whether argv is "<exe> daemon ...".
func matchesDaemon(args []string, exeBase string) bool {
	if len(args) < 2 || exeBase == "" {
		return false
	}
	return filepath.Base(args[0]) == exeBase && args[1] == "daemon"
}

type gopsutilScanner struct {
	exeBase string
}

// NewProcessScanner returns a scanner matching "<basename of executable> daemon".
func NewProcessScanner(executable string) ProcessScanner {
	return gopsutilScanner{exeBase: filepath.Base(executable)}
}

func (g gopsutilScanner) Scan(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	self := os.Getpid()
	var matches []ProcessInfo
	for _, p := range procs {
		pid := int(p.Pid)
		if pid == self {
			continue
		}
		args, err := p.CmdlineSliceWithContext(ctx)
		if err != nil || !matchesDaemon(args, g.exeBase) {
			continue
		}
		info := ProcessInfo{PID: pid, Args: args}
		if created, err := p.CreateTimeWithContext(ctx); err == nil {
			info.CreatedAt = time.UnixMilli(created)
		}
		matches = append(matches, info)
	}
	return matches, nil
}

type execSpawner struct{}

// NewSpawner returns the default spawner: a new session with stdio detached.
func NewSpawner() Spawner { return execSpawner{} }

func (execSpawner) Spawn(executable string, args []string) (int, error) {
	cmd := exec.Command(executable, args...) //nolint:gosec
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("launch daemon: %w", err)
	}
	pid := cmd.Process.Pid
	return pid, cmd.Process.Release()
}
