package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	screensaverConfidence  = 0.8
	sessionLockConfidence  = 0.9
	displayPowerConfidence = 0.6
	// IODisplayWrangler power states below this mean the display is asleep.
	displayAwakeState = 4
)

// darwinProbe combines several independent lock heuristics on macOS.
type darwinProbe struct {
	runner  commandRunner
	timeout time.Duration
}

type heuristic func(ctx context.Context) (bool, error)

func (p *darwinProbe) Name() string { return "darwin" }

func (p *darwinProbe) Sample(ctx context.Context) (Sample, error) {
	active, err := p.consoleOwned(ctx)
	if err != nil {
		return Sample{}, err
	}
	return Sample{SessionActive: active, Locked: Combine(p.votes(ctx))}, nil
}

func (p *darwinProbe) votes(ctx context.Context) []Vote {
	checks := []struct {
		run        heuristic
		confidence float64
	}{
		{p.screensaverRunning, screensaverConfidence},
		{p.sessionLocked, sessionLockConfidence},
		{p.displayAsleep, displayPowerConfidence},
	}
	votes := make([]Vote, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, check := range checks {
		g.Go(func() error {
			hctx, cancel := context.WithTimeout(gctx, p.timeout)
			defer cancel()
			locked, err := check.run(hctx)
			if err != nil {
				// neutral
				votes[i] = Vote{}
				return nil
			}
			votes[i] = Vote{Locked: locked, Confidence: check.confidence}
			return nil
		})
	}
	_ = g.Wait()
	return votes
}

func (p *darwinProbe) consoleOwned(ctx context.Context) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	out, err := p.runner.Output(cctx, "stat", "-f", "%Su", "/dev/console")
	if err != nil {
		return false, fmt.Errorf("console owner: %w", err)
	}
	return strings.TrimSpace(string(out)) == currentUsername(), nil
}

func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

// screensaverRunning treats pgrep's "no match" exit as a definite negative.
func (p *darwinProbe) screensaverRunning(ctx context.Context) (bool, error) {
	out, err := p.runner.Output(ctx, "pgrep", "-x", "ScreenSaverEngine")
	if err != nil {
		if len(out) == 0 && ctx.Err() == nil && exitCode(err) == 1 {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(string(out)) != "", nil
}

func (p *darwinProbe) sessionLocked(ctx context.Context) (bool, error) {
	out, err := p.runner.Output(ctx, "ioreg", "-n", "Root", "-d1")
	if err != nil {
		return false, err
	}
	return parseIoregLocked(string(out)), nil
}

func (p *darwinProbe) displayAsleep(ctx context.Context) (bool, error) {
	out, err := p.runner.Output(ctx, "pmset", "-g", "powerstate", "IODisplayWrangler")
	if err != nil {
		return false, err
	}
	state, err := parseDisplayPowerState(string(out))
	if err != nil {
		return false, err
	}
	return state < displayAwakeState, nil
}

func parseIoregLocked(out string) bool {
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "CGSSessionScreenIsLocked") {
			return strings.Contains(line, "Yes")
		}
	}
	return false
}

func parseDisplayPowerState(out string) (int, error) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "IODisplayWrangler" {
			continue
		}
		return strconv.Atoi(fields[1])
	}
	return 0, fmt.Errorf("pmset: IODisplayWrangler not reported")
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
