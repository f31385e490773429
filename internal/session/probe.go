package session

import (
	"context"
	"os/exec"
	"runtime"
	"time"
)

// Sample is one observation of the OS session.
type Sample struct {
	SessionActive bool
	Locked        bool
}

// Probe samples the current session.
type Probe interface {
	Name() string
	Sample(ctx context.Context) (Sample, error)
}

// Vote is one lock heuristic's opinion.
type Vote struct {
	Locked     bool
	Confidence float64
}

const (
	shortCircuitConfidence = 0.7
	lockedThreshold        = 0.5
)

// Combine merges lock votes. Any locked vote above 0.7 confidence decides
// immediately; otherwise the confidence-weighted share of locked votes must
// exceed one half. No usable votes means unlocked.
func Combine(votes []Vote) bool {
	var total, locked float64
	for _, v := range votes {
		if v.Confidence <= 0 {
			continue
		}
		if v.Locked && v.Confidence > shortCircuitConfidence {
			return true
		}
		total += v.Confidence
		if v.Locked {
			locked += v.Confidence
		}
	}
	if total == 0 {
		return false
	}
	return locked/total > lockedThreshold
}

type commandRunner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execCommandRunner struct{}

func (execCommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	return cmd.Output()
}

// NewProbe returns the richest probe available on this platform.
func NewProbe(timeout time.Duration) Probe {
	return newProbeFor(runtime.GOOS, timeout, execCommandRunner{})
}

func newProbeFor(goos string, timeout time.Duration, runner commandRunner) Probe {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	switch goos {
	case "linux":
		if _, err := exec.LookPath("loginctl"); err == nil {
			return &loginctlProbe{runner: runner, timeout: timeout}
		}
	case "darwin":
		return &darwinProbe{runner: runner, timeout: timeout}
	}
	return fallbackProbe{}
}

// fallbackProbe always reports an active, unlocked session so no events fire.
type fallbackProbe struct{}

func (fallbackProbe) Name() string { return "fallback" }

func (fallbackProbe) Sample(context.Context) (Sample, error) {
	return Sample{SessionActive: true}, nil
}
