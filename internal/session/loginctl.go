package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// loginctlProbe reads systemd-logind's view of the current session.
type loginctlProbe struct {
	runner  commandRunner
	timeout time.Duration
	// sessionID is resolved lazily and cached.
	sessionID string
}

func (p *loginctlProbe) Name() string { return "loginctl" }

func (p *loginctlProbe) Sample(ctx context.Context) (Sample, error) {
	id, err := p.resolveSession(ctx)
	if err != nil {
		return Sample{}, err
	}
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	out, err := p.runner.Output(probeCtx, "loginctl", "show-session", id, "-p", "Active", "-p", "LockedHint")
	if err != nil {
		p.sessionID = ""
		return Sample{}, fmt.Errorf("loginctl show-session %s: %w", id, err)
	}
	return parseLoginctl(string(out))
}

func (p *loginctlProbe) resolveSession(ctx context.Context) (string, error) {
	if p.sessionID != "" {
		return p.sessionID, nil
	}
	if id := strings.TrimSpace(os.Getenv("XDG_SESSION_ID")); id != "" {
		p.sessionID = id
		return id, nil
	}
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	out, err := p.runner.Output(probeCtx, "loginctl", "show-user", strconv.Itoa(os.Getuid()), "-p", "Display", "--value")
	if err != nil {
		return "", fmt.Errorf("loginctl show-user: %w", err)
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		return "", errors.New("loginctl: no graphical session for user")
	}
	p.sessionID = id
	return id, nil
}

func parseLoginctl(out string) (Sample, error) {
	var sample Sample
	var sawActive bool
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "Active":
			sawActive = true
			sample.SessionActive = value == "yes"
		case "LockedHint":
			sample.Locked = value == "yes"
		}
	}
	if !sawActive {
		return Sample{}, fmt.Errorf("loginctl: missing Active property in %q", strings.TrimSpace(out))
	}
	return sample, nil
}
