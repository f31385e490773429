// Package deps reports which external commands the session probes and the
// notifier rely on and whether they are installed.
package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement names one external command.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status is the outcome of checking a Requirement.
type Status struct {
	Requirement
	Available bool
	Path      string
	Detail    string
}

// SessionRequirements lists the commands the session probe shells out to on
// goos. Platforms without a probe need nothing.
func SessionRequirements(goos string) []Requirement {
	switch goos {
	case "linux":
		return []Requirement{
			{Name: "loginctl", Command: "loginctl", Description: "login and lock state from systemd-logind", Optional: true},
		}
	case "darwin":
		return []Requirement{
			{Name: "console owner", Command: "stat", Description: "active console user"},
			{Name: "screensaver", Command: "pgrep", Description: "ScreenSaverEngine detection", Optional: true},
			{Name: "session registry", Command: "ioreg", Description: "CGSSessionScreenIsLocked flag", Optional: true},
			{Name: "display power", Command: "pmset", Description: "display sleep detection", Optional: true},
		}
	default:
		return nil
	}
}

// NotifierRequirements lists the desktop notification command, if one is
// configured. The ntfy sender needs no local binary.
func NotifierRequirements(command []string) []Requirement {
	if len(command) == 0 {
		return nil
	}
	return []Requirement{{
		Name:        "notify command",
		Command:     command[0],
		Description: "desktop check-in notification",
	}}
}

// CheckBinaries resolves every requirement on PATH.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		req.Command = strings.TrimSpace(req.Command)
		status := Status{Requirement: req}
		if req.Command == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		path, err := exec.LookPath(req.Command)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", req.Command)
			results = append(results, status)
			continue
		}
		status.Available = true
		status.Path = path
		results = append(results, status)
	}
	return results
}

// Missing counts unavailable requirements, split by whether they were
// optional.
func Missing(statuses []Status) (required, optional int) {
	for _, s := range statuses {
		if s.Available {
			continue
		}
		if s.Optional {
			optional++
		} else {
			required++
		}
	}
	return required, optional
}
