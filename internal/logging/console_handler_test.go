package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newTestConsole(level slog.Level) (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(level)
	return slog.New(newConsoleHandler(&buf, lvl, false)), &buf
}

func TestConsoleLineOrdersLeadFields(t *testing.T) {
	logger, buf := newTestConsole(slog.LevelInfo)
	logger = NewComponentLogger(logger, "supervisor")

	logger.Warn("stop timed out", String("signal", "SIGKILL"), PID(42), EventType("stop_escalated"))

	line := buf.String()
	if !strings.Contains(line, " WARN  supervisor: stop timed out event_type=stop_escalated pid=42 signal=SIGKILL\n") {
		t.Fatalf("unexpected line %q", line)
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("component should move to the prefix: %q", line)
	}
}

func TestConsoleQuotesAndGroups(t *testing.T) {
	logger, buf := newTestConsole(slog.LevelDebug)

	logger.WithGroup("probe").Debug("sample",
		String("state", "locked"),
		Error(errors.New("exit status 1: no session")),
		String("empty", ""),
	)

	line := buf.String()
	for _, want := range []string{
		`error="exit status 1: no session"`,
		"probe.state=locked",
		`probe.empty=""`,
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %s in %q", want, line)
		}
	}
}

func TestConsoleRepeatedKeyKeepsLatest(t *testing.T) {
	logger, buf := newTestConsole(slog.LevelInfo)

	logger.With(String("state", "idle")).Info("changed", String("state", "running"))

	line := buf.String()
	if strings.Count(line, "state=") != 1 || !strings.Contains(line, "state=running") {
		t.Fatalf("expected single latest state, got %q", line)
	}
}

func TestConsoleRespectsLevel(t *testing.T) {
	logger, buf := newTestConsole(slog.LevelWarn)

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info suppressed, got %q", buf.String())
	}
}
