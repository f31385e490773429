package main

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"nudge/internal/journal"
	"nudge/internal/ledger"
	"nudge/internal/testsupport"
)

func decodeActivities(t *testing.T, out string) []ledger.Activity {
	t.Helper()
	var activities []ledger.Activity
	if err := json.Unmarshal([]byte(out), &activities); err != nil {
		t.Fatalf("decode list output: %v\n%s", err, out)
	}
	return activities
}

func TestLogAndListDerivesDurations(t *testing.T) {
	env := setupCLITestEnv(t)
	fixNow(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local))

	requireContains(t, mustRunCLI(t, env, "log", "write", "docs", "--at", "10:00"), `Logged "write docs"`)
	mustRunCLI(t, env, "log", "review", "--at", "10:45")
	mustRunCLI(t, env, "log", "standup", "--at", "2026-03-09 17:00")

	activities := decodeActivities(t, mustRunCLI(t, env, "list", "--json"))
	if len(activities) != 2 {
		t.Fatalf("expected today's two entries, got %d", len(activities))
	}
	if activities[0].Description != "write docs" || activities[0].DurationMinutes != 45 {
		t.Fatalf("unexpected first entry %+v", activities[0])
	}
	if activities[1].Description != "review" || activities[1].DurationMinutes != 0 {
		t.Fatalf("unexpected last entry %+v", activities[1])
	}

	yesterday := decodeActivities(t, mustRunCLI(t, env, "list", "--date", "yesterday", "--json"))
	if len(yesterday) != 1 || yesterday[0].Description != "standup" {
		t.Fatalf("unexpected yesterday list %+v", yesterday)
	}

	table := mustRunCLI(t, env, "list")
	requireContains(t, table, "write docs")
	requireContains(t, table, "45m")
	requireContains(t, table, "2 entries")
}

func TestListEmptyRange(t *testing.T) {
	env := setupCLITestEnv(t)
	fixNow(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local))

	requireContains(t, mustRunCLI(t, env, "list"), "No activities logged")
	if out := strings.TrimSpace(mustRunCLI(t, env, "list", "--hours", "4", "--json")); out != "[]" {
		t.Fatalf("expected empty JSON array, got %q", out)
	}
}

func TestLogRejectsBadInput(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, env, "log", "x", "--at", "noon"); err == nil {
		t.Fatal("expected invalid --at to fail")
	}
	if _, _, err := runCLI(t, env, "log", "x", "--duration", "-5m"); err == nil {
		t.Fatal("expected negative duration to fail")
	}
	if _, _, err := runCLI(t, env, "log", "   "); !errors.Is(err, ledger.ErrEmptyDescription) {
		t.Fatalf("expected ErrEmptyDescription, got %v", err)
	}
}

func TestEditAndDeleteByPrefix(t *testing.T) {
	env := setupCLITestEnv(t)
	fixNow(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local))

	mustRunCLI(t, env, "log", "A", "--at", "09:00")
	mustRunCLI(t, env, "log", "B", "--at", "09:30")
	mustRunCLI(t, env, "log", "C", "--at", "10:15")
	activities := decodeActivities(t, mustRunCLI(t, env, "list", "--json"))
	idB := activities[1].ID

	out := mustRunCLI(t, env, "edit", idB[:8], "--description", "B revised")
	requireContains(t, out, `"B revised"`)

	if _, _, err := runCLI(t, env, "edit", idB); err == nil {
		t.Fatal("expected edit without changes to fail")
	}

	requireContains(t, mustRunCLI(t, env, "delete", idB[:8]), "Deleted")
	activities = decodeActivities(t, mustRunCLI(t, env, "list", "--json"))
	if len(activities) != 2 {
		t.Fatalf("expected 2 entries after delete, got %d", len(activities))
	}
	if activities[0].Description != "A" || activities[0].DurationMinutes != 75 {
		t.Fatalf("expected A to bridge the gap to C, got %+v", activities[0])
	}

	if _, _, err := runCLI(t, env, "delete", "zzzzzzzz"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEditDurationOverride(t *testing.T) {
	env := setupCLITestEnv(t)
	fixNow(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local))

	mustRunCLI(t, env, "log", "solo", "--at", "11:00")
	id := decodeActivities(t, mustRunCLI(t, env, "list", "--json"))[0].ID
	requireContains(t, mustRunCLI(t, env, "edit", id, "--duration", "25m"), "25m")

	got := decodeActivities(t, mustRunCLI(t, env, "list", "--json"))[0]
	if got.DurationMinutes != 25 {
		t.Fatalf("expected override of 25, got %d", got.DurationMinutes)
	}
}

func TestConfigSetGetShow(t *testing.T) {
	env := setupCLITestEnv(t)

	requireContains(t, mustRunCLI(t, env, "config", "set", "notificationInterval", "45"), "notificationInterval = 45")
	if got := strings.TrimSpace(mustRunCLI(t, env, "config", "get", "notificationInterval")); got != "45" {
		t.Fatalf("expected 45, got %q", got)
	}

	if _, _, err := runCLI(t, env, "config", "set", "notificationInterval", "0"); !errors.Is(err, ledger.ErrInvalidSetting) {
		t.Fatalf("expected ErrInvalidSetting, got %v", err)
	}
	_, _, err := runCLI(t, env, "config", "get", "bogus")
	if !errors.Is(err, ledger.ErrUnknownSetting) {
		t.Fatalf("expected ErrUnknownSetting, got %v", err)
	}
	requireContains(t, err.Error(), "autoStartOnLogin")

	show := mustRunCLI(t, env, "config", "show")
	requireContains(t, show, env.configPath)
	requireContains(t, show, "sessionCheckInterval")

	if _, err := os.Stat(filepath.Join(env.dataDir, ledger.SettingsFileName)); err != nil {
		t.Fatalf("expected settings file: %v", err)
	}
}

func TestConfigInit(t *testing.T) {
	env := setupCLITestEnv(t)
	target := filepath.Join(t.TempDir(), "nested", "config.toml")

	requireContains(t, mustRunCLI(t, env, "config", "init", "--path", target), "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, _, err := runCLI(t, env, "config", "init", "--path", target); err == nil {
		t.Fatal("expected second init without --overwrite to fail")
	}
	mustRunCLI(t, env, "config", "init", "--path", target, "--overwrite")
}

func TestStatusWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	out := mustRunCLI(t, env, "status")
	requireContains(t, out, "Not running")
	requireContains(t, out, "Nothing logged yet")

	var st struct {
		IsRunning bool `json:"isRunning"`
	}
	if err := json.Unmarshal([]byte(mustRunCLI(t, env, "status", "--json")), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.IsRunning {
		t.Fatal("expected isRunning=false")
	}

	requireContains(t, mustRunCLI(t, env, "stop"), "Daemon is not running")
	requireContains(t, mustRunCLI(t, env, "kill"), "Daemon is not running")
}

func TestHistory(t *testing.T) {
	env := setupCLITestEnv(t)

	requireContains(t, mustRunCLI(t, env, "history"), "No events recorded yet")

	store := testsupport.MustOpenJournal(t, env.cfg)
	if err := store.Record(t.Context(), journal.KindLock, "loginctl"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store.Record(t.Context(), journal.KindCheckInSent, "ntfy"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	out := mustRunCLI(t, env, "history")
	requireContains(t, out, "checkin_sent")
	requireContains(t, out, "lock")

	var entries []journal.Entry
	if err := json.Unmarshal([]byte(mustRunCLI(t, env, "history", "--kind", "lock", "--json")), &entries); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != journal.KindLock {
		t.Fatalf("unexpected filtered history %+v", entries)
	}

	if _, _, err := runCLI(t, env, "history", "--kind", "nap"); err == nil {
		t.Fatal("expected unknown kind to fail")
	}
}

func TestSessionSampleUsesLoginctl(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("loginctl probe is Linux only")
	}
	env := setupCLITestEnv(t, testsupport.WithStubbedBinaries(`Active=yes\nLockedHint=yes\n`))
	t.Setenv("XDG_SESSION_ID", "c1")

	out := mustRunCLI(t, env, "session")
	requireContains(t, out, "loginctl")
	requireContains(t, out, "Active")
	requireContains(t, out, "Locked")
}

func TestLogsShowsTail(t *testing.T) {
	env := setupCLITestEnv(t)

	requireContains(t, mustRunCLI(t, env, "logs"), "No daemon log")

	testsupport.WriteFile(t, env.cfg.CurrentLogPath(), "one\ntwo\nthree\n")
	out := mustRunCLI(t, env, "logs", "-n", "2")
	if strings.Contains(out, "one") || !strings.Contains(out, "two\nthree") {
		t.Fatalf("unexpected tail %q", out)
	}
}
