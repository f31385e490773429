package logging_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nudge/internal/config"
	"nudge/internal/logging"
)

func TestNewFromConfigConsole(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger instance")
	}
	if logger.Enabled(t.Context(), slog.LevelDebug) {
		t.Fatal("expected debug disabled at default level")
	}
}

func TestConsoleLoggerOmitsSourceForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("activity logged", logging.ActivityID("abc"), logging.String(logging.FieldComponent, "ledger"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	text := string(content)
	if strings.Contains(text, ".go:") {
		t.Fatalf("expected no source information in info logs, got %q", text)
	}
	if !strings.Contains(text, "INFO  ledger: activity logged activity_id=abc\n") {
		t.Fatalf("unexpected line: %q", text)
	}
}

func TestConsoleLoggerIncludesSourceForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("probe sample")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "logger_test.go:") {
		t.Fatalf("expected source location in debug logs, got %q", content)
	}
}

func TestJSONLoggerFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Warn("stop", logging.PID(42))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &entry); err != nil {
		t.Fatalf("decode json line: %v", err)
	}
	if entry["level"] != "warn" {
		t.Fatalf("expected lowercase level, got %v", entry["level"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", entry)
	}
	if entry["pid"] != float64(42) {
		t.Fatalf("expected pid 42, got %v", entry["pid"])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewDaemonLoggerWritesRunFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Paths.LogDir = t.TempDir()

	logger, path, err := logging.NewDaemonLogger(cfg, "20260101T000000.000Z")
	if err != nil {
		t.Fatalf("NewDaemonLogger: %v", err)
	}
	if filepath.Base(path) != "nudge-20260101T000000.000Z.log" {
		t.Fatalf("unexpected log path %q", path)
	}
	logger.Info("daemon started", logging.EventType("daemon_started"))

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	if !strings.Contains(string(content), `"event_type":"daemon_started"`) {
		t.Fatalf("expected json event in run log, got %q", content)
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	logging.WarnWithContext(logger, "backup failed", "backup_failed", logging.Error(errors.New("disk full")))

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{logging.FieldEventType, logging.FieldErrorHint, logging.FieldImpact} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected %s in %v", key, entry)
		}
	}
	if entry[logging.FieldEventType] != "backup_failed" {
		t.Fatalf("unexpected event type %v", entry[logging.FieldEventType])
	}
}

func TestWithContextAddsRunID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := logging.WithRunID(t.Context(), "run-1")

	logging.WithContext(ctx, base).Info("hello")

	if !strings.Contains(buf.String(), `"run_id":"run-1"`) {
		t.Fatalf("expected run_id in output, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"loud":    slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := logging.ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCleanupOldLogsRemovesExpired(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "nudge-old.log")
	freshPath := filepath.Join(dir, "nudge-new.log")
	keepPath := filepath.Join(dir, "nudge-current.log")
	for _, path := range []string{oldPath, freshPath, keepPath} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	past := time.Now().AddDate(0, 0, -10)
	for _, path := range []string{oldPath, keepPath} {
		if err := os.Chtimes(path, past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	logging.CleanupOldLogs(logging.NewNop(), 3, logging.RetentionTarget{Dir: dir, Pattern: "nudge-*.log", Exclude: []string{keepPath}})

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatalf("expected old log removed, stat err=%v", err)
	}
	for _, path := range []string{freshPath, keepPath} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s kept: %v", path, err)
		}
	}
}
