package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"nudge/internal/logs"
)

func TestLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nudge.log")
	content := "a\nb\nc\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	lines, offset, err := logs.Last(path, 2)
	if err != nil {
		t.Fatalf("Last returned error: %v", err)
	}
	if len(lines) != 2 || lines[0] != "b" || lines[1] != "c" {
		t.Fatalf("unexpected lines: %#v", lines)
	}
	if offset != int64(len(content)) {
		t.Fatalf("expected offset %d, got %d", len(content), offset)
	}

	lines, _, err = logs.Last(path, 10)
	if err != nil || len(lines) != 3 {
		t.Fatalf("expected all three lines, got %#v err=%v", lines, err)
	}
}

func TestLastMissingFile(t *testing.T) {
	lines, offset, err := logs.Last(filepath.Join(t.TempDir(), "absent.log"), 5)
	if err != nil || lines != nil || offset != 0 {
		t.Fatalf("expected empty result, got %#v %d %v", lines, offset, err)
	}
}

type lineSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *lineSink) add(line string) {
	s.mu.Lock()
	s.lines = append(s.lines, line)
	s.mu.Unlock()
}

func (s *lineSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func waitForLines(t *testing.T, sink *lineSink, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := sink.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d lines, got %#v", n, sink.snapshot())
	return nil
}

func TestFollowStreamsAppendsAndRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nudge.log")
	if err := os.WriteFile(path, []byte("start\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	_, offset, err := logs.Last(path, 1)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sink := &lineSink{}
	done := make(chan error, 1)
	go func() {
		done <- logs.Follow(ctx, path, logs.FollowOptions{Offset: offset, Poll: 10 * time.Millisecond}, sink.add)
	}()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := f.WriteString("next\npart"); err != nil {
		t.Fatalf("append: %v", err)
	}
	got := waitForLines(t, sink, 1)
	if got[0] != "next" {
		t.Fatalf("unexpected first followed line %q", got[0])
	}
	if _, err := f.WriteString("ial\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()
	got = waitForLines(t, sink, 2)
	if got[1] != "partial" {
		t.Fatalf("expected partial line to be joined, got %q", got[1])
	}

	// a new run replaces the file
	replacement := filepath.Join(dir, "next.log")
	if err := os.WriteFile(replacement, []byte("fresh run\n"), 0o644); err != nil {
		t.Fatalf("write replacement: %v", err)
	}
	if err := os.Rename(replacement, path); err != nil {
		t.Fatalf("rename: %v", err)
	}
	got = waitForLines(t, sink, 3)
	if got[2] != "fresh run" {
		t.Fatalf("expected lines from the new file, got %q", got[2])
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Follow returned %v", err)
	}
}
