package daemonrun_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"nudge/internal/daemonrun"
	"nudge/internal/journal"
	"nudge/internal/ledger"
	"nudge/internal/session"
	"nudge/internal/supervisor"
	"nudge/internal/testsupport"
)

type countingNotifier struct {
	calls atomic.Int32
}

func (n *countingNotifier) SendCheckIn(context.Context, int, *ledger.Activity) bool {
	n.calls.Add(1)
	return true
}

type steadyProbe struct{}

func (steadyProbe) Name() string { return "steady" }

func (steadyProbe) Sample(context.Context) (session.Sample, error) {
	return session.Sample{SessionActive: true}, nil
}

func startDaemon(t *testing.T, ctx context.Context, opts daemonrun.Options) (<-chan error, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	ready := make(chan struct{})
	opts.Ready = func() { close(ready) }
	if opts.Notifier == nil {
		opts.Notifier = &countingNotifier{}
	}
	if opts.Probe == nil {
		opts.Probe = steadyProbe{}
	}
	done := make(chan error, 1)
	go func() { done <- daemonrun.Run(ctx, cfg, opts) }()
	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("Run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon never became ready")
	}
	return done, cfg.Paths.DataDir
}

func TestRunWritesPIDAndCleansUp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done, dataDir := startDaemon(t, ctx, daemonrun.Options{Executable: "/usr/local/bin/nudge"})

	pidPath := filepath.Join(dataDir, "nudge.pid")
	pid, err := supervisor.ReadPIDFile(pidPath)
	if err != nil || pid != os.Getpid() {
		t.Fatalf("expected pid file with own pid, got %d err=%v", pid, err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("daemon did not stop")
	}
	for _, name := range []string{"nudge.pid", "nudge.status.json"} {
		if _, err := os.Stat(filepath.Join(dataDir, name)); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed, stat err=%v", name, err)
		}
	}

	store, err := journal.Open(filepath.Join(dataDir, "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer store.Close()
	entries, err := store.Recent(context.Background(), 10, journal.KindDaemonStarted, journal.KindDaemonStopped)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 || entries[0].Kind != journal.KindDaemonStopped {
		t.Fatalf("unexpected journal entries %+v", entries)
	}
}

func TestSecondDaemonExitsOnLock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := testsupport.NewConfig(t)

	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- daemonrun.Run(ctx, cfg, daemonrun.Options{
			Notifier: &countingNotifier{},
			Probe:    steadyProbe{},
			Ready:    func() { close(ready) },
		})
	}()
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("first daemon never became ready")
	}

	err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{Notifier: &countingNotifier{}})
	if !errors.Is(err, daemonrun.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	cancel()
	<-done
}

func TestRunAppliesEmergencyRecovery(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	led := testsupport.MustOpenLedger(t, cfg)
	testsupport.MustAppend(t, led, "writing", time.Now().Add(-time.Hour))
	testsupport.MustAppend(t, led, "review", time.Now().Add(-30*time.Minute))
	if _, err := led.WriteEmergencyBackup(context.Background(), "logout"); err != nil {
		t.Fatalf("WriteEmergencyBackup: %v", err)
	}
	if err := led.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Simulate the canonical file being lost after the snapshot.
	if err := os.Remove(filepath.Join(cfg.Paths.DataDir, "activities.json")); err != nil {
		t.Fatalf("remove activities: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- daemonrun.Run(ctx, cfg, daemonrun.Options{
			Notifier: &countingNotifier{},
			Probe:    steadyProbe{},
			Ready:    func() { close(ready) },
		})
	}()
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("daemon never became ready")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := os.Stat(filepath.Join(cfg.Paths.DataDir, "emergency_backup.json")); !os.IsNotExist(err) {
		t.Fatalf("expected emergency backup consumed, stat err=%v", err)
	}
	store := testsupport.MustOpenJournal(t, cfg)
	entries, err := store.Recent(context.Background(), 10, journal.KindRecoveryApplied)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected recovery journal entry, got %+v err=%v", entries, err)
	}
	reopened := testsupport.MustOpenLedger(t, cfg)
	if reopened.Len() != 2 {
		t.Fatalf("expected recovered activities, got %d", reopened.Len())
	}
}
