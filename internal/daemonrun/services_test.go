package daemonrun

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nudge/internal/journal"
	"nudge/internal/ledger"
	"nudge/internal/logging"
	"nudge/internal/notifications"
	"nudge/internal/testsupport"
)

type recordingNotifier struct {
	mu       sync.Mutex
	minutes  []int
	lastDesc []string
	ok       bool
}

func (n *recordingNotifier) SendCheckIn(_ context.Context, minutes int, last *ledger.Activity) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.minutes = append(n.minutes, minutes)
	desc := ""
	if last != nil {
		desc = last.Description
	}
	n.lastDesc = append(n.lastDesc, desc)
	return n.ok
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.minutes)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCheckinServiceFiresAndJournals(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	led := testsupport.MustOpenLedger(t, cfg)
	testsupport.MustAppend(t, led, "drafting", time.Now())
	store := testsupport.MustOpenJournal(t, cfg)
	notifier := &recordingNotifier{ok: true}

	svc := newCheckinService(led, notifier, store, logging.NewNop(), 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = svc.Serve(ctx)
		close(done)
	}()

	waitFor(t, "two check-ins", func() bool { return notifier.count() >= 2 })
	if svc.NextCheckIn() == nil {
		t.Fatal("expected next check-in while serving")
	}
	cancel()
	<-done
	if svc.NextCheckIn() != nil {
		t.Fatal("expected no next check-in after stop")
	}

	notifier.mu.Lock()
	if notifier.lastDesc[0] != "drafting" {
		t.Fatalf("expected last activity passed, got %q", notifier.lastDesc[0])
	}
	notifier.mu.Unlock()

	entries, err := store.Recent(context.Background(), 10, journal.KindCheckInSent)
	if err != nil || len(entries) < 2 {
		t.Fatalf("expected journaled check-ins, got %d err=%v", len(entries), err)
	}
}

func TestCheckinServiceWithoutTransportJournalsSkip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	led := testsupport.MustOpenLedger(t, cfg)
	store := testsupport.MustOpenJournal(t, cfg)

	svc := newCheckinService(led, notifications.New(cfg, nil), store, logging.NewNop(), time.Hour)
	svc.fire(context.Background(), time.Hour)

	sent, err := store.Recent(context.Background(), 10, journal.KindCheckInSent)
	if err != nil || len(sent) != 0 {
		t.Fatalf("expected no delivered check-in journaled, got %d err=%v", len(sent), err)
	}
	skipped, err := store.Recent(context.Background(), 10, journal.KindCheckInSkipped)
	if err != nil || len(skipped) != 1 || skipped[0].Detail != "every 60m" {
		t.Fatalf("expected one skipped check-in, got %+v err=%v", skipped, err)
	}
}

func TestCheckinServiceReset(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	led := testsupport.MustOpenLedger(t, cfg)
	notifier := &recordingNotifier{}

	svc := newCheckinService(led, notifier, nil, logging.NewNop(), time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Serve(ctx) }()

	waitFor(t, "schedule", func() bool { return svc.NextCheckIn() != nil })
	svc.Reset(20 * time.Millisecond)
	waitFor(t, "check-in after reset", func() bool { return notifier.count() >= 1 })
}

func TestSettingsWatcherAppliesExternalChange(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	led := testsupport.MustOpenLedger(t, cfg)
	writer := testsupport.MustOpenLedger(t, cfg)

	var applied atomic.Int32
	var got atomic.Value
	w := &settingsWatcher{
		ledger: led,
		logger: logging.NewNop(),
		apply: func(s ledger.Settings) {
			got.Store(s)
			applied.Add(1)
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Serve(ctx) }()
	time.Sleep(50 * time.Millisecond)

	if _, err := writer.UpdateSettings(context.Background(), "notificationInterval", "15"); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	waitFor(t, "settings applied", func() bool { return applied.Load() > 0 })
	if s := got.Load().(ledger.Settings); s.NotificationInterval != 15 {
		t.Fatalf("expected reloaded interval 15, got %d", s.NotificationInterval)
	}
	if led.Settings().NotificationInterval != 15 {
		t.Fatalf("expected ledger settings reloaded, got %+v", led.Settings())
	}
}

func TestRetentionServicePrunes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	led := testsupport.MustOpenLedger(t, cfg)
	store := testsupport.MustOpenJournal(t, cfg)
	now := time.Now()
	testsupport.MustAppend(t, led, "ancient", now.AddDate(0, 0, -40))
	testsupport.MustAppend(t, led, "recent", now.Add(-time.Hour))
	if _, err := led.UpdateSettings(context.Background(), "dataRetentionDays", "30"); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	r := &retentionService{ledger: led, journal: store, logger: logging.NewNop(), now: func() time.Time { return now }}
	r.prune(context.Background())
	if led.Len() != 1 {
		t.Fatalf("expected one activity left, got %d", led.Len())
	}
}

func TestEnsureCurrentLogPointer(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nudge-1.log")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := ensureCurrentLogPointer(filepath.Join(dir, "nudge.log"), target); err != nil {
			t.Fatalf("ensureCurrentLogPointer: %v", err)
		}
	}
	data, err := os.ReadFile(filepath.Join(dir, "nudge.log"))
	if err != nil || string(data) != "x" {
		t.Fatalf("unexpected pointer content %q err=%v", data, err)
	}
}
