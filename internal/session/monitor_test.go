package session_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"nudge/internal/ledger"
	"nudge/internal/logging"
	"nudge/internal/session"
	"nudge/internal/supervisor"
	"nudge/internal/testsupport"
)

type scriptedProbe struct {
	mu      sync.Mutex
	samples []session.Sample
	err     error
}

func (p *scriptedProbe) Name() string { return "scripted" }

func (p *scriptedProbe) Sample(context.Context) (session.Sample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return session.Sample{}, p.err
	}
	if len(p.samples) == 0 {
		return session.Sample{SessionActive: true}, nil
	}
	s := p.samples[0]
	if len(p.samples) > 1 {
		p.samples = p.samples[1:]
	}
	return s, nil
}

type fakeController struct {
	mu      sync.Mutex
	running bool
	starts  int
	stops   int
}

func (c *fakeController) IsRunning(context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *fakeController) Start(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	c.running = true
	return 1234, nil
}

func (c *fakeController) Stop(context.Context) (supervisor.StopResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	c.running = false
	return supervisor.StopResult{WasRunning: true}, nil
}

type recordingLedger struct {
	mu      sync.Mutex
	markers []ledger.MarkerKind
	backups []string
}

func (l *recordingLedger) AppendMarker(_ context.Context, kind ledger.MarkerKind) (ledger.Activity, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.markers); n > 0 && l.markers[n-1] == kind {
		return ledger.Activity{}, false, nil
	}
	l.markers = append(l.markers, kind)
	return ledger.Activity{Description: string(kind)}, true, nil
}

func (l *recordingLedger) WriteEmergencyBackup(_ context.Context, reason string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backups = append(l.backups, reason)
	return "/tmp/emergency_backup.json", nil
}

func settingsWith(fn func(*ledger.Settings)) func() ledger.Settings {
	return func() ledger.Settings {
		s := ledger.DefaultSettings()
		fn(&s)
		return s
	}
}

func pollAll(t *testing.T, m *session.Monitor, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := m.PollOnce(context.Background()); err != nil {
			t.Fatalf("PollOnce: %v", err)
		}
	}
}

func TestFirstSampleFiresNoEvent(t *testing.T) {
	probe := &scriptedProbe{samples: []session.Sample{{SessionActive: false, Locked: true}}}
	ctrl := &fakeController{}
	m := session.New(session.Options{
		Probe:      probe,
		Supervisor: ctrl,
		Ledger:     &recordingLedger{},
		Settings:   settingsWith(func(s *ledger.Settings) { s.AutoStartOnLogin = true; s.AutoStopOnLock = true }),
		Logger:     logging.NewNop(),
	})
	var events []session.Event
	m.Subscribe(func(ev session.Event) { events = append(events, ev) })

	pollAll(t, m, 3)
	if len(events) != 0 {
		t.Fatalf("expected no events from repeated first sample, got %v", events)
	}
	sess, lock := m.State()
	if sess != session.SessionInactive || lock != session.LockLocked {
		t.Fatalf("unexpected state %v/%v", sess, lock)
	}
	if ctrl.starts != 0 || ctrl.stops != 0 {
		t.Fatalf("unexpected supervisor calls %+v", ctrl)
	}
}

func TestEachChangeFiresOneEvent(t *testing.T) {
	probe := &scriptedProbe{samples: []session.Sample{
		{SessionActive: true, Locked: false},
		{SessionActive: true, Locked: true},
		{SessionActive: true, Locked: true},
		{SessionActive: false, Locked: false},
		{SessionActive: true, Locked: false},
	}}
	m := session.New(session.Options{Probe: probe, Logger: logging.NewNop()})
	var events []session.Event
	m.Subscribe(func(ev session.Event) { events = append(events, ev) })

	pollAll(t, m, 5)
	want := []session.Event{session.EventLock, session.EventLogout, session.EventUnlock, session.EventLogin}
	if len(events) != len(want) {
		t.Fatalf("unexpected events %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d: got %v want %v (all %v)", i, events[i], want[i], events)
		}
	}
}

func TestLoginStartsDaemonWhenEnabled(t *testing.T) {
	probe := &scriptedProbe{samples: []session.Sample{{SessionActive: false}, {SessionActive: true}}}
	ctrl := &fakeController{}
	m := session.New(session.Options{
		Probe:      probe,
		Supervisor: ctrl,
		Settings:   settingsWith(func(s *ledger.Settings) { s.AutoStartOnLogin = true }),
		Logger:     logging.NewNop(),
	})
	pollAll(t, m, 2)
	if ctrl.starts != 1 {
		t.Fatalf("expected one start, got %d", ctrl.starts)
	}
}

func TestLogoutPausesBacksUpAndStops(t *testing.T) {
	probe := &scriptedProbe{samples: []session.Sample{{SessionActive: true}, {SessionActive: false}}}
	ctrl := &fakeController{running: true}
	led := &recordingLedger{}
	m := session.New(session.Options{
		Probe:      probe,
		Supervisor: ctrl,
		Ledger:     led,
		Settings:   settingsWith(func(s *ledger.Settings) { s.AutoStopOnLogout = true }),
		Logger:     logging.NewNop(),
	})
	pollAll(t, m, 2)
	if len(led.markers) != 1 || led.markers[0] != ledger.MarkerPausedLogout {
		t.Fatalf("unexpected markers %v", led.markers)
	}
	if len(led.backups) != 1 || led.backups[0] != "logout" {
		t.Fatalf("unexpected emergency backups %v", led.backups)
	}
	if ctrl.stops != 1 {
		t.Fatalf("expected one stop, got %d", ctrl.stops)
	}
}

func TestLockWithoutAutoStopIsNoop(t *testing.T) {
	probe := &scriptedProbe{samples: []session.Sample{{SessionActive: true}, {SessionActive: true, Locked: true}}}
	ctrl := &fakeController{running: true}
	led := &recordingLedger{}
	m := session.New(session.Options{Probe: probe, Supervisor: ctrl, Ledger: led, Logger: logging.NewNop()})
	pollAll(t, m, 2)
	if len(led.markers) != 0 || ctrl.stops != 0 {
		t.Fatalf("expected no reaction, markers=%v stops=%d", led.markers, ctrl.stops)
	}
}

func TestLockStopsWhenUnlockWillNotRestart(t *testing.T) {
	probe := &scriptedProbe{samples: []session.Sample{{SessionActive: true}, {SessionActive: true, Locked: true}}}
	ctrl := &fakeController{running: true}
	led := &recordingLedger{}
	m := session.New(session.Options{
		Probe:      probe,
		Supervisor: ctrl,
		Ledger:     led,
		Settings:   settingsWith(func(s *ledger.Settings) { s.AutoStopOnLock = true }),
		Logger:     logging.NewNop(),
	})
	pollAll(t, m, 2)
	if ctrl.stops != 1 || len(led.backups) != 1 || led.backups[0] != "lock" {
		t.Fatalf("expected full stop sequence, stops=%d backups=%v", ctrl.stops, led.backups)
	}
	if len(led.markers) != 1 || led.markers[0] != ledger.MarkerPausedLock {
		t.Fatalf("unexpected markers %v", led.markers)
	}
}

func TestUnlockOutsideDaemonStarts(t *testing.T) {
	probe := &scriptedProbe{samples: []session.Sample{{SessionActive: true, Locked: true}, {SessionActive: true}}}
	ctrl := &fakeController{}
	led := &recordingLedger{}
	m := session.New(session.Options{
		Probe:      probe,
		Supervisor: ctrl,
		Ledger:     led,
		Settings:   settingsWith(func(s *ledger.Settings) { s.AutoStartOnUnlock = true }),
		Logger:     logging.NewNop(),
	})
	pollAll(t, m, 2)
	if ctrl.starts != 1 || len(led.markers) != 0 {
		t.Fatalf("expected start without marker, starts=%d markers=%v", ctrl.starts, led.markers)
	}
}

// Locking with both auto-stop-on-lock and auto-start-on-unlock keeps the
// daemon alive: only a marker is written and the pid file stays in place.
func TestLockKeepsDaemonAliveForUnlock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	led := testsupport.MustOpenLedger(t, cfg)
	sup := supervisor.New(supervisor.Options{
		Dir:        cfg.Paths.DataDir,
		Executable: "/usr/local/bin/nudge",
		Logger:     logging.NewNop(),
		InDaemon:   true,
	})
	if err := supervisor.WritePIDFile(sup.PIDPath()); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	hooksRan := false
	sup.OnShutdown("timers", func() { hooksRan = true })

	probe := &scriptedProbe{samples: []session.Sample{
		{SessionActive: true},
		{SessionActive: true, Locked: true},
		{SessionActive: true},
		{SessionActive: true, Locked: true},
	}}
	m := session.New(session.Options{
		Probe:      probe,
		Supervisor: sup,
		Ledger:     led,
		InDaemon:   true,
		Settings: settingsWith(func(s *ledger.Settings) {
			s.AutoStopOnLock = true
			s.AutoStartOnUnlock = true
		}),
		Logger: logging.NewNop(),
	})

	pollAll(t, m, 2)
	if _, err := os.Stat(sup.PIDPath()); err != nil {
		t.Fatalf("expected pid file intact after lock: %v", err)
	}
	if hooksRan {
		t.Fatal("expected shutdown hooks not to run on lock")
	}
	last, ok := led.Last()
	if !ok || !last.IsMarker(ledger.MarkerPausedLock) {
		t.Fatalf("expected paused marker, got %+v", last)
	}

	pollAll(t, m, 2)
	var descriptions []string
	for _, a := range led.All() {
		descriptions = append(descriptions, a.Description)
	}
	want := []string{string(ledger.MarkerPausedLock), string(ledger.MarkerResumedUnlock), string(ledger.MarkerPausedLock)}
	if len(descriptions) != len(want) {
		t.Fatalf("unexpected ledger %v", descriptions)
	}
	for i := range want {
		if descriptions[i] != want[i] {
			t.Fatalf("unexpected ledger %v", descriptions)
		}
	}
	if !sup.IsRunning(context.Background()) {
		t.Fatal("expected daemon still reported running")
	}
}

func TestProbeErrorLeavesStateUntouched(t *testing.T) {
	probe := &scriptedProbe{err: errors.New("loginctl missing")}
	m := session.New(session.Options{Probe: probe, Logger: logging.NewNop()})
	if err := m.PollOnce(context.Background()); err == nil {
		t.Fatal("expected probe error")
	}
	sess, lock := m.State()
	if sess != session.SessionUnknown || lock != session.LockUnknown {
		t.Fatalf("expected unknown state, got %v/%v", sess, lock)
	}
}

func TestSampleAfterCancelIsDiscarded(t *testing.T) {
	probe := &scriptedProbe{samples: []session.Sample{{SessionActive: true}}}
	m := session.New(session.Options{Probe: probe, Logger: logging.NewNop()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.PollOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if sess, _ := m.State(); sess != session.SessionUnknown {
		t.Fatalf("expected sample discarded, state %v", sess)
	}
}

func TestStartStopLoop(t *testing.T) {
	probe := &scriptedProbe{samples: []session.Sample{{SessionActive: true}}}
	m := session.New(session.Options{Probe: probe, Logger: logging.NewNop(), Interval: 10 * time.Millisecond})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if sess, _ := m.State(); sess == session.SessionActive {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("monitor never sampled")
		}
		time.Sleep(5 * time.Millisecond)
	}
	m.Stop()
	m.Stop()
	m.UpdateConfig(ledger.DefaultSettings())
}
