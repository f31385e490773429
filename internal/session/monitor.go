package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"nudge/internal/journal"
	"nudge/internal/ledger"
	"nudge/internal/logging"
	"nudge/internal/supervisor"
)

// MarkerWriter is the ledger surface the monitor mutates.
type MarkerWriter interface {
	AppendMarker(ctx context.Context, kind ledger.MarkerKind) (ledger.Activity, bool, error)
	WriteEmergencyBackup(ctx context.Context, reason string) (string, error)
}

// Controller is the supervisor surface the monitor drives.
type Controller interface {
	IsRunning(ctx context.Context) bool
	Start(ctx context.Context) (int, error)
	Stop(ctx context.Context) (supervisor.StopResult, error)
}

// Handler receives events after the built-in reactions ran.
type Handler func(Event)

// Options configures a Monitor.
type Options struct {
	Probe      Probe
	Ledger     MarkerWriter
	Supervisor Controller
	Settings   func() ledger.Settings
	InDaemon   bool
	Logger     *slog.Logger
	Journal    journal.Recorder
	// Interval overrides the sessionCheckInterval setting when positive.
	Interval time.Duration
	// Netlink enables the udev re-probe trigger where supported.
	Netlink bool
}

// Monitor polls the session probe and reacts to transitions.
type Monitor struct {
	probe    Probe
	ledger   MarkerWriter
	sup      Controller
	journal  journal.Recorder
	logger   *slog.Logger
	inDaemon bool
	netlink  bool
	fixed    time.Duration

	mu       sync.Mutex
	settings ledger.Settings
	session  tracker[SessionState]
	lock     tracker[LockState]
	handlers []Handler
	running  bool
	cancel   context.CancelFunc

	// applyMu serializes sample application between the loop and PollOnce.
	applyMu sync.Mutex
	reset   chan time.Duration
	wake    chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Monitor. A nil Probe selects the platform probe.
func New(opts Options) *Monitor {
	settings := ledger.DefaultSettings()
	if opts.Settings != nil {
		settings = opts.Settings()
	}
	probe := opts.Probe
	if probe == nil {
		probe = NewProbe(0)
	}
	return &Monitor{
		probe:    probe,
		ledger:   opts.Ledger,
		sup:      opts.Supervisor,
		journal:  opts.Journal,
		logger:   logging.NewComponentLogger(opts.Logger, "session-monitor"),
		inDaemon: opts.InDaemon,
		netlink:  opts.Netlink,
		fixed:    opts.Interval,
		settings: settings,
		reset:    make(chan time.Duration, 1),
		wake:     make(chan struct{}, 1),
	}
}

// Subscribe adds a handler called synchronously for every event.
func (m *Monitor) Subscribe(h Handler) {
	if h == nil {
		return
	}
	m.mu.Lock()
	m.handlers = append(m.handlers, h)
	m.mu.Unlock()
}

// State returns the last known session and lock state.
func (m *Monitor) State() (SessionState, LockState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.current, m.lock.current
}

// UpdateConfig applies new settings; a changed poll interval takes effect on
// the next tick.
func (m *Monitor) UpdateConfig(settings ledger.Settings) {
	m.mu.Lock()
	prev := m.settings
	m.settings = settings
	m.mu.Unlock()
	if m.fixed <= 0 && prev.SessionPollEvery() != settings.SessionPollEvery() {
		select {
		case m.reset <- settings.SessionPollEvery():
		default:
		}
	}
}

func (m *Monitor) interval() time.Duration {
	if m.fixed > 0 {
		return m.fixed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings.SessionPollEvery()
}

func (m *Monitor) currentSettings() ledger.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// Start runs the polling loop in the background until Stop or ctx ends.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_ = m.Serve(runCtx)
	}()
	return nil
}

// Stop halts a loop begun with Start and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Serve polls until ctx is cancelled. It satisfies suture.Service.
func (m *Monitor) Serve(ctx context.Context) error {
	m.logger.Info("session monitor started",
		logging.String("probe", m.probe.Name()),
		logging.Duration("interval", m.interval()),
		logging.EventType("session_monitor_started"),
	)
	defer m.logger.Info("session monitor stopped", logging.EventType("session_monitor_stopped"))

	if m.netlink {
		trigger := newNetlinkTrigger(m.logger, m.requestPoll)
		if err := trigger.Start(ctx); err == nil {
			defer trigger.Stop()
		}
	}

	m.poll(ctx)
	ticker := time.NewTicker(m.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-m.reset:
			ticker.Reset(d)
			m.logger.Debug("session poll interval changed", logging.Duration("interval", d))
		case <-ticker.C:
			m.poll(ctx)
		case <-m.wake:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) requestPoll() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Monitor) poll(ctx context.Context) {
	if err := m.PollOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Debug("session probe failed", logging.String("probe", m.probe.Name()), logging.Error(err))
	}
}

// PollOnce samples the probe and applies any transitions. Samples that
// arrive after ctx is done are discarded.
func (m *Monitor) PollOnce(ctx context.Context) error {
	sample, err := m.probe.Sample(ctx)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	m.mu.Lock()
	var events []Event
	if m.session.observe(sessionFromSample(sample.SessionActive)) {
		if sample.SessionActive {
			events = append(events, EventLogin)
		} else {
			events = append(events, EventLogout)
		}
	}
	if m.lock.observe(lockFromSample(sample.Locked)) {
		if sample.Locked {
			events = append(events, EventLock)
		} else {
			events = append(events, EventUnlock)
		}
	}
	handlers := append([]Handler(nil), m.handlers...)
	m.mu.Unlock()

	for _, ev := range events {
		m.dispatch(ctx, ev, handlers)
	}
	return nil
}

func (m *Monitor) dispatch(ctx context.Context, ev Event, handlers []Handler) {
	m.logger.Info("session transition",
		logging.String("event", ev.String()),
		logging.EventType("session_"+ev.String()),
	)
	if m.journal != nil {
		if err := m.journal.Record(ctx, journalKind(ev), m.probe.Name()); err != nil {
			m.logger.Debug("journal record failed", logging.Error(err))
		}
	}
	switch ev {
	case EventLogin:
		m.onLogin(ctx)
	case EventLogout:
		m.onLogout(ctx)
	case EventLock:
		m.onLock(ctx)
	case EventUnlock:
		m.onUnlock(ctx)
	}
	for _, h := range handlers {
		h(ev)
	}
}

func journalKind(ev Event) journal.Kind {
	switch ev {
	case EventLogin:
		return journal.KindLogin
	case EventLogout:
		return journal.KindLogout
	case EventLock:
		return journal.KindLock
	default:
		return journal.KindUnlock
	}
}
