//go:build linux

package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"nudge/internal/logging"
)

// netlinkTrigger requests an immediate poll when display, backlight or input
// devices change, which usually accompanies lock and login transitions.
type netlinkTrigger struct {
	logger  *slog.Logger
	request func()

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

func newNetlinkTrigger(logger *slog.Logger, request func()) *netlinkTrigger {
	return &netlinkTrigger{logger: logger, request: request}
}

// Start connects to the udev netlink socket. A connection failure is logged
// and returned; polling continues without the trigger.
func (t *netlinkTrigger) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		t.logger.Warn("netlink unavailable; session changes detected by polling only",
			logging.Error(err),
			logging.EventType("netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the daemon may open netlink sockets"),
			logging.String(logging.FieldImpact, "lock and login transitions may be noticed one poll late"),
		)
		return err
	}
	t.conn = conn
	t.quit = make(chan struct{})
	t.running = true

	quit := t.quit
	go t.loop(ctx, conn, quit)
	t.logger.Debug("netlink trigger started")
	return nil
}

func (t *netlinkTrigger) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	close(t.quit)
	t.quit = nil
	_ = t.conn.Close()
	t.conn = nil
	t.running = false
}

func (t *netlinkTrigger) loop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, sessionMatcher())
	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case ev := <-queue:
			t.logger.Debug("device change, re-probing session",
				logging.String("action", string(ev.Action)),
				logging.String("subsystem", ev.Env["SUBSYSTEM"]),
			)
			t.request()
		case err := <-errs:
			t.logger.Debug("netlink monitor error", logging.Error(err))
		}
	}
}

// sessionMatcher matches drm, backlight and input device changes.
func sessionMatcher() netlink.Matcher {
	action := "change|add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "^(drm|backlight|input)$",
		},
	})
	return rules
}
