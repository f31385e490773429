package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nudge/internal/journal"
	"nudge/internal/ledger"
	"nudge/internal/logging"
	"nudge/internal/notifications"
)

// checkinService sends a check-in every notificationInterval minutes.
type checkinService struct {
	ledger   *ledger.Ledger
	notifier notifications.Notifier
	journal  journal.Recorder
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	interval time.Duration
	next     time.Time
	reset    chan time.Duration
}

func newCheckinService(l *ledger.Ledger, n notifications.Notifier, j journal.Recorder, logger *slog.Logger, interval time.Duration) *checkinService {
	return &checkinService{
		ledger:   l,
		notifier: n,
		journal:  j,
		logger:   logging.NewComponentLogger(logger, "checkin"),
		now:      time.Now,
		interval: interval,
		reset:    make(chan time.Duration, 1),
	}
}

func (c *checkinService) String() string { return "checkin" }

// NextCheckIn returns when the next check-in fires, or nil when idle.
func (c *checkinService) NextCheckIn() *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next.IsZero() {
		return nil
	}
	next := c.next
	return &next
}

// Reset restarts the timer with a new interval.
func (c *checkinService) Reset(interval time.Duration) {
	c.mu.Lock()
	changed := interval != c.interval
	c.interval = interval
	c.mu.Unlock()
	if !changed {
		return
	}
	select {
	case c.reset <- interval:
	default:
		// replace a pending value
		select {
		case <-c.reset:
		default:
		}
		c.reset <- interval
	}
}

func (c *checkinService) Serve(ctx context.Context) error {
	c.mu.Lock()
	interval := c.interval
	c.mu.Unlock()

	timer := time.NewTimer(interval)
	defer timer.Stop()
	c.schedule(interval)
	defer c.clear()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case interval = <-c.reset:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(interval)
			c.schedule(interval)
			c.logger.Info("check-in interval changed", logging.Duration("interval", interval))
		case <-timer.C:
			c.fire(ctx, interval)
			timer.Reset(interval)
			c.schedule(interval)
		}
	}
}

func (c *checkinService) schedule(interval time.Duration) {
	c.mu.Lock()
	c.next = c.now().Add(interval)
	c.mu.Unlock()
}

func (c *checkinService) clear() {
	c.mu.Lock()
	c.next = time.Time{}
	c.mu.Unlock()
}

func (c *checkinService) fire(ctx context.Context, interval time.Duration) {
	var last *ledger.Activity
	if a, ok := c.ledger.Last(); ok {
		last = &a
	}
	minutes := int(interval / time.Minute)
	if !notifications.Configured(c.notifier) {
		c.logger.Debug("check-in skipped; no transport configured", logging.EventType("checkin_skipped"))
		c.record(ctx, journal.KindCheckInSkipped, fmt.Sprintf("every %dm", minutes))
		return
	}
	if c.notifier.SendCheckIn(ctx, minutes, last) {
		c.logger.Debug("check-in delivered", logging.EventType("checkin_sent"))
		c.record(ctx, journal.KindCheckInSent, fmt.Sprintf("every %dm", minutes))
		return
	}
	logging.WarnWithContext(c.logger, "check-in not delivered", "checkin_failed",
		logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and notifications.command"),
		logging.String(logging.FieldImpact, "this reminder was skipped"),
	)
	c.record(ctx, journal.KindCheckInFailed, fmt.Sprintf("every %dm", minutes))
}

func (c *checkinService) record(ctx context.Context, kind journal.Kind, detail string) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Record(ctx, kind, detail); err != nil {
		c.logger.Debug("journal record failed", logging.Error(err))
	}
}
