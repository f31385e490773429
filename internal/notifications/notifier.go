package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"nudge/internal/config"
	"nudge/internal/ledger"
	"nudge/internal/logging"
)

const userAgent = "nudge/0.1.0"

// Notifier delivers a check-in. False means nothing was delivered.
type Notifier interface {
	SendCheckIn(ctx context.Context, intervalMinutes int, last *ledger.Activity) bool
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type sender interface {
	name() string
	send(ctx context.Context, data payload) error
}

// New builds a notifier from the [notifications] config section. With no
// transport configured a no-op notifier is returned.
func New(cfg *config.Config, logger *slog.Logger) Notifier {
	logger = logging.NewComponentLogger(logger, "notifications")
	if cfg == nil {
		return noopNotifier{logger: logger}
	}

	var senders []sender
	if topic := strings.TrimSpace(cfg.Notifications.NtfyTopic); topic != "" {
		senders = append(senders, &ntfySender{
			endpoint: topic,
			client:   &http.Client{Timeout: cfg.NotificationTimeout()},
		})
	}
	if len(cfg.Notifications.Command) > 0 {
		senders = append(senders, &commandSender{
			argv:    append([]string(nil), cfg.Notifications.Command...),
			timeout: cfg.NotificationTimeout(),
		})
	}
	if len(senders) == 0 {
		return noopNotifier{logger: logger}
	}
	return newBreakerNotifier(senders, cfg.Notifications.FailureThreshold, logger)
}

// Configured reports whether n delivers anywhere.
func Configured(n Notifier) bool {
	_, noop := n.(noopNotifier)
	return n != nil && !noop
}

type breakerNotifier struct {
	targets []breakerTarget
	logger  *slog.Logger
	now     func() time.Time
}

type breakerTarget struct {
	sender  sender
	breaker *gobreaker.CircuitBreaker[struct{}]
}

func newBreakerNotifier(senders []sender, threshold int, logger *slog.Logger) *breakerNotifier {
	if threshold <= 0 {
		threshold = 3
	}
	n := &breakerNotifier{logger: logger, now: time.Now}
	for _, s := range senders {
		n.targets = append(n.targets, breakerTarget{
			sender: s,
			breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
				Name:        s.name(),
				MaxRequests: 1,
				Timeout:     5 * time.Minute,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= uint32(threshold)
				},
				OnStateChange: func(name string, from, to gobreaker.State) {
					logger.Info("check-in delivery state changed",
						logging.String("transport", name),
						logging.String("from", from.String()),
						logging.String("to", to.String()),
						logging.EventType("notifier_breaker"),
					)
				},
			}),
		})
	}
	return n
}

// SendCheckIn tries every transport and succeeds when at least one delivers.
func (n *breakerNotifier) SendCheckIn(ctx context.Context, intervalMinutes int, last *ledger.Activity) (delivered bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(n.logger, "check-in delivery panicked", "checkin_panic",
				logging.Any("panic", r),
			)
			delivered = false
		}
	}()

	data := checkInPayload(intervalMinutes, last, n.now())
	for _, target := range n.targets {
		_, err := target.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, target.sender.send(ctx, data)
		})
		if err == nil {
			delivered = true
			continue
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			n.logger.Debug("check-in transport paused", logging.String("transport", target.sender.name()))
			continue
		}
		logging.WarnWithContext(n.logger, "check-in delivery failed", "checkin_failed",
			logging.String("transport", target.sender.name()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "verify notifications.ntfy_topic or notifications.command"),
			logging.String(logging.FieldImpact, "this check-in was not shown"),
		)
	}
	return delivered
}

func checkInPayload(intervalMinutes int, last *ledger.Activity, now time.Time) payload {
	message := "What are you working on?"
	if last != nil {
		ago := now.Sub(last.TimestampEnd).Round(time.Minute)
		if ago < 0 {
			ago = 0
		}
		message = fmt.Sprintf("What are you working on?\nLast: %s (%s)", last.Description, formatAgo(ago))
	}
	return payload{
		title:   "nudge - Check-in",
		message: message,
		tags:    []string{"nudge", "checkin", fmt.Sprintf("every-%dm", intervalMinutes)},
	}
}

// formatAgo renders an elapsed time as "just now", "5m ago" or "1h30m ago".
func formatAgo(d time.Duration) string {
	if d < time.Minute {
		return "just now"
	}
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	switch {
	case hours == 0:
		return fmt.Sprintf("%dm ago", minutes)
	case minutes == 0:
		return fmt.Sprintf("%dh ago", hours)
	default:
		return fmt.Sprintf("%dh%02dm ago", hours, minutes)
	}
}

type noopNotifier struct {
	logger *slog.Logger
}

func (n noopNotifier) SendCheckIn(context.Context, int, *ledger.Activity) bool {
	if n.logger != nil {
		n.logger.Debug("check-in skipped; no transport configured")
	}
	return false
}
