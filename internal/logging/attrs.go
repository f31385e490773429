package logging

import (
	"context"
	"log/slog"
	"slices"
	"time"
)

type Attr = slog.Attr

func Any(key string, value any) Attr { return slog.Any(key, value) }
func Bool(key string, value bool) Attr { return slog.Bool(key, value) }
func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }
func Int(key string, value int) Attr { return slog.Int(key, value) }
func Int64(key string, value int64) Attr { return slog.Int64(key, value) }
func String(key string, value string) Attr { return slog.String(key, value) }

func PID(pid int) Attr { return slog.Int(FieldPID, pid) }
func ActivityID(id string) Attr { return slog.String(FieldActivityID, id) }
func EventType(value string) Attr { return slog.String(FieldEventType, value) }

// Error records err under "error"; nil renders as "<nil>".
func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// NewNop returns a logger that drops everything.
func NewNop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// NewComponentLogger tags logger with component. A nil logger yields a no-op.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

// WarnWithContext logs a warning that always carries event_type, error_hint
// and impact; attrs may supply their own values.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	logWithDefaults(logger, slog.LevelWarn, msg, attrs,
		String(FieldEventType, eventType),
		String(FieldErrorHint, "check logs for details"),
		String(FieldImpact, "operation completed with warnings"),
	)
}

// ErrorWithContext logs an error that always carries event_type and error_hint.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	logWithDefaults(logger, slog.LevelError, msg, attrs,
		String(FieldEventType, eventType),
		String(FieldErrorHint, "check logs for details"),
	)
}

func logWithDefaults(logger *slog.Logger, level slog.Level, msg string, attrs []Attr, defaults ...Attr) {
	if logger == nil {
		return
	}
	for _, d := range defaults {
		if !slices.ContainsFunc(attrs, func(a Attr) bool { return a.Key == d.Key }) {
			attrs = append(attrs, d)
		}
	}
	logger.LogAttrs(context.Background(), level, msg, attrs...)
}
