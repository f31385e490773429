package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType classifies a log line for filtering (daemon_started, checkin_sent, ...).
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step to the operator.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldActivityID identifies a ledger activity.
	FieldActivityID = "activity_id"
	// FieldPID identifies a process.
	FieldPID = "pid"
	// FieldRunID identifies a single daemon run.
	FieldRunID = "run_id"
)

type runIDKey struct{}

// WithRunID stores the daemon run identifier on ctx.
func WithRunID(ctx context.Context, runID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, runIDKey{}, runID)
}

// WithContext returns a logger augmented with fields carried on ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if ctx == nil {
		return logger
	}
	if id, _ := ctx.Value(runIDKey{}).(string); id != "" {
		return logger.With(slog.String(FieldRunID, id))
	}
	return logger
}
