// Package logging assembles the slog loggers used by the nudge CLI and daemon.
//
// Console output is one line per record with the component as a prefix; the
// daemon also writes a JSON copy of every record to a per-run file and prunes
// old runs with CleanupOldLogs. Warnings built with WarnWithContext always
// carry an event type, a hint and an impact.
package logging
