// Package config loads, normalizes, and validates nudge application
// configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the NUDGE_NTFY_TOPIC environment
// fallback. The Config type describes where data and logs live and how the
// daemon, notifier, and session probes behave.
//
// Per-user tracking settings are not part of this package; they are owned by
// the ledger so they can share its backup and recovery guarantees.
package config
