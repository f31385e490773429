// Package notifications delivers the periodic "what are you working on?"
// check-in.
//
// The ntfy transport posts to the topic configured in config.toml; the command
// transport runs a desktop notifier such as notify-send. Both are wrapped in a
// circuit breaker so a dead endpoint stops being hammered every interval.
// With neither configured the package degrades to a no-op. Callers depend
// only on the Notifier interface, which reports delivery as a bool and never
// returns an error.
package notifications
