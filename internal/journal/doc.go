// Package journal keeps a SQLite history of session transitions, daemon
// lifecycle events, and check-in deliveries. It is supplemental: the ledger
// never reads it, and a missing or broken journal only loses history.
package journal
