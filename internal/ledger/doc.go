// Package ledger owns the on-disk activity log and the per-user tracking
// settings.
//
// Activities are kept sorted by end time. Each entry's duration is derived
// from the gap to the entry after it, so every mutation reruns the
// recompute. Writes go through a backup, write and read-back cycle. On a
// failed write the newest backup is restored. At startup the ledger drops
// malformed records and restores a backup over a corrupt file. It also
// decides whether an emergency snapshot left by a session-triggered shutdown
// should be reapplied.
package ledger
