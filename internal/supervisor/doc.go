// Package supervisor keeps at most one nudge daemon alive.
//
// The daemon is the same binary re-invoked with the hidden "daemon"
// subcommand. Liveness comes from the pid file (signal 0) with a process
// table scan as the fallback, so a daemon whose pid file was lost is still
// found. Start serializes concurrent callers with an exclusive lock file and
// removes duplicate daemons before spawning. Stop signals every match,
// escalates to SIGKILL after a grace period, and inside the daemon runs the
// registered shutdown hooks instead of signalling itself.
package supervisor
