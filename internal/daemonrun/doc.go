// Package daemonrun is the body of the background nudge process.
//
// Run takes the runtime flock so a second daemon exits at once, writes the
// pid file, opens the ledger and journal, and supervises the check-in timer,
// status writer, session monitor, settings watcher and retention pruner in a
// suture tree until SIGINT, SIGTERM or a shutdown hook cancels it.
package daemonrun
