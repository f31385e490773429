// Package main hosts the nudge CLI entrypoint and command graph.
//
// The Cobra command tree covers activity logging and review (log, list,
// edit, delete, prune), daemon lifecycle (start, stop, restart, kill,
// status), session inspection, tracking settings and the event history. The
// hidden daemon command is what start re-invokes in the background.
package main
