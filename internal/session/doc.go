// Package session watches OS login and screen-lock state and reacts to
// transitions.
//
// A Monitor polls a platform Probe on a fixed interval. Each of the two
// tri-state variables absorbs its first sample silently and fires exactly one
// Event per later change. Built-in handlers append pause/resume markers to the
// ledger and start or stop the daemon through the supervisor according to the
// user's auto-start and auto-stop settings. On Linux a udev netlink listener
// requests an immediate poll when display or input devices change.
package session
