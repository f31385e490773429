// Package logs reads the daemon log for `nudge logs`.
//
// Last returns the final lines of a file with bounded memory; Follow keeps
// streaming appended lines and reopens the file when the nudge.log pointer is
// moved to a new daemon run or the file is truncated.
package logs
