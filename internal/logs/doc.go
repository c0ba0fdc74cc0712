// Package logs reads the daemon's log files for the CLI.
//
// Last returns the final lines of a file with bounded memory, ReadFrom
// continues from a byte offset, and Follow polls for appended lines. Follow
// re-resolves the path on every poll so it keeps working across daemon
// restarts, which repoint the atticqueued.log link at a fresh run log.
package logs
