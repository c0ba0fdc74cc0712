// Package main implements the atticqueue command line client.
//
// The CLI runs the daemon in the foreground, feeds store paths into the
// named pipe, and inspects or drives a running daemon over its control
// socket. Queue views fall back to reading the work store directly when the
// daemon is offline.
package main
