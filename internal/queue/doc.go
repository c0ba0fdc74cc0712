// Package queue persists per-artifact upload state.
//
// The store maps a store path to one of two states, queued or in_progress.
// Absence of a key means no pending work, so a successful upload deletes its
// entry rather than recording a third state. All coordination between the
// resolver, recovery, and upload workers goes through CompareAndSwap, which is
// atomic across goroutines and across the two backends: a SQLite database
// (the default) and a Badger key-value directory.
//
// Open selects the backend from configuration, creates its directories, and
// for SQLite enforces the embedded schema version. Callers depend on the Store
// interface so tests and tools can run against either backend.
package queue
