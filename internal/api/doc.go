// Package api defines wire-format types and converters for the IPC and HTTP
// API layer. It translates store entries and daemon counters into
// transport-friendly DTOs the CLI and HTTP consumers render without coupling
// to internal types.
//
// # Key Types
//
// QueueEntry: transport representation of one pending store path.
//
// DaemonStatus: daemon running state, paths, queue counts and dispatcher
// counters, plus the last boot recovery report.
//
// # Converters
//
// FromEntry / FromEntries: queue.Entry -> QueueEntry.
//
// FromCounts: queue.Counts -> QueueStats.
//
// FromDispatcherStatus: workflow.StatusSummary -> DispatcherStatus.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. States are exposed as their stored tags.
// Timestamps use RFC3339 with milliseconds.
package api
