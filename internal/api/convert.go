package api

import (
	"time"

	"atticqueue/internal/queue"
	"atticqueue/internal/recovery"
	"atticqueue/internal/resolver"
	"atticqueue/internal/workflow"
)

// FromEntry converts a store entry into its transport representation.
func FromEntry(entry queue.Entry) QueueEntry {
	return QueueEntry{
		Path:      entry.Path.String(),
		Name:      entry.Path.Name(),
		State:     string(entry.State),
		Corrupt:   entry.Corrupt,
		Attempts:  entry.Attempts,
		CreatedAt: formatTime(entry.CreatedAt),
		UpdatedAt: formatTime(entry.UpdatedAt),
	}
}

// FromEntries converts a snapshot.
func FromEntries(entries []queue.Entry) []QueueEntry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]QueueEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, FromEntry(entry))
	}
	return out
}

// FromCounts converts per-state counts.
func FromCounts(counts queue.Counts) QueueStats {
	return QueueStats{
		Queued:     counts.Queued,
		InProgress: counts.InProgress,
		Corrupt:    counts.Corrupt,
		Total:      counts.Total(),
	}
}

// FromDispatcherStatus converts dispatcher counters.
func FromDispatcherStatus(summary workflow.StatusSummary) DispatcherStatus {
	return DispatcherStatus{
		Running:       summary.Running,
		Inflight:      summary.Inflight,
		MaxConcurrent: summary.MaxConcurrent,
		Scans:         summary.Scans,
		Spawned:       summary.Spawned,
		LastScan:      formatTime(summary.LastScan),
		LastError:     summary.LastError,
	}
}

// FromRecoveryReport converts a boot recovery report.
func FromRecoveryReport(report recovery.Report) RecoveryReport {
	return RecoveryReport(report)
}

// FromResolveResult converts one resolution outcome for ref.
func FromResolveResult(ref string, result resolver.Result, err error) EnqueueResult {
	out := EnqueueResult{
		Ref:         ref,
		Root:        result.Root.String(),
		ClosureSize: result.ClosureSize,
		Trusted:     result.Trusted,
		Cached:      result.Cached,
		Enqueued:    result.Enqueued,
		Pending:     result.Pending,
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
