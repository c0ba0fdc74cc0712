package api

import (
	"sort"
	"time"
)

// SortEntriesOldestFirst orders entries by CreatedAt ascending, breaking ties by path.
func SortEntriesOldestFirst(entries []QueueEntry) []QueueEntry {
	if len(entries) == 0 {
		return nil
	}
	sorted := make([]QueueEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti := parseQueueTime(sorted[i].CreatedAt)
		tj := parseQueueTime(sorted[j].CreatedAt)
		if ti.Equal(tj) {
			return sorted[i].Path < sorted[j].Path
		}
		return ti.Before(tj)
	})
	return sorted
}

func parseQueueTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}

// ParseQueueTime exposes queue timestamp parsing for consumers that need display formatting.
func ParseQueueTime(value string) time.Time {
	return parseQueueTime(value)
}
