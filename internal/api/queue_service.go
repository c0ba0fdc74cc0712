package api

import (
	"context"
	"fmt"

	"atticqueue/internal/artifact"
	"atticqueue/internal/queue"
)

// QueueReader abstracts the store reads needed for API queries.
type QueueReader interface {
	Get(ctx context.Context, path artifact.Path) (queue.State, error)
	Snapshot(ctx context.Context) ([]queue.Entry, error)
}

// QueueService exposes read-only queue operations returning API DTOs.
type QueueService struct {
	store QueueReader
}

// NewQueueService constructs a QueueService around the provided reader.
func NewQueueService(store QueueReader) *QueueService {
	if store == nil {
		return nil
	}
	return &QueueService{store: store}
}

// List returns pending entries, optionally restricted to states, oldest first.
func (s *QueueService) List(ctx context.Context, states ...queue.State) ([]QueueEntry, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	entries, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if len(states) > 0 {
		filtered := make([]queue.Entry, 0, len(entries))
		for _, state := range states {
			filtered = append(filtered, queue.Filter(entries, state)...)
		}
		entries = filtered
	}
	return SortEntriesOldestFirst(FromEntries(entries)), nil
}

// Stats returns per-state counts.
func (s *QueueService) Stats(ctx context.Context) (QueueStats, error) {
	if s == nil || s.store == nil {
		return QueueStats{}, nil
	}
	counts, err := queue.Stats(ctx, s.store)
	if err != nil {
		return QueueStats{}, err
	}
	return FromCounts(counts), nil
}

// Describe returns the state of a single path, or nil when nothing is pending.
func (s *QueueService) Describe(ctx context.Context, storeDir, path string) (*QueueEntry, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	parsed, err := artifact.ParsePath(storeDir, path)
	if err != nil {
		return nil, err
	}
	state, err := s.store.Get(ctx, parsed)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", parsed, err)
	}
	if state == queue.StateAbsent {
		return nil, nil
	}
	dto := FromEntry(queue.Entry{Path: parsed, State: state})
	return &dto, nil
}
