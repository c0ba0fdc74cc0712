package queue

import (
	"context"
	"fmt"
	"log/slog"

	"atticqueue/internal/artifact"
	"atticqueue/internal/config"
)

// Store is the durable work queue.
type Store interface {
	// Get returns StateAbsent when path has no entry. A corrupt tag is
	// returned together with an error wrapping ErrCorruptState.
	Get(ctx context.Context, path artifact.Path) (State, error)
	// Snapshot scans every entry. It is weakly consistent with concurrent
	// writers.
	Snapshot(ctx context.Context) ([]Entry, error)
	// Put writes state unconditionally.
	Put(ctx context.Context, path artifact.Path, state State) error
	// Remove deletes the entry and reports whether one existed.
	Remove(ctx context.Context, path artifact.Path) (bool, error)
	// CompareAndSwap replaces old with next atomically and reports whether
	// the swap happened. StateAbsent as old means insert-if-absent; as next
	// it means delete-if-equal.
	CompareAndSwap(ctx context.Context, path artifact.Path, old, next State) (bool, error)
	// Path returns the on-disk location of the store.
	Path() string
	Close() error
}

// Option customizes Open.
type Option func(*openOptions)

type openOptions struct {
	logger *slog.Logger
}

// WithLogger routes backend diagnostics to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *openOptions) { o.logger = logger }
}

// Open initializes or connects to the work store selected by cfg.Store.Backend.
func Open(cfg *config.Config, opts ...Option) (Store, error) {
	var options openOptions
	for _, opt := range opts {
		opt(&options)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	switch cfg.Store.Backend {
	case config.BackendSQLite, "":
		return openSQLite(cfg.StorePath())
	case config.BackendBadger:
		return openBadger(cfg.StorePath(), options.logger)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}

// Snapshotter is the read side Stats needs.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]Entry, error)
}

// Stats counts the entries of a fresh snapshot by state.
func Stats(ctx context.Context, store Snapshotter) (Counts, error) {
	entries, err := store.Snapshot(ctx)
	if err != nil {
		return Counts{}, err
	}
	return Count(entries), nil
}

// Count tallies entries by state.
func Count(entries []Entry) Counts {
	var counts Counts
	for _, entry := range entries {
		switch {
		case entry.Corrupt:
			counts.Corrupt++
		case entry.State == StateQueued:
			counts.Queued++
		case entry.State == StateInProgress:
			counts.InProgress++
		}
	}
	return counts
}

// Filter returns the entries of a snapshot in the given state.
func Filter(entries []Entry, state State) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if !entry.Corrupt && entry.State == state {
			out = append(out, entry)
		}
	}
	return out
}
