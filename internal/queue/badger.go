package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"atticqueue/internal/artifact"
)

const (
	badgerKeyPrefix         = "work/"
	conflictRetryAttempts   = 16
	conflictRetryMaxBackoff = 50 * time.Millisecond
)

type badgerStore struct {
	db   *badger.DB
	path string
}

func openBadger(dir string, logger *slog.Logger) (*badgerStore, error) {
	opts := badger.DefaultOptions(dir).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{logger: logger})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store %s: %w", dir, err)
	}
	return &badgerStore{db: db, path: dir}, nil
}

func badgerKey(path artifact.Path) []byte {
	return []byte(badgerKeyPrefix + path.String())
}

// readState returns the raw tag stored for key, or "" when absent.
func readState(txn *badger.Txn, key []byte) (string, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(value), nil
}

// update runs fn in a read-write transaction, retrying when a concurrent
// transaction invalidated its reads.
func (s *badgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	delay := time.Millisecond
	for attempt := 0; ; attempt++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) || attempt == conflictRetryAttempts-1 {
			return err
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= conflictRetryMaxBackoff {
			delay = next
		}
	}
}

func (s *badgerStore) Get(ctx context.Context, path artifact.Path) (State, error) {
	if err := ensureContext(ctx).Err(); err != nil {
		return StateAbsent, err
	}
	var raw string
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		raw, err = readState(txn, badgerKey(path))
		return err
	})
	if err != nil {
		return StateAbsent, fmt.Errorf("get %s: %w", path, err)
	}
	if raw == "" {
		return StateAbsent, nil
	}
	return ParseState(raw)
}

func (s *badgerStore) Snapshot(ctx context.Context) ([]Entry, error) {
	ctx = ensureContext(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			state, stateErr := ParseState(string(value))
			entries = append(entries, Entry{
				Path:    artifact.Path(strings.TrimPrefix(string(item.Key()), badgerKeyPrefix)),
				State:   state,
				Corrupt: stateErr != nil,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return entries, nil
}

func (s *badgerStore) Put(ctx context.Context, path artifact.Path, state State) error {
	if !state.Valid() {
		return fmt.Errorf("put %s: invalid state %q", path, state)
	}
	ctx = ensureContext(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(badgerKey(path), []byte(state))
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}
	return nil
}

func (s *badgerStore) Remove(ctx context.Context, path artifact.Path) (bool, error) {
	ctx = ensureContext(ctx)
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var removed bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		removed = false
		key := badgerKey(path)
		raw, err := readState(txn, key)
		if err != nil || raw == "" {
			return err
		}
		removed = true
		return txn.Delete(key)
	})
	if err != nil {
		return false, fmt.Errorf("remove %s: %w", path, err)
	}
	return removed, nil
}

func (s *badgerStore) CompareAndSwap(ctx context.Context, path artifact.Path, old, next State) (bool, error) {
	if err := validateTransition(old, next); err != nil {
		return false, err
	}
	ctx = ensureContext(ctx)
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var swapped bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		swapped = false
		key := badgerKey(path)
		raw, err := readState(txn, key)
		if err != nil {
			return err
		}
		if raw != string(old) {
			return nil
		}
		swapped = true
		switch {
		case old == next:
			return nil
		case next == StateAbsent:
			return txn.Delete(key)
		default:
			return txn.Set(key, []byte(next))
		}
	})
	if err != nil {
		return false, fmt.Errorf("compare-and-swap %s %s->%s: %w", path, old, next, err)
	}
	return swapped, nil
}

func (s *badgerStore) Path() string {
	return s.path
}

func (s *badgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// badgerLogger forwards badger diagnostics to slog. Info and debug chatter
// is demoted to debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) log(level slog.Level, format string, args ...any) {
	if l.logger == nil {
		return
	}
	l.logger.Log(context.Background(), level, strings.TrimSpace(fmt.Sprintf(format, args...)),
		slog.String("component", "badger"))
}

func (l badgerLogger) Errorf(format string, args ...any) { l.log(slog.LevelError, format, args...) }

func (l badgerLogger) Warningf(format string, args ...any) { l.log(slog.LevelWarn, format, args...) }

func (l badgerLogger) Infof(format string, args ...any) { l.log(slog.LevelDebug, format, args...) }

func (l badgerLogger) Debugf(format string, args ...any) { l.log(slog.LevelDebug, format, args...) }
