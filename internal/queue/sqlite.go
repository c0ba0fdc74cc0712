package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"atticqueue/internal/artifact"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

type sqliteStore struct {
	db   *sql.DB
	path string
}

// sqlitePragmas are applied to every pooled connection through the DSN.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
}

func openSQLite(dbPath string) (*sqliteStore, error) {
	params := url.Values{}
	for _, pragma := range sqlitePragmas {
		params.Add("_pragma", pragma)
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite db %s: %w", dbPath, err)
	}

	store := &sqliteStore{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *sqliteStore) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *sqliteStore) changed(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows == 1, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func (s *sqliteStore) Get(ctx context.Context, path artifact.Path) (State, error) {
	ctx = ensureContext(ctx)
	var raw string
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, `SELECT state FROM work_items WHERE path = ?`, path.String()).Scan(&raw)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return StateAbsent, nil
	}
	if err != nil {
		return StateAbsent, fmt.Errorf("get %s: %w", path, err)
	}
	return ParseState(raw)
}

func (s *sqliteStore) Snapshot(ctx context.Context) ([]Entry, error) {
	ctx = ensureContext(ctx)
	var entries []Entry
	err := retryOnBusy(ctx, func() error {
		entries = entries[:0]
		rows, err := s.db.QueryContext(ctx,
			`SELECT path, state, attempts, created_at, updated_at FROM work_items ORDER BY path`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			entry, err := scanEntry(rows)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		path, raw, created, updated string
		attempts                    int
	)
	if err := rows.Scan(&path, &raw, &attempts, &created, &updated); err != nil {
		return Entry{}, fmt.Errorf("scan work item: %w", err)
	}
	state, stateErr := ParseState(raw)
	entry := Entry{
		Path:     artifact.Path(path),
		State:    state,
		Corrupt:  stateErr != nil,
		Attempts: attempts,
	}
	entry.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	entry.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return entry, nil
}

func (s *sqliteStore) Put(ctx context.Context, path artifact.Path, state State) error {
	if !state.Valid() {
		return fmt.Errorf("put %s: invalid state %q", path, state)
	}
	ts := now()
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO work_items (path, state, attempts, created_at, updated_at)
         VALUES (?, ?, 0, ?, ?)
         ON CONFLICT(path) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		path.String(), string(state), ts, ts,
	); err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}
	return nil
}

func (s *sqliteStore) Remove(ctx context.Context, path artifact.Path) (bool, error) {
	removed, err := s.changed(ctx, `DELETE FROM work_items WHERE path = ?`, path.String())
	if err != nil {
		return false, fmt.Errorf("remove %s: %w", path, err)
	}
	return removed, nil
}

func (s *sqliteStore) CompareAndSwap(ctx context.Context, path artifact.Path, old, next State) (bool, error) {
	if err := validateTransition(old, next); err != nil {
		return false, err
	}
	if old == next {
		current, err := s.Get(ctx, path)
		if err != nil {
			return false, err
		}
		return current == old, nil
	}

	var (
		swapped bool
		err     error
	)
	ts := now()
	switch {
	case old == StateAbsent:
		swapped, err = s.changed(ctx,
			`INSERT INTO work_items (path, state, attempts, created_at, updated_at)
             VALUES (?, ?, 0, ?, ?)
             ON CONFLICT(path) DO NOTHING`,
			path.String(), string(next), ts, ts)
	case next == StateAbsent:
		swapped, err = s.changed(ctx,
			`DELETE FROM work_items WHERE path = ? AND state = ?`,
			path.String(), string(old))
	default:
		claim := 0
		if next == StateInProgress {
			claim = 1
		}
		swapped, err = s.changed(ctx,
			`UPDATE work_items SET state = ?, attempts = attempts + ?, updated_at = ?
             WHERE path = ? AND state = ?`,
			string(next), claim, ts, path.String(), string(old))
	}
	if err != nil {
		return false, fmt.Errorf("compare-and-swap %s %s->%s: %w", path, old, next, err)
	}
	return swapped, nil
}

func (s *sqliteStore) Path() string {
	return s.path
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
