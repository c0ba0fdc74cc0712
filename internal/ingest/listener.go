// Package ingest reads root store paths from a named pipe and hands each one
// to the resolver.
//
// Producers (typically a post-build hook) write newline-delimited records.
// A record may carry several whitespace-separated references. The pipe is
// held open read-write so the reader never sees EOF between producers.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"atticqueue/internal/artifact"
	"atticqueue/internal/logging"
	"atticqueue/internal/resolver"
)

// PipeMode lets any local user append records while only the owner reads.
const PipeMode = 0o722

const maxRecordBytes = 1 << 20

// PathResolver canonicalizes a user-supplied reference into a store path.
type PathResolver interface {
	FollowStorePath(ctx context.Context, ref string) (artifact.Path, error)
}

// Resolver expands a root into queued work.
type Resolver interface {
	Resolve(ctx context.Context, root artifact.Path) (resolver.Result, error)
}

// Listener owns the ingestion pipe.
type Listener struct {
	path     string
	resolver Resolver
	local    PathResolver
	logger   *slog.Logger
}

// NewListener constructs a Listener for the pipe at path.
func NewListener(path string, res Resolver, local PathResolver, logger *slog.Logger) *Listener {
	return &Listener{
		path:     path,
		resolver: res,
		local:    local,
		logger:   logging.NewComponentLogger(logger, "ingest"),
	}
}

// Path returns the pipe location.
func (l *Listener) Path() string {
	return l.path
}

// Listen creates the pipe and processes records until ctx is cancelled.
// It returns nil on cancellation and an error only when the pipe cannot be
// created, opened or read.
func (l *Listener) Listen(ctx context.Context) error {
	pipe, err := l.open()
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = pipe.Close()
	})
	defer func() {
		if stop() {
			_ = pipe.Close()
		}
	}()

	l.logger.Info("listening for store paths",
		logging.String("pipe", l.path),
		logging.String(logging.FieldEventType, "ingest_listening"),
	)

	reader := bufio.NewReaderSize(pipe, 64*1024)
	for {
		record, oversized, err := readRecord(reader)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("read queue pipe: unexpected end of stream")
			}
			return fmt.Errorf("read queue pipe: %w", err)
		}
		if oversized {
			logging.WarnWithContext(l.logger, "ignoring oversized record", "ingest_record_skipped",
				logging.Int("limit_bytes", maxRecordBytes),
				logging.String(logging.FieldErrorHint, "write one store path per line"),
				logging.String(logging.FieldImpact, "record was not queued"),
			)
			continue
		}
		for _, ref := range strings.Fields(record) {
			if ctx.Err() != nil {
				return nil
			}
			l.handle(ctx, ref)
		}
	}
}

// readRecord returns the next newline-terminated record. A record longer than
// maxRecordBytes is consumed through its newline and reported as oversized.
func readRecord(r *bufio.Reader) (string, bool, error) {
	var buf []byte
	oversized := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !oversized {
			if len(buf)+len(chunk) > maxRecordBytes+1 {
				oversized = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		switch {
		case err == nil:
			if oversized {
				return "", true, nil
			}
			return string(buf[:len(buf)-1]), false, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return "", false, err
		}
	}
}

func (l *Listener) open() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("create queue pipe directory: %w", err)
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove stale queue pipe: %w", err)
	}

	// Mkfifo is subject to the umask; chmod afterwards so group and other
	// keep write access.
	if err := unix.Mkfifo(l.path, PipeMode); err != nil {
		return nil, fmt.Errorf("create queue pipe: %w", err)
	}
	if err := os.Chmod(l.path, PipeMode); err != nil {
		return nil, fmt.Errorf("chmod queue pipe: %w", err)
	}

	pipe, err := os.OpenFile(l.path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open queue pipe: %w", err)
	}
	return pipe, nil
}

func (l *Listener) handle(ctx context.Context, ref string) {
	logger := l.logger.With(logging.String("ref", ref))

	root, err := l.local.FollowStorePath(ctx, ref)
	if err != nil {
		logging.WarnWithContext(logger, "ignoring unresolvable record", "ingest_record_skipped",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "write absolute store paths or links into the store"),
			logging.String(logging.FieldImpact, "record was not queued"),
		)
		return
	}

	if _, err := l.resolver.Resolve(ctx, root); err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.WarnWithContext(logger, "resolve failed", "ingest_resolve_failed",
			logging.Error(err),
			logging.String(logging.FieldRoot, root.String()),
			logging.String(logging.FieldImpact, "closure was only partially queued; push the path again to retry"),
		)
	}
}
