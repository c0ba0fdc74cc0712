package nixstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"atticqueue/internal/artifact"
	"atticqueue/internal/config"
)

var commandContext = exec.CommandContext

var (
	// ErrNotFound reports a path the local store does not hold (never built
	// or garbage collected).
	ErrNotFound = errors.New("store path not found")
	// ErrInvalidPath reports a reference that cannot be resolved to a store path.
	ErrInvalidPath = errors.New("invalid store path reference")
)

const maxSymlinkHops = 40

// Option configures the Store.
type Option func(*Store)

// WithStoreDir overrides the store location.
func WithStoreDir(dir string) Option {
	return func(s *Store) {
		if dir = strings.TrimSpace(dir); dir != "" {
			s.storeDir = strings.TrimRight(dir, "/")
		}
	}
}

// WithNixStoreBinary overrides the nix-store executable.
func WithNixStoreBinary(binary string) Option {
	return func(s *Store) {
		if binary != "" {
			s.nixStore = binary
		}
	}
}

// WithNixBinary overrides the nix executable.
func WithNixBinary(binary string) Option {
	return func(s *Store) {
		if binary != "" {
			s.nix = binary
		}
	}
}

// WithPathInfoCacheSize bounds the metadata cache.
func WithPathInfoCacheSize(size int) Option {
	return func(s *Store) {
		if size > 0 {
			s.cacheSize = size
		}
	}
}

// WithCommandTimeout bounds every metadata query. Streaming NAR dumps are
// bounded only by the caller's context.
func WithCommandTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// Store wraps nix-store and nix.
type Store struct {
	storeDir  string
	nixStore  string
	nix       string
	timeout   time.Duration
	cacheSize int
	infos     *lru.Cache[artifact.Path, artifact.Metadata]
}

// New constructs a Store using defaults.
func New(opts ...Option) (*Store, error) {
	s := &Store{
		storeDir:  artifact.DefaultStoreDir,
		nixStore:  "nix-store",
		nix:       "nix",
		timeout:   5 * time.Minute,
		cacheSize: 4096,
	}
	for _, opt := range opts {
		opt(s)
	}
	cache, err := lru.New[artifact.Path, artifact.Metadata](s.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("path info cache: %w", err)
	}
	s.infos = cache
	return s, nil
}

// NewFromConfig constructs a Store from the [nix] config section.
func NewFromConfig(cfg *config.Config) (*Store, error) {
	return New(
		WithStoreDir(cfg.Nix.StoreDir),
		WithNixStoreBinary(cfg.Nix.NixStoreBinary),
		WithNixBinary(cfg.Nix.NixBinary),
		WithPathInfoCacheSize(cfg.Nix.PathInfoCacheSize),
		WithCommandTimeout(time.Duration(cfg.Nix.CommandTimeout)*time.Second),
	)
}

// StoreDir returns the store location.
func (s *Store) StoreDir() string {
	return s.storeDir
}

// FollowStorePath resolves ref, following symlinks outside the store, to the
// top-level store path that contains it. The path must be valid.
func (s *Store) FollowStorePath(ctx context.Context, ref string) (artifact.Path, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty reference", ErrInvalidPath)
	}
	current, err := filepath.Abs(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidPath, ref, err)
	}

	for hop := 0; ; hop++ {
		if path, err := artifact.TrimToStorePath(s.storeDir, current); err == nil {
			valid, err := s.IsValid(ctx, path)
			if err != nil {
				return "", err
			}
			if !valid {
				return "", fmt.Errorf("%w: %s", ErrNotFound, path)
			}
			return path, nil
		}
		if hop == maxSymlinkHops {
			return "", fmt.Errorf("%w: %q: too many symlinks", ErrInvalidPath, ref)
		}
		info, err := os.Lstat(current)
		if err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrInvalidPath, ref, err)
		}
		if info.Mode()&os.ModeSymlink == 0 {
			return "", fmt.Errorf("%w: %q does not lead into %s", ErrInvalidPath, ref, s.storeDir)
		}
		target, err := os.Readlink(current)
		if err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrInvalidPath, ref, err)
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(current), target)
		}
		current = filepath.Clean(target)
	}
}

// ComputeClosure returns root followed by every path it transitively
// references, including outputs of derivations.
func (s *Store) ComputeClosure(ctx context.Context, root artifact.Path) ([]artifact.Path, error) {
	out, err := s.output(ctx, s.nixStore, "--query", "--requisites", "--include-outputs", root.String())
	if err != nil {
		return nil, fmt.Errorf("compute closure of %s: %w", root, err)
	}
	paths := []artifact.Path{root}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		path, err := artifact.ParsePath(s.storeDir, line)
		if err != nil {
			return nil, fmt.Errorf("compute closure of %s: %w", root, err)
		}
		paths = append(paths, path)
	}
	return artifact.Dedup(paths), nil
}

// PathInfo returns metadata for path, consulting the cache first.
func (s *Store) PathInfo(ctx context.Context, path artifact.Path) (artifact.Metadata, error) {
	if meta, ok := s.infos.Get(path); ok {
		return meta, nil
	}
	out, err := s.output(ctx, s.nix, "--extra-experimental-features", "nix-command",
		"path-info", "--json", "--sigs", path.String())
	if err != nil {
		if isInvalidPathOutput(err) {
			return artifact.Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return artifact.Metadata{}, fmt.Errorf("path info %s: %w", path, err)
	}
	meta, err := decodePathInfo(s.storeDir, path, out)
	if err != nil {
		return artifact.Metadata{}, err
	}
	s.infos.Add(path, meta)
	return meta, nil
}

// IsValid reports whether path is registered and present in the store.
func (s *Store) IsValid(ctx context.Context, path artifact.Path) (bool, error) {
	out, err := s.output(ctx, s.nixStore, "--check-validity", "--print-invalid", path.String())
	if err != nil {
		return false, fmt.Errorf("check validity of %s: %w", path, err)
	}
	if strings.TrimSpace(string(out)) != "" {
		s.infos.Remove(path)
		return false, nil
	}
	return true, nil
}

// NAR streams the NAR serialization of path. Closing the reader waits for
// the dump to exit and reports its failure, if any; closing before EOF
// aborts the dump.
func (s *Store) NAR(ctx context.Context, path artifact.Path) (io.ReadCloser, error) {
	cmd := commandContext(ctx, s.nixStore, "--dump", path.String()) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s --dump: %w", s.nixStore, err)
	}
	return &narReader{ReadCloser: stdout, cmd: cmd, stderr: &stderr}, nil
}

type narReader struct {
	io.ReadCloser
	cmd    *exec.Cmd
	stderr *bytes.Buffer
	closed bool
}

func (r *narReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	_ = r.ReadCloser.Close()
	if err := r.cmd.Wait(); err != nil {
		return &CommandError{Args: r.cmd.Args, Stderr: strings.TrimSpace(r.stderr.String()), Err: err}
	}
	return nil
}

func (s *Store) output(ctx context.Context, name string, args ...string) ([]byte, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	cmd := commandContext(ctx, name, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, &CommandError{Args: cmd.Args, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	return out, nil
}

// CommandError carries the stderr of a failed store command.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func isInvalidPathOutput(err error) bool {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	return strings.Contains(cmdErr.Stderr, "is not valid") || strings.Contains(cmdErr.Stderr, "does not exist")
}
