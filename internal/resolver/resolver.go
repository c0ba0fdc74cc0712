// Package resolver expands a root store path into the set of closure members
// that still need uploading and queues them.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"atticqueue/internal/artifact"
	"atticqueue/internal/logging"
	"atticqueue/internal/metrics"
	"atticqueue/internal/queue"
)

const (
	defaultConcurrency = 32
	// Remote dedup queries are split so one request body stays small.
	defaultBatchSize = 1000
)

// LocalStore is the slice of the local store the resolver reads.
type LocalStore interface {
	ComputeClosure(ctx context.Context, root artifact.Path) ([]artifact.Path, error)
	PathInfo(ctx context.Context, path artifact.Path) (artifact.Metadata, error)
}

// RemoteCache answers which hashes the remote cache lacks.
type RemoteCache interface {
	GetMissingPaths(ctx context.Context, cache string, hashes []artifact.Hash) ([]artifact.Hash, error)
}

// Notifier wakes the upload dispatcher.
type Notifier interface {
	Notify()
}

// Options tunes a Resolver.
type Options struct {
	Cache       string
	TrustedKeys []string
	Concurrency int
	BatchSize   int
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Result summarizes one resolution.
type Result struct {
	Root        artifact.Path `json:"root"`
	ClosureSize int           `json:"closure_size"`
	Trusted     int           `json:"trusted"`
	Cached      int           `json:"cached"`
	Enqueued    int           `json:"enqueued"`
	Pending     int           `json:"pending"`
}

// Resolver turns root paths into queued work.
type Resolver struct {
	store   queue.Store
	local   LocalStore
	remote  RemoteCache
	signal  Notifier
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New constructs a Resolver.
func New(store queue.Store, local LocalStore, remote RemoteCache, signal Notifier, opts Options) *Resolver {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &Resolver{
		store:   store,
		local:   local,
		remote:  remote,
		signal:  signal,
		opts:    opts,
		logger:  logging.NewComponentLogger(opts.Logger, "resolver"),
		metrics: opts.Metrics,
	}
}

// Resolve computes the closure of root, drops members that are signed by a
// trusted key or already cached remotely, and inserts the rest as queued.
// Members that already have an entry are left alone. The dispatcher is
// notified on every return path.
func (r *Resolver) Resolve(ctx context.Context, root artifact.Path) (Result, error) {
	defer r.signal.Notify()

	started := time.Now()
	ctx = logging.WithCorrelationID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, r.logger).With(logging.String(logging.FieldRoot, root.String()))

	result, err := r.resolve(ctx, root, logger)
	r.metrics.ResolveFinished(err, result.Trusted, result.Cached, result.Pending)
	r.metrics.Enqueued(result.Enqueued)
	if err != nil {
		logging.WarnWithContext(logger, "closure resolution failed", "resolve_failed",
			logging.Error(err),
			logging.Int("enqueued", result.Enqueued),
			logging.String(logging.FieldErrorHint, "check nix-store and the attic endpoint; push the path again to retry"),
			logging.String(logging.FieldImpact, "paths of this closure may not be uploaded"),
		)
		return result, err
	}

	logger.Info("closure resolved",
		logging.Int("closure", result.ClosureSize),
		logging.Int("trusted", result.Trusted),
		logging.Int("cached", result.Cached),
		logging.Int("enqueued", result.Enqueued),
		logging.Int("pending", result.Pending),
		logging.Duration("elapsed", time.Since(started)),
		logging.String(logging.FieldEventType, "closure_resolved"),
	)
	return result, nil
}

func (r *Resolver) resolve(ctx context.Context, root artifact.Path, logger *slog.Logger) (Result, error) {
	result := Result{Root: root}

	closure, err := r.local.ComputeClosure(ctx, root)
	if err != nil {
		return result, fmt.Errorf("compute closure: %w", err)
	}
	closure = artifact.Dedup(append([]artifact.Path{root}, closure...))
	result.ClosureSize = len(closure)

	metas, err := r.pathInfos(ctx, closure)
	if err != nil {
		return result, err
	}

	candidates := make([]artifact.Path, 0, len(metas))
	for _, meta := range metas {
		if meta.SignedBy(r.opts.TrustedKeys...) {
			result.Trusted++
			continue
		}
		candidates = append(candidates, meta.Path)
	}

	missing, err := r.missing(ctx, candidates)
	if err != nil {
		return result, err
	}
	result.Cached = len(candidates) - len(missing)

	var storeErrs []error
	for _, path := range missing {
		inserted, err := r.store.CompareAndSwap(ctx, path, queue.StateAbsent, queue.StateQueued)
		if err != nil {
			storeErrs = append(storeErrs, err)
			continue
		}
		if inserted {
			result.Enqueued++
			logger.Debug("path queued", logging.String(logging.FieldArtifact, path.String()))
		} else {
			result.Pending++
		}
	}
	if len(storeErrs) > 0 {
		return result, fmt.Errorf("queue paths: %w", errors.Join(storeErrs...))
	}
	return result, nil
}

// pathInfos fetches metadata for every path with bounded fan-out.
func (r *Resolver) pathInfos(ctx context.Context, paths []artifact.Path) ([]artifact.Metadata, error) {
	metas := make([]artifact.Metadata, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, path := range paths {
		g.Go(func() error {
			meta, err := r.local.PathInfo(gctx, path)
			if err != nil {
				return fmt.Errorf("path info %s: %w", path, err)
			}
			if meta.Path == "" {
				meta.Path = path
			}
			metas[i] = meta
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return metas, nil
}

// missing returns the candidates the remote cache does not hold, in input order.
func (r *Resolver) missing(ctx context.Context, candidates []artifact.Path) ([]artifact.Path, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	absent := make(map[artifact.Hash]struct{}, len(candidates))
	for start := 0; start < len(candidates); start += r.opts.BatchSize {
		end := min(start+r.opts.BatchSize, len(candidates))
		hashes := make([]artifact.Hash, 0, end-start)
		for _, path := range candidates[start:end] {
			hashes = append(hashes, path.Hash())
		}
		batch, err := r.remote.GetMissingPaths(ctx, r.opts.Cache, hashes)
		if err != nil {
			return nil, fmt.Errorf("query remote cache: %w", err)
		}
		for _, h := range batch {
			absent[h] = struct{}{}
		}
	}
	out := make([]artifact.Path, 0, len(absent))
	for _, path := range candidates {
		if _, ok := absent[path.Hash()]; ok {
			out = append(out, path)
		}
	}
	return out, nil
}
