package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"atticqueue/internal/config"
	"atticqueue/internal/logging"
	"atticqueue/internal/metrics"
	"atticqueue/internal/queue"
)

// DispatcherOptions tunes a Dispatcher.
type DispatcherOptions struct {
	MaxConcurrent  int
	RetryInterval  time.Duration
	RescanInterval time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// OptionsFromConfig derives dispatcher settings from cfg.
func OptionsFromConfig(cfg *config.Config) DispatcherOptions {
	return DispatcherOptions{
		MaxConcurrent:  cfg.Workflow.MaxConcurrentUploads,
		RetryInterval:  time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		RescanInterval: time.Duration(cfg.Workflow.RescanInterval) * time.Second,
	}
}

// Dispatcher scans the store on every wake and starts uploads for queued
// entries.
type Dispatcher struct {
	store          queue.Store
	exec           *Executor
	signal         *Signal
	sem            *semaphore.Weighted
	limit          int
	retryInterval  time.Duration
	rescanInterval time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics

	wg       sync.WaitGroup
	inflight atomic.Int64

	mu       sync.RWMutex
	running  bool
	lastErr  error
	lastScan time.Time
	scans    int64
	spawned  int64
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(store queue.Store, exec *Executor, signal *Signal, opts DispatcherOptions) *Dispatcher {
	limit := opts.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	retry := opts.RetryInterval
	if retry <= 0 {
		retry = time.Second
	}
	return &Dispatcher{
		store:          store,
		exec:           exec,
		signal:         signal,
		sem:            semaphore.NewWeighted(int64(limit)),
		limit:          limit,
		retryInterval:  retry,
		rescanInterval: opts.RescanInterval,
		logger:         logging.NewComponentLogger(opts.Logger, "dispatcher"),
		metrics:        opts.Metrics,
	}
}

// Run dispatches until ctx is cancelled, then returns nil. Spawned uploads
// may still be running; call Wait to drain them.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("dispatcher already running")
	}
	d.running = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	var rescan <-chan time.Time
	if d.rescanInterval > 0 {
		ticker := time.NewTicker(d.rescanInterval)
		defer ticker.Stop()
		rescan = ticker.C
	}

	d.logger.Info("dispatcher started",
		logging.Int("max_concurrent_uploads", d.limit),
		logging.Duration("rescan_interval", d.rescanInterval),
		logging.String(logging.FieldEventType, "dispatcher_started"),
	)

	retry := false
	for {
		if !retry {
			select {
			case <-ctx.Done():
				return nil
			case <-d.signal.C():
			case <-rescan:
			}
		}
		retry = false

		if err := d.scan(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.setLastError(err)
			logging.ErrorWithContext(d.logger, "queue scan failed", "dispatcher_scan_failed",
				logging.Error(err),
				logging.Duration("retry_in", d.retryInterval),
				logging.String(logging.FieldErrorHint, "check the state directory"),
				logging.String(logging.FieldImpact, "uploads pause until the store is readable"),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d.retryInterval):
			}
			retry = true
		}
	}
}

// Wait blocks until every spawned upload has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) scan(ctx context.Context) error {
	entries, err := d.store.Snapshot(ctx)
	if err != nil {
		return err
	}

	counts := queue.Count(entries)
	d.metrics.ObserveQueue(counts)
	d.recordScan()

	if counts.Queued > 0 {
		d.logger.Debug("dispatching queued entries",
			logging.Int("queued", counts.Queued),
			logging.Int("in_progress", counts.InProgress),
		)
	}

	for _, entry := range entries {
		if entry.Corrupt || entry.State != queue.StateQueued {
			continue
		}
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		d.spawn(ctx, entry)
	}
	return nil
}

func (d *Dispatcher) spawn(ctx context.Context, entry queue.Entry) {
	d.wg.Add(1)
	d.inflight.Add(1)
	d.mu.Lock()
	d.spawned++
	d.mu.Unlock()
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		defer d.inflight.Add(-1)

		res, err := d.exec.Execute(ctx, UploadTask{Path: entry.Path})
		if err != nil {
			logging.ErrorWithContext(d.logger, "upload task failed", "dispatcher_task_failed",
				logging.Error(err),
				logging.String(logging.FieldArtifact, entry.Path.String()),
			)
			return
		}
		d.logger.Debug("upload task finished",
			logging.String(logging.FieldArtifact, res.Target.String()),
			logging.String("outcome", res.Outcome.String()),
		)
	}()
}

func (d *Dispatcher) recordScan() {
	d.mu.Lock()
	d.scans++
	d.lastScan = time.Now()
	d.lastErr = nil
	d.mu.Unlock()
}

func (d *Dispatcher) setLastError(err error) {
	d.mu.Lock()
	d.lastErr = err
	d.mu.Unlock()
}
