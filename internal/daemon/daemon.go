package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"atticqueue/internal/api"
	"atticqueue/internal/artifact"
	"atticqueue/internal/config"
	"atticqueue/internal/ingest"
	"atticqueue/internal/logging"
	"atticqueue/internal/metrics"
	"atticqueue/internal/queue"
	"atticqueue/internal/recovery"
	"atticqueue/internal/resolver"
	"atticqueue/internal/workflow"
)

// LockFileName is created in the state directory while a daemon runs.
const LockFileName = "atticqueued.lock"

// PIDFileName holds the daemon process id next to the lock file.
const PIDFileName = "atticqueued.pid"

// LocalStore is everything the daemon needs from the local store.
type LocalStore interface {
	FollowStorePath(ctx context.Context, ref string) (artifact.Path, error)
	ComputeClosure(ctx context.Context, root artifact.Path) ([]artifact.Path, error)
	PathInfo(ctx context.Context, path artifact.Path) (artifact.Metadata, error)
	IsValid(ctx context.Context, path artifact.Path) (bool, error)
}

// RemoteCache is everything the daemon needs from the remote cache.
type RemoteCache interface {
	GetMissingPaths(ctx context.Context, cache string, hashes []artifact.Hash) ([]artifact.Hash, error)
	UploadPath(ctx context.Context, meta artifact.Metadata) error
}

// Runtime bundles the collaborators one daemon process shares.
type Runtime struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    queue.Store
	Local    LocalStore
	Remote   RemoteCache
	Signal   *workflow.Signal
	Metrics  *metrics.Metrics
	Endpoint string
}

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    queue.Store
	local    LocalStore
	signal   *workflow.Signal
	metrics  *metrics.Metrics
	endpoint string

	resolver   *resolver.Resolver
	exec       *workflow.Executor
	dispatcher *workflow.Dispatcher
	listener   *ingest.Listener
	validator  *recovery.Validator
	queueSvc   *api.QueueService
	http       *apiServer

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	running   atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	startedAt time.Time
	recovered recovery.Report
}

// New constructs a daemon from rt.
func New(rt Runtime) (*Daemon, error) {
	if rt.Config == nil || rt.Store == nil || rt.Local == nil || rt.Remote == nil {
		return nil, errors.New("daemon requires config, store, local store, and remote cache")
	}
	cfg := rt.Config
	signal := rt.Signal
	if signal == nil {
		signal = workflow.NewSignal()
	}
	logger := rt.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	res := resolver.New(rt.Store, rt.Local, rt.Remote, signal, resolver.Options{
		Cache:       cfg.Cache.Name,
		TrustedKeys: cfg.Cache.TrustedKeys,
		Concurrency: cfg.Workflow.MetadataConcurrency,
		Logger:      logger,
		Metrics:     rt.Metrics,
	})
	worker := workflow.NewWorker(rt.Store, rt.Local, rt.Remote, signal, workflow.WorkerOptions{
		RetryDelay:    time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		UploadTimeout: time.Duration(cfg.Workflow.UploadTimeout) * time.Second,
		Logger:        logger,
		Metrics:       rt.Metrics,
	})
	exec := workflow.NewExecutor(res, worker)
	dispatchOpts := workflow.OptionsFromConfig(cfg)
	dispatchOpts.Logger = logger
	dispatchOpts.Metrics = rt.Metrics

	lockPath := filepath.Join(cfg.Paths.StateDir, LockFileName)
	d := &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		store:      rt.Store,
		local:      rt.Local,
		signal:     signal,
		metrics:    rt.Metrics,
		endpoint:   rt.Endpoint,
		resolver:   res,
		exec:       exec,
		dispatcher: workflow.NewDispatcher(rt.Store, exec, signal, dispatchOpts),
		listener:   ingest.NewListener(cfg.Paths.QueuePipe, res, rt.Local, logger),
		validator:  recovery.NewValidator(rt.Store, rt.Local, logger, rt.Metrics),
		queueSvc:   api.NewQueueService(rt.Store),
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}
	d.http = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, runs boot recovery and launches the
// listener and dispatcher. A recovery failure aborts startup.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another atticqueue daemon instance is already running")
	}

	report, err := d.validator.Run(ctx)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("boot recovery: %w", err)
	}
	d.recovered = report

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.http.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		if err := d.listener.Listen(groupCtx); err != nil {
			return fmt.Errorf("ingestion listener: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		if err := d.dispatcher.Run(groupCtx); err != nil {
			return fmt.Errorf("upload dispatcher: %w", err)
		}
		return nil
	})

	done := make(chan struct{})
	d.cancel = cancel
	d.done = done
	d.err = nil
	d.startedAt = time.Now()
	d.running.Store(true)

	go func() {
		err := group.Wait()
		d.mu.Lock()
		d.err = err
		d.mu.Unlock()
		close(done)
	}()

	// Entries recovered above are only picked up once the dispatcher wakes.
	d.signal.Notify()

	d.logger.Info("atticqueue daemon started",
		logging.String("lock", d.lockPath),
		logging.String("pipe", d.cfg.Paths.QueuePipe),
		logging.String("store", d.store.Path()),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Done is closed when the listener and dispatcher have both returned.
func (d *Daemon) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return d.done
}

// Err reports why the background loops stopped, or nil for a clean stop.
func (d *Daemon) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Stop stops background processing, waits for in-flight uploads and
// releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running.Load() {
		d.mu.Unlock()
		return
	}
	cancel, done := d.cancel, d.done
	d.cancel = nil
	d.mu.Unlock()

	cancel()
	<-done
	d.dispatcher.Wait()
	d.http.stop()

	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_unlock_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the next start may report a running instance"),
		)
	}
	d.running.Store(false)
	d.logger.Info("atticqueue daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Wake asks the dispatcher to rescan the store.
func (d *Daemon) Wake() {
	d.signal.Notify()
}

// Enqueue resolves each reference and queues its closure.
func (d *Daemon) Enqueue(ctx context.Context, refs []string) []api.EnqueueResult {
	results := make([]api.EnqueueResult, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		root, err := d.local.FollowStorePath(ctx, ref)
		if err != nil {
			results = append(results, api.FromResolveResult(ref, resolver.Result{}, err))
			continue
		}
		res, err := d.exec.Execute(ctx, workflow.ResolveTask{Root: root})
		if res.Resolve.Root == "" {
			res.Resolve.Root = root
		}
		results = append(results, api.FromResolveResult(ref, res.Resolve, err))
	}
	return results
}

// ListQueue returns pending entries filtered by optional states.
func (d *Daemon) ListQueue(ctx context.Context, states []queue.State) ([]api.QueueEntry, error) {
	return d.queueSvc.List(ctx, states...)
}

// QueueStats returns per-state counts.
func (d *Daemon) QueueStats(ctx context.Context) (api.QueueStats, error) {
	return d.queueSvc.Stats(ctx)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	d.mu.Lock()
	startedAt := d.startedAt
	recovered := d.recovered
	d.mu.Unlock()

	stats, err := d.queueSvc.Stats(ctx)
	if err != nil {
		logging.WarnWithContext(d.logger, "failed to read queue stats", "queue_stats_failed", logging.Error(err))
	}

	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		StoreBackend: d.cfg.Store.Backend,
		StorePath:    d.store.Path(),
		LockFilePath: d.lockPath,
		QueuePipe:    d.cfg.Paths.QueuePipe,
		Cache:        d.cfg.Cache.Name,
		Endpoint:     d.endpoint,
		Queue:        stats,
		Dispatcher:   api.FromDispatcherStatus(d.dispatcher.Status()),
		Recovery:     api.FromRecoveryReport(recovered),
	}
	if !startedAt.IsZero() {
		status.StartedAt = startedAt.UTC().Format(time.RFC3339)
	}
	return status
}

// HTTPAddr returns the bound status server address, or "" when disabled.
func (d *Daemon) HTTPAddr() string {
	return d.http.addr()
}
