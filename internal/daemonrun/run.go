package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"atticqueue/internal/attic"
	"atticqueue/internal/config"
	"atticqueue/internal/daemon"
	"atticqueue/internal/ipc"
	"atticqueue/internal/logging"
	"atticqueue/internal/metrics"
	"atticqueue/internal/nixstore"
	"atticqueue/internal/preflight"
	"atticqueue/internal/queue"
	"atticqueue/internal/workflow"
)

// CurrentLogName is the stable pointer to the newest run log.
const CurrentLogName = "atticqueued.log"

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the atticqueue daemon and blocks until it is signalled or its
// background loops fail.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("atticqueued-%s.log", runID))
	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
		RunID:            runID,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update %s link: %v\n", CurrentLogName, err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, cfg.Paths.LogDir, "atticqueued-*.log", logPath)
	logDependencySnapshot(signalCtx, logger, cfg)

	pidPath := filepath.Join(cfg.Paths.StateDir, daemon.PIDFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg, queue.WithLogger(logger))
	if err != nil {
		logging.ErrorWithContext(logger, "open work store", "store_open_failed",
			logging.Error(err),
			logging.String("path", cfg.StorePath()),
			logging.String(logging.FieldErrorHint, "check state_dir permissions and that no other process holds the store"),
		)
		return err
	}
	defer store.Close()

	local, err := nixstore.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("local store: %w", err)
	}
	remote, err := attic.NewFromConfig(cfg, local)
	if err != nil {
		return fmt.Errorf("attic client: %w", err)
	}

	d, err := daemon.New(daemon.Runtime{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Local:    local,
		Remote:   remote,
		Signal:   workflow.NewSignal(),
		Metrics:  metrics.New(),
		Endpoint: remote.Endpoint(),
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration, the daemon lock and work store access"),
			logging.String(logging.FieldImpact, "no paths will be uploaded"),
		)
		return err
	}

	ipcServer, err := ipc.NewServer(signalCtx, cfg.Paths.SocketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	select {
	case <-signalCtx.Done():
		logger.Info("atticqueue daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
		return nil
	case <-d.Done():
	}
	err = d.Err()
	if err == nil {
		err = errors.New("daemon stopped unexpectedly")
	}
	logging.ErrorWithContext(logger, "daemon stopped", "daemon_stopped",
		logging.Error(err),
		logging.String(logging.FieldImpact, "queued paths remain until the next start"),
	)
	return err
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, CurrentLogName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("store_backend", cfg.Store.Backend),
		logging.String("cache", cfg.Cache.Name),
		logging.Bool("token_present", strings.TrimSpace(cfg.Cache.Token) != ""),
		logging.Int("trusted_keys", len(cfg.Cache.TrustedKeys)),
	}
	for _, status := range preflight.CheckSystemDeps(ctx, cfg) {
		attrs = append(attrs,
			logging.Bool(status.Name+"_available", status.Available),
			logging.String(status.Name+"_binary", status.Command),
		)
		if status.Version != "" {
			attrs = append(attrs, logging.String(status.Name+"_version", status.Version))
		}
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
