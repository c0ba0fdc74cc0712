package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"atticqueue/internal/api"
	"atticqueue/internal/config"
	"atticqueue/internal/daemon"
	"atticqueue/internal/deps"
	"atticqueue/internal/ipc"
	"atticqueue/internal/preflight"
	"atticqueue/internal/queue"
)

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	SocketPath string
	ConfigPath string
	LogLevel   string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
}

// LaunchArgs builds the command line for a detached `atticqueue daemon`.
func LaunchArgs(opts LaunchOptions) []string {
	args := []string{"daemon"}
	if socket := strings.TrimSpace(opts.SocketPath); socket != "" {
		args = append(args, "--socket", socket)
	}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}
	return args
}

// Launch starts a detached atticqueue daemon process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	proc := exec.Command(executablePath, LaunchArgs(opts)...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient waits for IPC socket availability and returns a connected client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches the daemon unless its socket already answers.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	client, err := ipc.Dial(socketPath)
	if err == nil {
		_ = client.Close()
		return StartResult{State: StartStateAlreadyRunning}, nil
	}
	if launchErr := Launch(executablePath, opts); launchErr != nil {
		return StartResult{}, launchErr
	}
	client, err = WaitForClient(socketPath, waitTimeout)
	if err != nil {
		return StartResult{}, err
	}
	defer client.Close()
	if _, err := client.Status(); err != nil {
		return StartResult{}, fmt.Errorf("daemon status: %w", err)
	}
	return StartResult{State: StartStateStarted, Launched: true}, nil
}

// WaitForShutdown waits for daemon IPC to disappear.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err != nil {
			if isDaemonUnavailable(err) {
				return nil
			}
			time.Sleep(200 * time.Millisecond)
			continue
		}
		_ = client.Close()
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not stop within %s", timeout)
}

// ReadPIDFile returns the pid recorded at path, or 0 when the file is absent.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read daemon pid file %q: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("daemon pid file %q is malformed", path)
	}
	return pid, nil
}

// SignalProcess delivers sig to pid, refusing to signal the calling process.
func SignalProcess(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid daemon pid %d", pid)
	}
	if pid == os.Getpid() {
		return fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	return nil
}

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// StopAndTerminate sends SIGTERM to the daemon and SIGKILL if it is still
// reachable after gracePeriod.
func StopAndTerminate(socketPath string, gracePeriod time.Duration) (StopResult, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}
	statusResp, err := client.Status()
	_ = client.Close()
	if err != nil {
		return StopResult{}, fmt.Errorf("daemon status: %w", err)
	}

	status := statusResp.Status
	pid := status.PID
	pidPath := ""
	if status.LockFilePath != "" {
		pidPath = filepath.Join(filepath.Dir(status.LockFilePath), daemon.PIDFileName)
		if filePID, readErr := ReadPIDFile(pidPath); readErr == nil && filePID > 0 {
			pid = filePID
		}
	}
	if err := SignalProcess(pid, syscall.SIGTERM); err != nil {
		return StopResult{}, err
	}
	result := StopResult{PID: pid}
	if WaitForShutdown(socketPath, gracePeriod) == nil {
		return result, nil
	}

	if err := SignalProcess(pid, syscall.SIGKILL); err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	if pidPath != "" {
		_ = os.Remove(pidPath)
	}
	_ = os.Remove(socketPath)
	result.ForcedKill = true
	return result, nil
}

// StatusSnapshot combines daemon state with local checks for status output.
type StatusSnapshot struct {
	Running      bool               `json:"running"`
	Daemon       api.DaemonStatus   `json:"daemon"`
	Queue        api.QueueStats     `json:"queue"`
	QueueSource  string             `json:"queueSource"`
	QueueError   string             `json:"queueError,omitempty"`
	Checks       []preflight.Result `json:"checks,omitempty"`
	Dependencies []deps.Status      `json:"dependencies"`
}

// BuildStatusSnapshot collects daemon status and falls back to the on-disk
// store and local preflight checks when the daemon is offline.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (*StatusSnapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	snapshot := &StatusSnapshot{}

	client, err := ipc.Dial(socketPath)
	if err == nil {
		defer client.Close()
		if resp, statusErr := client.Status(); statusErr == nil && resp != nil {
			snapshot.Running = resp.Status.Running
			snapshot.Daemon = resp.Status
			snapshot.Queue = resp.Status.Queue
			snapshot.QueueSource = "daemon"
		}
	}

	if !snapshot.Running {
		snapshot.QueueSource = "store"
		queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		stats, statsErr := offlineStats(queryCtx, cfg)
		if statsErr != nil {
			snapshot.QueueError = statsErr.Error()
		} else {
			snapshot.Queue = stats
		}
		snapshot.Checks = preflight.RunAll(ctx, cfg)
	}
	snapshot.Dependencies = preflight.CheckSystemDeps(ctx, cfg)
	return snapshot, nil
}

func offlineStats(ctx context.Context, cfg *config.Config) (api.QueueStats, error) {
	if _, err := os.Stat(cfg.StorePath()); errors.Is(err, os.ErrNotExist) {
		return api.QueueStats{}, nil
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return api.QueueStats{}, err
	}
	defer store.Close()
	return api.NewQueueService(store).Stats(ctx)
}

func isDaemonUnavailable(err error) bool {
	return os.IsNotExist(err) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
