package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"atticqueue/internal/config"
	"atticqueue/internal/daemon"
	"atticqueue/internal/ipc"
	"atticqueue/internal/queue"
	"atticqueue/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      queue.Store
	local      *testsupport.FakeLocalStore
	cache      *testsupport.FakeCache
	daemon     *daemon.Daemon
	socketPath string
	configPath string
}

// setupOfflineEnv writes a config file but starts no daemon.
func setupOfflineEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{
		cfg:        cfg,
		socketPath: cfg.Paths.SocketPath,
		configPath: configPath,
	}
}

// setupCLITestEnv starts a daemon with fake collaborators behind a real
// control socket.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	env := setupOfflineEnv(t)
	env.store = testsupport.MustOpenStore(t, env.cfg)
	env.local = testsupport.NewFakeLocalStore()
	env.cache = testsupport.NewFakeCache()

	d, err := daemon.New(daemon.Runtime{
		Config: env.cfg,
		Store:  env.store,
		Local:  env.local,
		Remote: env.cache,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon start: %v", err)
	}
	srv, err := ipc.NewServer(ctx, env.socketPath, d, nil)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI IPC test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	env.daemon = d
	return env
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
queue_pipe = %q
state_dir = %q
log_dir = %q
socket_path = %q

[store]
backend = %q

[cache]
name = %q
endpoint = %q

[workflow]
error_retry_interval = 1
`,
		cfg.Paths.QueuePipe,
		cfg.Paths.StateDir,
		cfg.Paths.LogDir,
		cfg.Paths.SocketPath,
		cfg.Store.Backend,
		cfg.Cache.Name,
		cfg.Cache.Endpoint,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
