package main

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"atticqueue/internal/queue"
	"atticqueue/internal/testsupport"
)

func TestPushThroughDaemonPipe(t *testing.T) {
	env := setupCLITestEnv(t)
	release := env.cache.Block()
	t.Cleanup(release)
	root := testsupport.StorePath("pushed")
	env.local.Add(root, nil)

	testsupport.Eventually(t, 2*time.Second, func() bool {
		_, _, err := runCLI(t, []string{"push", root.String()}, env.socketPath, env.configPath)
		return err == nil
	}, "push never reached the daemon")

	testsupport.Eventually(t, 2*time.Second, func() bool {
		state, err := env.store.Get(t.Context(), root)
		return err == nil && state != queue.StateAbsent
	}, "pushed path was never queued")
}

func TestPushReadsStdin(t *testing.T) {
	env := setupCLITestEnv(t)
	release := env.cache.Block()
	t.Cleanup(release)
	a, b := testsupport.StorePath("stdin-a"), testsupport.StorePath("stdin-b")
	env.local.Add(a, nil)
	env.local.Add(b, nil)

	testsupport.Eventually(t, 2*time.Second, func() bool {
		cmd := newRootCommand()
		cmd.SetIn(strings.NewReader(a.String() + "\n" + b.String() + "\n"))
		cmd.SetOut(new(strings.Builder))
		cmd.SetArgs([]string{"--config", env.configPath, "push", "--stdin"})
		return cmd.Execute() == nil
	}, "push --stdin never reached the daemon")

	testsupport.Eventually(t, 2*time.Second, func() bool {
		stateA, errA := env.store.Get(t.Context(), a)
		stateB, errB := env.store.Get(t.Context(), b)
		return errA == nil && errB == nil && stateA != queue.StateAbsent && stateB != queue.StateAbsent
	}, "stdin paths were never queued")
}

func TestPushWithoutDaemon(t *testing.T) {
	env := setupOfflineEnv(t)
	_, _, err := runCLI(t, []string{"push", "/nix/store/x"}, env.socketPath, env.configPath)
	if err == nil {
		t.Fatal("expected push to fail without a reader")
	}
	requireContains(t, err.Error(), "no daemon is reading")
}

func TestPushRequiresPaths(t *testing.T) {
	env := setupOfflineEnv(t)
	if _, _, err := runCLI(t, []string{"push"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected error without paths")
	}
}

func TestPushExplicitPipeSkipsConfig(t *testing.T) {
	pipe := filepath.Join(t.TempDir(), "missing.pipe")
	_, _, err := runCLI(t, []string{"push", "--pipe", pipe, "/nix/store/x"}, filepath.Join(t.TempDir(), "s.sock"), filepath.Join(t.TempDir(), "absent.toml"))
	if err == nil {
		t.Fatal("expected missing pipe error")
	}
	requireContains(t, err.Error(), "no daemon is reading")
}
