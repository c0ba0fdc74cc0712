package daemon_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"atticqueue/internal/artifact"
	"atticqueue/internal/config"
	"atticqueue/internal/daemon"
	"atticqueue/internal/metrics"
	"atticqueue/internal/queue"
	"atticqueue/internal/testsupport"
)

type fixture struct {
	cfg    *config.Config
	store  queue.Store
	local  *testsupport.FakeLocalStore
	cache  *testsupport.FakeCache
	daemon *daemon.Daemon
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	f := &fixture{
		cfg:   cfg,
		store: testsupport.MustOpenStore(t, cfg),
		local: testsupport.NewFakeLocalStore(),
		cache: testsupport.NewFakeCache(),
	}
	d, err := daemon.New(daemon.Runtime{
		Config:  cfg,
		Store:   f.store,
		Local:   f.local,
		Remote:  f.cache,
		Metrics: metrics.New(),
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	f.daemon = d
	t.Cleanup(d.Stop)
	return f
}

func TestDaemonStartStop(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := f.daemon.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.LockFilePath != filepath.Join(f.cfg.Paths.StateDir, daemon.LockFileName) {
		t.Fatalf("unexpected lock path %q", status.LockFilePath)
	}

	if err := f.daemon.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	f.daemon.Stop()
	if f.daemon.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
	if err := f.daemon.Err(); err != nil {
		t.Fatalf("clean stop reported %v", err)
	}
}

func TestDaemonRejectsSecondInstance(t *testing.T) {
	f := newFixture(t)
	if err := f.daemon.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	other, err := daemon.New(daemon.Runtime{
		Config: f.cfg,
		Store:  f.store,
		Local:  f.local,
		Remote: f.cache,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := other.Start(context.Background()); err == nil {
		other.Stop()
		t.Fatal("expected lock contention to prevent a second daemon")
	}
}

func TestDaemonRecoversBeforeDispatching(t *testing.T) {
	f := newFixture(t)
	interrupted := testsupport.StorePath("interrupted")
	collected := testsupport.StorePath("collected")
	f.local.Add(interrupted, nil)
	testsupport.MustPut(t, f.store, interrupted, queue.StateInProgress)
	testsupport.MustPut(t, f.store, collected, queue.StateQueued)

	if err := f.daemon.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	testsupport.Eventually(t, 5*time.Second, func() bool {
		return f.cache.Uploads(interrupted) == 1
	}, "interrupted upload was not resumed after recovery")
	testsupport.Eventually(t, 5*time.Second, func() bool {
		counts, err := queue.Stats(context.Background(), f.store)
		return err == nil && counts.Total() == 0
	}, "store did not drain")

	status := f.daemon.Status(context.Background())
	if status.Recovery.Requeued != 1 || status.Recovery.Removed != 1 {
		t.Fatalf("unexpected recovery report: %+v", status.Recovery)
	}
}

func TestDaemonUploadsPathsWrittenToPipe(t *testing.T) {
	for _, backend := range testsupport.Backends {
		t.Run(backend, func(t *testing.T) {
			f := newFixture(t, testsupport.WithBackend(backend))
			a, b, c := testsupport.StorePath("A"), testsupport.StorePath("B"), testsupport.StorePath("C")
			f.local.Add(c, nil)
			f.local.Add(b, []artifact.Path{c})
			f.local.Add(a, []artifact.Path{b})

			if err := f.daemon.Start(context.Background()); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			testsupport.Eventually(t, 2*time.Second, func() bool {
				info, err := os.Stat(f.cfg.Paths.QueuePipe)
				return err == nil && info.Mode()&os.ModeNamedPipe != 0
			}, "queue pipe was not created")

			pipe, err := os.OpenFile(f.cfg.Paths.QueuePipe, os.O_WRONLY, 0)
			if err != nil {
				t.Fatalf("open pipe: %v", err)
			}
			if _, err := pipe.WriteString(a.String() + "\n"); err != nil {
				t.Fatalf("write pipe: %v", err)
			}
			_ = pipe.Close()

			testsupport.Eventually(t, 5*time.Second, func() bool {
				return f.cache.Uploads(a) == 1 && f.cache.Uploads(b) == 1 && f.cache.Uploads(c) == 1
			}, "closure was not uploaded")
		})
	}
}

func TestDaemonEnqueue(t *testing.T) {
	f := newFixture(t)
	root := testsupport.StorePath("hello")
	dep := testsupport.StorePath("glibc")
	f.local.Add(dep, nil, "cache.nixos.org-1:c2ln")
	f.local.Add(root, []artifact.Path{dep})

	results := f.daemon.Enqueue(context.Background(), []string{root.String() + "/bin/hello", "", "/tmp/elsewhere"})
	if len(results) != 2 {
		t.Fatalf("expected two results, got %+v", results)
	}
	if results[0].Root != root.String() || results[0].Enqueued != 1 || results[0].Trusted != 1 {
		t.Fatalf("unexpected enqueue result: %+v", results[0])
	}
	if results[1].Error == "" {
		t.Fatalf("expected an error for a path outside the store: %+v", results[1])
	}
	if state := testsupport.MustState(t, f.store, root); state != queue.StateQueued {
		t.Fatalf("root state = %s, want queued", state)
	}
}

type brokenStore struct{ queue.Store }

func (brokenStore) Snapshot(context.Context) ([]queue.Entry, error) {
	return nil, errors.New("unreadable")
}

func TestDaemonStartFailsWhenRecoveryFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	d, err := daemon.New(daemon.Runtime{
		Config: cfg,
		Store:  brokenStore{store},
		Local:  testsupport.NewFakeLocalStore(),
		Remote: testsupport.NewFakeCache(),
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err == nil {
		d.Stop()
		t.Fatal("expected recovery failure to abort start")
	}
	if d.Status(context.Background()).Running {
		t.Fatal("daemon must not report running after a failed start")
	}
}

func TestDaemonReportsListenerFailure(t *testing.T) {
	f := newFixture(t)
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.cfg.Paths.QueuePipe = filepath.Join(blocker, "queue.pipe")
	d, err := daemon.New(daemon.Runtime{Config: f.cfg, Store: f.store, Local: f.local, Remote: f.cache})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("daemon loops did not stop after the listener failed")
	}
	if d.Err() == nil {
		t.Fatal("expected listener failure to be reported")
	}
}
