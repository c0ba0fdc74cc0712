package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"atticqueue/internal/artifact"
	"atticqueue/internal/queue"
	"atticqueue/internal/testsupport"
	"atticqueue/internal/workflow"
)

func TestDispatcherUploadsResolvedClosure(t *testing.T) {
	for _, backend := range testsupport.Backends {
		t.Run(backend, func(t *testing.T) {
			r := newRig(t, backend, 4)
			a, b, c := testsupport.StorePath("A"), testsupport.StorePath("B"), testsupport.StorePath("C")
			r.local.Add(c, nil)
			r.local.Add(b, []artifact.Path{c})
			r.local.Add(a, []artifact.Path{b, c})
			r.start(t)

			res, err := r.exec.Execute(context.Background(), workflow.ResolveTask{Root: a})
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if res.Resolve.Enqueued != 3 {
				t.Fatalf("enqueued = %d, want 3", res.Resolve.Enqueued)
			}

			testsupport.Eventually(t, 5*time.Second, func() bool {
				return r.pending(t) == 0
			}, "store did not drain")
			for _, p := range []artifact.Path{a, b, c} {
				if n := r.cache.Uploads(p); n != 1 {
					t.Fatalf("%s uploaded %d times, want 1", p.Name(), n)
				}
			}
		})
	}
}

func TestDispatcherRetriesFailedUploads(t *testing.T) {
	for _, backend := range testsupport.Backends {
		t.Run(backend, func(t *testing.T) {
			r := newRig(t, backend, 2)
			path := testsupport.StorePath("flaky")
			r.local.Add(path, nil)
			r.cache.FailUploads(path, 3)
			testsupport.MustPut(t, r.store, path, queue.StateQueued)
			r.start(t)
			r.signal.Notify()

			testsupport.Eventually(t, 5*time.Second, func() bool {
				return r.cache.Uploads(path) == 1 && r.pending(t) == 0
			}, "failed upload was never retried to completion")
		})
	}
}

func TestDispatcherBoundsConcurrentUploads(t *testing.T) {
	const limit = 3
	r := newRig(t, "sqlite", limit)
	r.cache.SetUploadDelay(20 * time.Millisecond)
	paths := make([]artifact.Path, 0, 12)
	for i := range 12 {
		p := testsupport.StorePath(fmt.Sprintf("bounded-%d", i))
		r.local.Add(p, nil)
		testsupport.MustPut(t, r.store, p, queue.StateQueued)
		paths = append(paths, p)
	}
	r.start(t)
	r.signal.Notify()

	testsupport.Eventually(t, 5*time.Second, func() bool {
		return r.pending(t) == 0
	}, "queue did not drain")
	if got := r.cache.MaxInflight(); got > limit || got == 0 {
		t.Fatalf("max in-flight uploads = %d, want 1..%d", got, limit)
	}
	for _, p := range paths {
		if r.cache.Uploads(p) != 1 {
			t.Fatalf("%s uploaded %d times", p.Name(), r.cache.Uploads(p))
		}
	}
	if status := r.dispatcher.Status(); status.Spawned < int64(len(paths)) || status.MaxConcurrent != limit {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestDispatcherPeriodicRescan(t *testing.T) {
	r := newRig(t, "sqlite", 1)
	r.dispatcher = workflow.NewDispatcher(r.store, r.exec, r.signal, workflow.DispatcherOptions{
		MaxConcurrent:  1,
		RetryInterval:  testRetryDelay,
		RescanInterval: 20 * time.Millisecond,
	})
	path := testsupport.StorePath("unannounced")
	r.local.Add(path, nil)
	testsupport.MustPut(t, r.store, path, queue.StateQueued)
	r.start(t)

	testsupport.Eventually(t, 5*time.Second, func() bool {
		return r.cache.Uploads(path) == 1
	}, "rescan did not pick up an entry written without a wake")
}

type flakySnapshotStore struct {
	queue.Store
	failures atomic.Int32
}

func (s *flakySnapshotStore) Snapshot(ctx context.Context) ([]queue.Entry, error) {
	if s.failures.Add(-1) >= 0 {
		return nil, errors.New("database is locked")
	}
	return s.Store.Snapshot(ctx)
}

func TestDispatcherRetriesAfterScanFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := &flakySnapshotStore{Store: testsupport.MustOpenStore(t, cfg)}
	store.failures.Store(2)
	r := newRigWithStore(t, store, 1)
	path := testsupport.StorePath("after-failure")
	r.local.Add(path, nil)
	testsupport.MustPut(t, r.store, path, queue.StateQueued)
	r.start(t)
	r.signal.Notify()

	testsupport.Eventually(t, 5*time.Second, func() bool {
		return r.cache.Uploads(path) == 1
	}, "dispatcher did not recover from scan failures")
	if status := r.dispatcher.Status(); status.LastError != "" {
		t.Fatalf("last error should clear after a good scan: %q", status.LastError)
	}
}

func TestDispatcherRunTwice(t *testing.T) {
	r := newRig(t, "sqlite", 1)
	r.start(t)
	testsupport.Eventually(t, time.Second, func() bool {
		return r.dispatcher.Status().Running
	}, "dispatcher never reported running")
	if err := r.dispatcher.Run(context.Background()); err == nil {
		t.Fatal("expected second Run to fail")
	}
}

type unknownTask struct{ workflow.UploadTask }

func TestExecutorRejectsUnknownTasks(t *testing.T) {
	r := newRig(t, "sqlite", 1)
	if _, err := r.exec.Execute(context.Background(), unknownTask{}); err == nil {
		t.Fatal("expected unsupported task error")
	}
}

func TestExecutorRunsUploadTask(t *testing.T) {
	r := newRig(t, "sqlite", 1)
	path := testsupport.StorePath("direct")
	r.local.Add(path, nil)
	testsupport.MustPut(t, r.store, path, queue.StateQueued)

	res, err := r.exec.Execute(context.Background(), workflow.UploadTask{Path: path})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Kind != workflow.KindUpload || res.Outcome != workflow.OutcomeUploaded || res.Target != path {
		t.Fatalf("unexpected result: %+v", res)
	}
}
