package workflow_test

import (
	"context"
	"testing"
	"time"

	"atticqueue/internal/queue"
	"atticqueue/internal/resolver"
	"atticqueue/internal/testsupport"
	"atticqueue/internal/workflow"
)

const testRetryDelay = 10 * time.Millisecond

type rig struct {
	store      queue.Store
	local      *testsupport.FakeLocalStore
	cache      *testsupport.FakeCache
	signal     *workflow.Signal
	worker     *workflow.Worker
	resolver   *resolver.Resolver
	exec       *workflow.Executor
	dispatcher *workflow.Dispatcher
}

func newRig(t *testing.T, backend string, maxConcurrent int) *rig {
	t.Helper()
	cfg := testsupport.NewConfig(t,
		testsupport.WithBackend(backend),
		testsupport.WithUploadConcurrency(maxConcurrent),
	)
	return newRigWithStore(t, testsupport.MustOpenStore(t, cfg), maxConcurrent)
}

func newRigWithStore(t *testing.T, store queue.Store, maxConcurrent int) *rig {
	t.Helper()
	r := &rig{
		store:  store,
		local:  testsupport.NewFakeLocalStore(),
		cache:  testsupport.NewFakeCache(),
		signal: workflow.NewSignal(),
	}
	r.worker = workflow.NewWorker(r.store, r.local, r.cache, r.signal, workflow.WorkerOptions{
		RetryDelay:    testRetryDelay,
		UploadTimeout: 5 * time.Second,
	})
	r.resolver = resolver.New(r.store, r.local, r.cache, r.signal, resolver.Options{
		Cache:       "test",
		TrustedKeys: []string{"cache.nixos.org-1"},
	})
	r.exec = workflow.NewExecutor(r.resolver, r.worker)
	r.dispatcher = workflow.NewDispatcher(r.store, r.exec, r.signal, workflow.DispatcherOptions{
		MaxConcurrent: maxConcurrent,
		RetryInterval: testRetryDelay,
	})
	return r
}

// start runs the dispatcher until the test ends.
func (r *rig) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.dispatcher.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("dispatcher Run returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("dispatcher did not stop")
		}
		r.dispatcher.Wait()
	})
}

func (r *rig) pending(t *testing.T) int {
	t.Helper()
	counts, err := queue.Stats(context.Background(), r.store)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	return counts.Total()
}
