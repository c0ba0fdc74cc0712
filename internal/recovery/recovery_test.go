package recovery_test

import (
	"context"
	"errors"
	"testing"

	"atticqueue/internal/artifact"
	"atticqueue/internal/queue"
	"atticqueue/internal/recovery"
	"atticqueue/internal/testsupport"
)

type failingStore struct{ queue.Store }

func (failingStore) Snapshot(context.Context) ([]queue.Entry, error) {
	return nil, errors.New("disk on fire")
}

func TestRunRequeuesInterruptedAndDropsCollected(t *testing.T) {
	for _, backend := range testsupport.Backends {
		t.Run(backend, func(t *testing.T) {
			cfg := testsupport.NewConfig(t, testsupport.WithBackend(backend))
			store := testsupport.MustOpenStore(t, cfg)
			local := testsupport.NewFakeLocalStore()

			interrupted := testsupport.StorePath("interrupted")
			queued := testsupport.StorePath("queued")
			collected := testsupport.StorePath("collected")
			flaky := testsupport.StorePath("flaky")
			for _, p := range []artifact.Path{interrupted, queued, flaky} {
				local.Add(p, nil)
			}
			local.FailValidity(flaky, errors.New("daemon unreachable"))

			testsupport.MustPut(t, store, interrupted, queue.StateInProgress)
			testsupport.MustPut(t, store, queued, queue.StateQueued)
			testsupport.MustPut(t, store, collected, queue.StateInProgress)
			testsupport.MustPut(t, store, flaky, queue.StateInProgress)

			report, err := recovery.NewValidator(store, local, nil, nil).Run(context.Background())
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			want := recovery.Report{Scanned: 4, Removed: 1, Requeued: 2, Unchecked: 1}
			if report != want {
				t.Fatalf("report = %+v, want %+v", report, want)
			}

			expect := map[artifact.Path]queue.State{
				interrupted: queue.StateQueued,
				queued:      queue.StateQueued,
				collected:   queue.StateAbsent,
				flaky:       queue.StateQueued,
			}
			for path, state := range expect {
				if got := testsupport.MustState(t, store, path); got != state {
					t.Fatalf("%s = %s, want %s", path.Name(), got, state)
				}
			}

			counts, _ := queue.Stats(context.Background(), store)
			if counts.InProgress != 0 {
				t.Fatalf("no entry may stay in progress after recovery: %+v", counts)
			}
		})
	}
}

func TestRunOnEmptyStore(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	report, err := recovery.NewValidator(store, testsupport.NewFakeLocalStore(), nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report != (recovery.Report{}) {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestRunFailsWhenSnapshotFails(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	_, err := recovery.NewValidator(failingStore{store}, testsupport.NewFakeLocalStore(), nil, nil).Run(context.Background())
	if err == nil {
		t.Fatal("expected snapshot failure to be returned")
	}
}
