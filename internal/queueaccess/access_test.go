package queueaccess_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"atticqueue/internal/ipc"
	"atticqueue/internal/queue"
	"atticqueue/internal/queueaccess"
	"atticqueue/internal/testsupport"
)

func failingDial() (*ipc.Client, error) {
	return nil, errors.New("daemon offline")
}

func TestOpenerFallsBackToStore(t *testing.T) {
	for _, backend := range testsupport.Backends {
		t.Run(backend, func(t *testing.T) {
			cfg := testsupport.NewConfig(t, testsupport.WithBackend(backend))
			seed, err := queue.Open(cfg)
			if err != nil {
				t.Fatalf("queue.Open: %v", err)
			}
			testsupport.MustPut(t, seed, testsupport.StorePath("a"), queue.StateQueued)
			testsupport.MustPut(t, seed, testsupport.StorePath("b"), queue.StateInProgress)
			if err := seed.Close(); err != nil {
				t.Fatalf("close seed store: %v", err)
			}

			session, err := queueaccess.Opener{
				Dial:      failingDial,
				OpenStore: func() (queue.Store, error) { return queue.Open(cfg) },
			}.Open()
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer session.Close()

			if session.DaemonErr == nil || session.DaemonErr.Error() != "daemon offline" {
				t.Fatalf("DaemonErr = %v", session.DaemonErr)
			}

			if src := session.Access.Source(); src != "store" {
				t.Fatalf("source = %q, want store", src)
			}
			stats, err := session.Access.Stats(context.Background())
			if err != nil {
				t.Fatalf("Stats: %v", err)
			}
			if stats.Queued != 1 || stats.InProgress != 1 || stats.Total != 2 {
				t.Fatalf("unexpected stats: %+v", stats)
			}

			entries, err := session.Access.List(context.Background(), []string{"in_progress", " "})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(entries) != 1 || entries[0].Name != "b" {
				t.Fatalf("unexpected entries: %+v", entries)
			}

			if _, err := session.Access.List(context.Background(), []string{"uploaded"}); err == nil {
				t.Fatal("expected unknown state to be rejected")
			}
		})
	}
}

func TestOpenerWithoutStoreOpener(t *testing.T) {
	if _, err := (queueaccess.Opener{Dial: failingDial}).Open(); err == nil {
		t.Fatal("expected error without store opener")
	}
}

func TestOpenerReportsBothCauses(t *testing.T) {
	_, err := queueaccess.Opener{
		Dial:      failingDial,
		OpenStore: func() (queue.Store, error) { return nil, errors.New("locked") },
	}.Open()
	if err == nil {
		t.Fatal("expected store error")
	}
	if msg := err.Error(); !strings.Contains(msg, "locked") || !strings.Contains(msg, "daemon offline") {
		t.Fatalf("error %q should carry both causes", msg)
	}
}

func TestParseStates(t *testing.T) {
	states, err := queueaccess.ParseStates([]string{"queued", "", "in_progress"})
	if err != nil {
		t.Fatalf("ParseStates: %v", err)
	}
	if len(states) != 2 || states[0] != queue.StateQueued || states[1] != queue.StateInProgress {
		t.Fatalf("unexpected states: %v", states)
	}
}
