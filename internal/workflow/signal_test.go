package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"atticqueue/internal/workflow"
)

func TestSignalCoalesces(t *testing.T) {
	s := workflow.NewSignal()
	for range 10 {
		s.Notify()
	}
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	select {
	case <-s.C():
		t.Fatal("expected notifications to coalesce into one wake")
	default:
	}
}

func TestSignalWaitHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := workflow.NewSignal().Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v, want deadline exceeded", err)
	}
}

func TestSignalNotifyAfter(t *testing.T) {
	s := workflow.NewSignal()
	s.NotifyAfter(context.Background(), 20*time.Millisecond)

	select {
	case <-s.C():
		t.Fatal("delayed notify fired early")
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("delayed notify never fired: %v", err)
	}
}

func TestSignalNotifyAfterCancelled(t *testing.T) {
	s := workflow.NewSignal()
	ctx, cancel := context.WithCancel(context.Background())
	s.NotifyAfter(ctx, 20*time.Millisecond)
	cancel()

	select {
	case <-s.C():
		t.Fatal("cancelled delayed notify fired")
	case <-time.After(80 * time.Millisecond):
	}
}
