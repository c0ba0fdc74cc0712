package workflow

import (
	"context"
	"time"
)

// Signal is a coalescing wake-up. Any number of Notify calls between two
// receives collapse into one pending wake.
type Signal struct {
	ch chan struct{}
}

// NewSignal returns a Signal with nothing pending.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Notify marks a wake as pending. It never blocks.
func (s *Signal) Notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// C returns the channel that receives pending wakes.
func (s *Signal) C() <-chan struct{} {
	return s.ch
}

// Wait blocks until a wake is pending or ctx ends.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NotifyAfter notifies once d has elapsed unless ctx ends first.
func (s *Signal) NotifyAfter(ctx context.Context, d time.Duration) {
	if d <= 0 {
		s.Notify()
		return
	}
	go func() {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			s.Notify()
		case <-ctx.Done():
		}
	}()
}
