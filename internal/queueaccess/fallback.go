package queueaccess

import (
	"errors"
	"fmt"

	"atticqueue/internal/ipc"
	"atticqueue/internal/queue"
)

// Opener picks the daemon when it answers and the work store otherwise.
type Opener struct {
	Dial      func() (*ipc.Client, error)
	OpenStore func() (queue.Store, error)
}

// Session is an open Access plus whatever must be released with it.
type Session struct {
	Access Access
	// DaemonErr is why the daemon was skipped, nil when it served the session.
	DaemonErr error
	release   func() error
}

// Close releases the client or store behind the session.
func (s *Session) Close() error {
	if s == nil || s.release == nil {
		return nil
	}
	release := s.release
	s.release = nil
	return release()
}

// Open returns a daemon-backed session when Dial succeeds. Otherwise it
// opens the store directly; if that fails too, both causes are reported.
func (o Opener) Open() (*Session, error) {
	daemonErr := errors.New("no daemon dialer configured")
	if o.Dial != nil {
		client, err := o.Dial()
		if err == nil {
			return &Session{Access: NewIPCAccess(client), release: client.Close}, nil
		}
		daemonErr = err
	}

	if o.OpenStore == nil {
		return nil, fmt.Errorf("open work store: no store opener configured (daemon: %w)", daemonErr)
	}
	store, err := o.OpenStore()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open work store: %w", err), fmt.Errorf("daemon: %w", daemonErr))
	}
	return &Session{Access: NewStoreAccess(store), DaemonErr: daemonErr, release: store.Close}, nil
}
