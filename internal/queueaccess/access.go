package queueaccess

import (
	"context"
	"fmt"
	"strings"

	"atticqueue/internal/api"
	"atticqueue/internal/ipc"
	"atticqueue/internal/queue"
)

// Access provides read-only queue views regardless of IPC or direct store backing.
type Access interface {
	Stats(ctx context.Context) (api.QueueStats, error)
	List(ctx context.Context, states []string) ([]api.QueueEntry, error)
	// Source reports where the data comes from ("daemon" or "store").
	Source() string
}

// NewIPCAccess returns an Access backed by daemon IPC.
func NewIPCAccess(client *ipc.Client) Access {
	return &ipcAccess{client: client}
}

// NewStoreAccess returns an Access backed by direct store access.
func NewStoreAccess(store queue.Store) Access {
	return &storeAccess{service: api.NewQueueService(store)}
}

type ipcAccess struct {
	client *ipc.Client
}

func (a *ipcAccess) Stats(_ context.Context) (api.QueueStats, error) {
	resp, err := a.client.QueueStats()
	if err != nil {
		return api.QueueStats{}, err
	}
	return resp.Stats, nil
}

func (a *ipcAccess) List(_ context.Context, states []string) ([]api.QueueEntry, error) {
	resp, err := a.client.QueueList(states)
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (a *ipcAccess) Source() string { return "daemon" }

type storeAccess struct {
	service *api.QueueService
}

func (a *storeAccess) Stats(ctx context.Context) (api.QueueStats, error) {
	return a.service.Stats(ctx)
}

func (a *storeAccess) List(ctx context.Context, states []string) ([]api.QueueEntry, error) {
	parsed, err := ParseStates(states)
	if err != nil {
		return nil, err
	}
	return a.service.List(ctx, parsed...)
}

func (a *storeAccess) Source() string { return "store" }

// ParseStates converts user supplied state names, ignoring blanks.
func ParseStates(values []string) ([]queue.State, error) {
	states := make([]queue.State, 0, len(values))
	for _, raw := range values {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		state, err := queue.ParseState(raw)
		if err != nil {
			return nil, fmt.Errorf("state filter: %w", err)
		}
		states = append(states, state)
	}
	return states, nil
}
