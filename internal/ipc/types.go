package ipc

import "atticqueue/internal/api"

// ServiceName is the RPC receiver name methods are registered under.
const ServiceName = "AtticQueue"

// QueueEntry mirrors the HTTP API queue DTO for IPC callers.
type QueueEntry = api.QueueEntry

// QueueStats mirrors the HTTP API stats DTO.
type QueueStats = api.QueueStats

// EnqueueResult mirrors the per-reference resolution DTO.
type EnqueueResult = api.EnqueueResult

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse carries the daemon status.
type StatusResponse struct {
	Status api.DaemonStatus `json:"status"`
}

// QueueListRequest filters queue listing by state.
type QueueListRequest struct {
	States []string `json:"states"`
}

// QueueListResponse contains queue entries.
type QueueListResponse struct {
	Entries []QueueEntry `json:"entries"`
}

// QueueStatsRequest fetches per-state counts.
type QueueStatsRequest struct{}

// QueueStatsResponse carries per-state counts.
type QueueStatsResponse struct {
	Stats QueueStats `json:"stats"`
}

// EnqueueRequest asks the daemon to resolve and queue references.
type EnqueueRequest struct {
	Refs []string `json:"refs"`
}

// EnqueueResponse reports one result per non-empty reference.
type EnqueueResponse struct {
	Results []EnqueueResult `json:"results"`
}

// WakeRequest asks the dispatcher to rescan.
type WakeRequest struct{}

// WakeResponse acknowledges a wake.
type WakeResponse struct {
	Woken bool `json:"woken"`
}
