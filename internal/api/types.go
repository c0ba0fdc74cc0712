package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// QueueEntry describes one pending store path.
type QueueEntry struct {
	Path      string `json:"path"`
	Name      string `json:"name"`
	State     string `json:"state"`
	Corrupt   bool   `json:"corrupt,omitempty"`
	Attempts  int    `json:"attempts"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// QueueStats counts pending entries by state.
type QueueStats struct {
	Queued     int `json:"queued"`
	InProgress int `json:"inProgress"`
	Corrupt    int `json:"corrupt"`
	Total      int `json:"total"`
}

// DispatcherStatus summarizes upload dispatch.
type DispatcherStatus struct {
	Running       bool   `json:"running"`
	Inflight      int    `json:"inflight"`
	MaxConcurrent int    `json:"maxConcurrent"`
	Scans         int64  `json:"scans"`
	Spawned       int64  `json:"spawned"`
	LastScan      string `json:"lastScan,omitempty"`
	LastError     string `json:"lastError,omitempty"`
}

// RecoveryReport mirrors the boot recovery counters.
type RecoveryReport struct {
	Scanned   int `json:"scanned"`
	Removed   int `json:"removed"`
	Requeued  int `json:"requeued"`
	Repaired  int `json:"repaired"`
	Unchecked int `json:"unchecked"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool             `json:"running"`
	PID          int              `json:"pid"`
	StartedAt    string           `json:"startedAt,omitempty"`
	StoreBackend string           `json:"storeBackend"`
	StorePath    string           `json:"storePath"`
	LockFilePath string           `json:"lockFilePath"`
	QueuePipe    string           `json:"queuePipe"`
	Cache        string           `json:"cache"`
	Endpoint     string           `json:"endpoint,omitempty"`
	Queue        QueueStats       `json:"queue"`
	Dispatcher   DispatcherStatus `json:"dispatcher"`
	Recovery     RecoveryReport   `json:"recovery"`
}

// QueueListResponse wraps a collection of queue entries.
type QueueListResponse struct {
	Entries []QueueEntry `json:"entries"`
}

// QueueStatsResponse wraps queue counts.
type QueueStatsResponse struct {
	Stats QueueStats `json:"stats"`
}

// EnqueueResult reports the resolution of one user-supplied reference.
type EnqueueResult struct {
	Ref         string `json:"ref"`
	Root        string `json:"root,omitempty"`
	ClosureSize int    `json:"closureSize"`
	Trusted     int    `json:"trusted"`
	Cached      int    `json:"cached"`
	Enqueued    int    `json:"enqueued"`
	Pending     int    `json:"pending"`
	Error       string `json:"error,omitempty"`
}
