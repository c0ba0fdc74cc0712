package workflow

import "time"

// StatusSummary is a point-in-time view of the dispatcher.
type StatusSummary struct {
	Running       bool      `json:"running"`
	Inflight      int       `json:"inflight"`
	MaxConcurrent int       `json:"max_concurrent"`
	Scans         int64     `json:"scans"`
	Spawned       int64     `json:"spawned"`
	LastScan      time.Time `json:"last_scan,omitzero"`
	LastError     string    `json:"last_error,omitempty"`
}

// Status returns the dispatcher's current counters.
func (d *Dispatcher) Status() StatusSummary {
	d.mu.RLock()
	defer d.mu.RUnlock()
	summary := StatusSummary{
		Running:       d.running,
		Inflight:      int(d.inflight.Load()),
		MaxConcurrent: d.limit,
		Scans:         d.scans,
		Spawned:       d.spawned,
		LastScan:      d.lastScan,
	}
	if d.lastErr != nil {
		summary.LastError = d.lastErr.Error()
	}
	return summary
}
