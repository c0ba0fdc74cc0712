// Package recovery reconciles the work store with the local store at boot.
//
// Entries left in_progress by an unclean shutdown return to queued, entries
// whose artifact was garbage collected are dropped, and corrupt entries are
// rewritten as queued. Run makes a single pass over a snapshot before the
// listener and dispatcher start.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"atticqueue/internal/artifact"
	"atticqueue/internal/logging"
	"atticqueue/internal/metrics"
	"atticqueue/internal/queue"
)

// LocalStore reports whether an artifact still exists.
type LocalStore interface {
	IsValid(ctx context.Context, path artifact.Path) (bool, error)
}

// Report counts what a recovery pass did.
type Report struct {
	Scanned  int `json:"scanned"`
	Removed  int `json:"removed"`
	Requeued int `json:"requeued"`
	Repaired int `json:"repaired"`
	// Unchecked entries were kept because their validity could not be determined.
	Unchecked int `json:"unchecked"`
}

// Validator runs the boot-time recovery pass.
type Validator struct {
	store   queue.Store
	local   LocalStore
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewValidator constructs a Validator.
func NewValidator(store queue.Store, local LocalStore, logger *slog.Logger, m *metrics.Metrics) *Validator {
	return &Validator{
		store:   store,
		local:   local,
		logger:  logging.NewComponentLogger(logger, "recovery"),
		metrics: m,
	}
}

// Run reconciles every stored entry. Only a failure to read the store is
// returned; per-entry problems are logged and skipped.
func (v *Validator) Run(ctx context.Context) (Report, error) {
	entries, err := v.store.Snapshot(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("recovery snapshot: %w", err)
	}

	report := Report{Scanned: len(entries)}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		v.reconcile(ctx, entry, &report)
	}

	v.metrics.RecoveryAction("removed", report.Removed)
	v.metrics.RecoveryAction("requeued", report.Requeued)
	v.metrics.RecoveryAction("repaired", report.Repaired)
	v.metrics.RecoveryAction("kept", report.Unchecked)

	v.logger.Info("recovery complete",
		logging.Int("scanned", report.Scanned),
		logging.Int("removed", report.Removed),
		logging.Int("requeued", report.Requeued),
		logging.Int("repaired", report.Repaired),
		logging.Int("unchecked", report.Unchecked),
		logging.String(logging.FieldEventType, "recovery_complete"),
	)
	return report, nil
}

func (v *Validator) reconcile(ctx context.Context, entry queue.Entry, report *Report) {
	logger := v.logger.With(logging.String(logging.FieldArtifact, entry.Path.String()))

	valid, err := v.local.IsValid(ctx, entry.Path)
	switch {
	case err != nil:
		report.Unchecked++
		logging.WarnWithContext(logger, "validity check failed; entry kept", "recovery_check_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "verify nix-store is reachable"),
			logging.String(logging.FieldImpact, "path stays queued and is retried by the uploader"),
		)
	case !valid:
		removed, err := v.store.Remove(ctx, entry.Path)
		if err != nil {
			logging.WarnWithContext(logger, "failed to drop entry for missing path", "recovery_remove_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "stale entry remains until the next boot"),
			)
			return
		}
		if removed {
			report.Removed++
			logger.Info("dropped entry for garbage-collected path",
				logging.String(logging.FieldEventType, "recovery_removed"))
		}
		return
	}

	switch {
	case entry.Corrupt:
		if err := v.store.Put(ctx, entry.Path, queue.StateQueued); err != nil {
			logging.WarnWithContext(logger, "failed to repair corrupt entry", "recovery_repair_failed",
				logging.Error(err),
				logging.String("raw_state", string(entry.State)),
				logging.String(logging.FieldImpact, "entry is ignored by the uploader"),
			)
			return
		}
		report.Repaired++
		logging.WarnWithContext(logger, "corrupt entry rewritten as queued", "recovery_repaired",
			logging.String("raw_state", string(entry.State)),
			logging.String(logging.FieldErrorHint, "inspect the state directory for disk or tooling problems"),
			logging.String(logging.FieldImpact, "path will be uploaded again"),
		)
	case entry.State == queue.StateInProgress:
		swapped, err := v.store.CompareAndSwap(ctx, entry.Path, queue.StateInProgress, queue.StateQueued)
		if err != nil {
			logging.WarnWithContext(logger, "failed to requeue interrupted upload", "recovery_requeue_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "path stays in progress until the next boot"),
			)
			return
		}
		if swapped {
			report.Requeued++
			logger.Info("interrupted upload requeued",
				logging.String(logging.FieldEventType, "recovery_requeued"))
		}
	}
}
