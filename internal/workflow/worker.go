package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"atticqueue/internal/artifact"
	"atticqueue/internal/logging"
	"atticqueue/internal/metrics"
	"atticqueue/internal/nixstore"
	"atticqueue/internal/queue"
)

// finalizeTimeout bounds the store write that records an upload result once
// the upload context may already be cancelled.
const finalizeTimeout = 10 * time.Second

// LocalStore supplies upload metadata.
type LocalStore interface {
	PathInfo(ctx context.Context, path artifact.Path) (artifact.Metadata, error)
}

// Uploader pushes one artifact to the remote cache.
type Uploader interface {
	UploadPath(ctx context.Context, meta artifact.Metadata) error
}

// Outcome is the result of one Upload call.
type Outcome int

const (
	// OutcomeSkipped means another worker owns the entry or it left the queue.
	OutcomeSkipped Outcome = iota
	// OutcomeUploaded means the artifact was pushed and its entry removed.
	OutcomeUploaded
	// OutcomeRequeued means the upload failed and the entry is queued again.
	OutcomeRequeued
	// OutcomeDropped means the artifact vanished locally and its entry was removed.
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeUploaded:
		return "uploaded"
	case OutcomeRequeued:
		return "requeued"
	case OutcomeDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// WorkerOptions tunes a Worker.
type WorkerOptions struct {
	RetryDelay    time.Duration
	UploadTimeout time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Worker claims and uploads single entries.
type Worker struct {
	store         queue.Store
	local         LocalStore
	uploader      Uploader
	signal        *Signal
	retryDelay    time.Duration
	uploadTimeout time.Duration
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// NewWorker constructs a Worker.
func NewWorker(store queue.Store, local LocalStore, uploader Uploader, signal *Signal, opts WorkerOptions) *Worker {
	return &Worker{
		store:         store,
		local:         local,
		uploader:      uploader,
		signal:        signal,
		retryDelay:    opts.RetryDelay,
		uploadTimeout: opts.UploadTimeout,
		logger:        logging.NewComponentLogger(opts.Logger, "uploader"),
		metrics:       opts.Metrics,
	}
}

// Upload claims path, uploads it and records the result. Failures are
// logged and reflected in the returned Outcome, never returned.
func (w *Worker) Upload(ctx context.Context, path artifact.Path) Outcome {
	ctx = logging.WithCorrelationID(ctx, uuid.NewString())
	ctx = logging.WithArtifact(ctx, path.String())
	logger := logging.WithContext(ctx, w.logger)
	start := time.Now()

	outcome := w.upload(ctx, logger, path)
	elapsed := time.Since(start)
	w.metrics.UploadFinished(outcome.String(), elapsed)

	switch outcome {
	case OutcomeUploaded:
		logger.Info("upload complete",
			logging.Duration("elapsed", elapsed),
			logging.String(logging.FieldEventType, "upload_complete"),
		)
	case OutcomeSkipped:
		logger.Debug("entry already claimed", logging.String(logging.FieldEventType, "upload_skipped"))
	}
	return outcome
}

func (w *Worker) upload(ctx context.Context, logger *slog.Logger, path artifact.Path) Outcome {
	claimed, err := w.store.CompareAndSwap(ctx, path, queue.StateQueued, queue.StateInProgress)
	if err != nil {
		if ctx.Err() == nil {
			logging.WarnWithContext(logger, "claim failed", "upload_claim_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the state directory"),
				logging.String(logging.FieldImpact, "entry stays queued and is retried"),
			)
			w.signal.NotifyAfter(ctx, w.retryDelay)
		}
		return OutcomeSkipped
	}
	if !claimed {
		w.metrics.ClaimConflict()
		return OutcomeSkipped
	}

	w.metrics.WorkerStarted()
	defer w.metrics.WorkerDone()

	meta, err := w.local.PathInfo(ctx, path)
	if errors.Is(err, nixstore.ErrNotFound) {
		return w.drop(ctx, logger, path)
	}
	if err != nil {
		return w.requeue(ctx, logger, path, err, "read path info")
	}

	uploadCtx := ctx
	if w.uploadTimeout > 0 {
		var cancel context.CancelFunc
		uploadCtx, cancel = context.WithTimeout(ctx, w.uploadTimeout)
		defer cancel()
	}
	if err := w.uploader.UploadPath(uploadCtx, meta); err != nil {
		return w.requeue(ctx, logger, path, err, "upload")
	}

	finalizeCtx, cancel := finalizeContext(ctx)
	defer cancel()
	if _, err := w.store.Remove(finalizeCtx, path); err != nil {
		logging.ErrorWithContext(logger, "failed to clear uploaded entry", "upload_finalize_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the state directory"),
			logging.String(logging.FieldImpact, "entry stays in progress until the next start and is uploaded again"),
		)
	}
	return OutcomeUploaded
}

func (w *Worker) drop(ctx context.Context, logger *slog.Logger, path artifact.Path) Outcome {
	finalizeCtx, cancel := finalizeContext(ctx)
	defer cancel()
	if _, err := w.store.Remove(finalizeCtx, path); err != nil {
		logging.ErrorWithContext(logger, "failed to drop entry for missing path", "upload_drop_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "entry is reconciled at the next start"),
		)
	}
	logging.WarnWithContext(logger, "path no longer exists locally; entry dropped", "upload_dropped",
		logging.String(logging.FieldErrorHint, "the path was garbage collected before upload"),
	)
	return OutcomeDropped
}

func (w *Worker) requeue(ctx context.Context, logger *slog.Logger, path artifact.Path, cause error, op string) Outcome {
	finalizeCtx, cancel := finalizeContext(ctx)
	defer cancel()
	if err := w.store.Put(finalizeCtx, path, queue.StateQueued); err != nil {
		logging.ErrorWithContext(logger, "failed to requeue entry", "upload_requeue_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "entry stays in progress until the next start"),
		)
		return OutcomeRequeued
	}
	if ctx.Err() != nil {
		logger.Info("upload interrupted by shutdown; entry requeued",
			logging.String(logging.FieldEventType, "upload_interrupted"))
		return OutcomeRequeued
	}
	logging.WarnWithContext(logger, op+" failed; entry requeued", "upload_failed",
		logging.Error(cause),
		logging.Duration("retry_in", w.retryDelay),
		logging.String(logging.FieldErrorHint, "check the cache endpoint and token"),
	)
	w.signal.NotifyAfter(ctx, w.retryDelay)
	return OutcomeRequeued
}

func finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}
