package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/event"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/metrics"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/transport"
	"github.com/knowhubhq/knowledge-exchange/upload-client/pkg/progress"
	"github.com/knowhubhq/knowledge-exchange/upload-client/pkg/retrier"
	"github.com/knowhubhq/knowledge-exchange/upload-client/pkg/sloger"
)

// cleanupTimeout bounds the best-effort remote abort after a cancel.
const cleanupTimeout = 30 * time.Second

// startRun hands the entry to a fresh run goroutine. fresh distinguishes a
// brand new upload (remote session still to be created) from a resumed or
// restored one (reconcile first).
func (r *Registry) startRun(e *entry, tr transport.Transport, fresh bool) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	e.mu.Lock()
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx, e, tr, fresh)

		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
		cancel()
		close(done)
	}()
}

// run drives one pass over the upload: initialize or reconcile, then the
// chunk loop, then finalize. It returns early when paused or cancelled.
func (r *Registry) run(ctx context.Context, e *entry, tr transport.Transport, fresh bool) {
	ctx = sloger.SetUploadID(ctx, e.sess.ID)
	log := sloger.GetLogger(ctx)

	metrics.ActiveUploads.Inc()
	defer metrics.ActiveUploads.Dec()

	lock, err := r.locker.NewLock(e.sess.ID)
	if err != nil {
		r.fail(ctx, e, err)
		return
	}
	if err := lock.Lock(ctx, func() {
		// Another worker wants this upload; step aside without losing state.
		if err := r.Pause(e.sess.ID); err != nil && !errors.Is(err, ErrUploadNotFound) && !errors.Is(err, ErrInvalidState) {
			log.Error("failed to pause upload on lock release request", "error", err)
		}
	}); err != nil {
		if ctx.Err() != nil {
			r.settleInterrupt(ctx, e, tr)
			return
		}
		r.fail(ctx, e, err)
		return
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Error("failed to release upload lock", "error", err)
		}
	}()

	if fresh {
		if err := tr.CreateSession(ctx, e.sess); err != nil {
			if ctx.Err() != nil {
				r.settleInterrupt(ctx, e, tr)
				return
			}
			r.fail(ctx, e, err)
			return
		}
		r.saveCheckpoint(ctx, e)
		r.publish(ctx, event.NewUploadStarted(e.sess.ID, e.sess.FileName, e.sess.DestinationID, e.sess.FileSize))
	} else {
		r.reconcile(ctx, e, tr)
	}

	if !r.chunkLoop(ctx, e, tr) {
		return
	}
	if ctx.Err() != nil {
		r.settleInterrupt(ctx, e, tr)
		return
	}
	r.finalize(ctx, e, tr)
}

// chunkLoop sends every remaining chunk in order. It reports false when the
// run should stop: a pause, a cancel, or a terminal chunk failure.
func (r *Registry) chunkLoop(ctx context.Context, e *entry, tr transport.Transport) bool {
	log := sloger.GetLogger(ctx)
	plan := e.sess.Plan()

	if e.sess.NextChunk() < e.sess.TotalChunks {
		e.tracker.SetStatus(progress.StatusUploading)
		r.emitProgress(e)
	}

	for i := e.sess.NextChunk(); i < e.sess.TotalChunks; i++ {
		if ctx.Err() != nil {
			r.settleInterrupt(ctx, e, tr)
			return false
		}

		start, end := plan.Range(i)
		size := end - start

		var chunkID string
		err := retrier.Do(ctx, retrier.Config{
			MaxRetries: uint64(e.opts.MaxRetries),
			Delay:      e.opts.RetryDelay,
			Notify: func(err error, wait time.Duration) {
				log.Warn("chunk upload failed; backing off", "chunk", i, "wait", wait, "error", err)
				metrics.ChunkRetries.WithLabelValues(e.sess.DestinationID).Inc()
			},
		}, func(attemptCtx context.Context) error {
			id, err := tr.UploadChunk(attemptCtx, e.sess, i, io.NewSectionReader(e.source, start, size), size)
			if err != nil {
				return err
			}
			chunkID = id
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				r.settleInterrupt(ctx, e, tr)
				return false
			}
			r.fail(ctx, e, &ChunkError{Index: i, Err: err})
			return false
		}

		e.sess.Ack(chunkID)
		r.saveCheckpoint(ctx, e)
		e.tracker.RecordChunk(e.sess.NextChunk(), e.sess.UploadedBytes())
		metrics.UploadedBytes.WithLabelValues(e.sess.DestinationID).Add(float64(size))
		r.emitProgress(e)
	}
	return true
}

func (r *Registry) finalize(ctx context.Context, e *entry, tr transport.Transport) {
	log := sloger.GetLogger(ctx)

	e.tracker.SetStatus(progress.StatusProcessing)
	r.emitProgress(e)

	result, err := tr.FinalizeSession(ctx, e.sess)
	if err != nil {
		if ctx.Err() != nil {
			r.settleInterrupt(ctx, e, tr)
			return
		}
		r.fail(ctx, e, fmt.Errorf("%w: %w", ErrFinalize, err))
		return
	}

	e.tracker.SetStatus(progress.StatusCompleted)
	r.emitProgress(e)
	metrics.UploadOutcomes.WithLabelValues(e.sess.DestinationID, metrics.OutcomeCompleted).Inc()
	if snap := e.tracker.Snapshot(); snap.BytesPerSecond > 0 {
		metrics.UploadSpeeds.Observe(snap.BytesPerSecond)
	}
	if err := r.checkpoints.Delete(ctx, e.sess.ID); err != nil {
		log.Warn("failed to drop checkpoint of completed upload", "error", err)
	}
	r.publish(ctx, event.NewUploadCompleted(e.sess.ID, e.sess.FileName, e.sess.DestinationID, e.sess.FileSize))

	log.Info("upload completed", "id", result.ID, "location", result.Location)
	if cb := e.callbacks().OnComplete; cb != nil {
		cb(e.sess.ID, result)
	}
}

// settleInterrupt runs after the context died: either a pause to preserve or
// a cancel to clean up.
func (r *Registry) settleInterrupt(ctx context.Context, e *entry, tr transport.Transport) {
	log := sloger.GetLogger(ctx)

	e.mu.Lock()
	canceled := e.canceled
	e.mu.Unlock()

	if canceled {
		r.cleanupCanceled(e, tr)
		return
	}

	// Anything that stops the run without cancelling is a pause, including
	// registry shutdown.
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
	e.tracker.SetStatus(progress.StatusPaused)

	bg, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	r.saveCheckpoint(bg, e)
	r.emitProgress(e)
	log.Info("upload paused", "next_chunk", e.sess.NextChunk())
}

// cleanupCanceled tears down what a cancelled upload left behind. The entry
// is already out of the registry.
func (r *Registry) cleanupCanceled(e *entry, tr transport.Transport) {
	if e.tracker.Status() == progress.StatusCompleted {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	ctx = sloger.SetUploadID(ctx, e.sess.ID)
	log := sloger.GetLogger(ctx)

	if ab, ok := tr.(transport.Aborter); ok && e.sess.RemoteID != "" {
		if err := ab.AbortSession(ctx, e.sess); err != nil {
			log.Warn("failed to abort remote session", "error", err)
		}
	}
	if err := r.checkpoints.Delete(ctx, e.sess.ID); err != nil {
		log.Warn("failed to drop checkpoint of cancelled upload", "error", err)
	}
	metrics.UploadOutcomes.WithLabelValues(e.sess.DestinationID, metrics.OutcomeCancelled).Inc()
	log.Info("upload cancelled", "uploaded_chunks", e.sess.NextChunk())
}

// fail marks the upload failed and pushes the error out through events and
// the error callback. The entry stays registered so callers can read the
// terminal state.
func (r *Registry) fail(ctx context.Context, e *entry, err error) {
	log := sloger.GetLogger(ctx)
	log.Error("upload failed", "error", err)

	e.tracker.Fail(err)
	r.emitProgress(e)
	metrics.UploadOutcomes.WithLabelValues(e.sess.DestinationID, metrics.OutcomeFailed).Inc()
	r.publish(ctx, event.NewUploadFailed(e.sess.ID, e.sess.FileName, e.sess.DestinationID, e.sess.UploadedBytes(), err))
	if cb := e.callbacks().OnError; cb != nil {
		cb(e.sess.ID, err)
	}
}

// reconcile asks the destination how many chunks it holds before resuming.
// The local record only ever rewinds; a destination claiming more than we
// acknowledged is not trusted with chunks we cannot verify.
func (r *Registry) reconcile(ctx context.Context, e *entry, tr transport.Transport) {
	rec, ok := tr.(transport.Reconciler)
	if !ok || e.sess.RemoteID == "" {
		return
	}
	log := sloger.GetLogger(ctx)

	n, err := rec.ReceivedChunks(ctx, e.sess)
	if err != nil {
		log.Warn("failed to reconcile with destination; trusting local state", "error", err)
		return
	}
	if n < e.sess.NextChunk() {
		log.Info("destination holds fewer chunks than recorded; rewinding", "local", e.sess.NextChunk(), "remote", n)
		e.sess.Truncate(n)
		e.tracker.Restore(e.sess.NextChunk(), e.sess.UploadedBytes())
	}
}

func (r *Registry) saveCheckpoint(ctx context.Context, e *entry) {
	if err := r.checkpoints.Save(ctx, e.sess); err != nil {
		sloger.GetLogger(ctx).Warn("failed to save checkpoint", "error", err)
	}
}

func (r *Registry) publish(ctx context.Context, ev *event.UploadLifecycle) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(ctx, ev); err != nil {
		sloger.GetLogger(ctx).Warn("failed to publish lifecycle event", "type", ev.Type(), "error", err)
	}
}

func (r *Registry) emitProgress(e *entry) {
	if cb := e.callbacks().OnProgress; cb != nil {
		cb(e.tracker.Snapshot())
	}
}

func (e *entry) callbacks() Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts
}
