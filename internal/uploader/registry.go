// Package uploader drives resumable chunked uploads: a registry of active
// uploads, and a per-upload coordinator that walks the chunk loop with
// bounded retries, checkpoints, and progress callbacks.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/checkpoint"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/event"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/session"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/transport"
	"github.com/knowhubhq/knowledge-exchange/upload-client/pkg/metadata"
	"github.com/knowhubhq/knowledge-exchange/upload-client/pkg/progress"
	"github.com/knowhubhq/knowledge-exchange/upload-client/pkg/sloger"
	"github.com/knowhubhq/knowledge-exchange/upload-client/pkg/uploadlocker"
)

var logger *slog.Logger

func init() {
	type Empty struct{}
	pkgParts := strings.Split(reflect.TypeOf(Empty{}).PkgPath(), "/")
	// add package name to app logger
	logger = sloger.With("pkg", pkgParts[len(pkgParts)-1])
}

// entry is one registered upload: its session, its observable progress, and
// the handle to whatever run goroutine is currently driving it.
type entry struct {
	sess    *session.Session
	tracker *progress.Tracker

	mu       sync.Mutex
	source   Source
	opts     Options
	cancel   context.CancelFunc // cancels the active run, nil when idle
	done     chan struct{}      // closed when the active run exits
	paused   bool
	canceled bool
}

// Registry tracks the uploads this process is driving and exposes
// pause/resume/cancel/progress to outside callers. It is an injected
// dependency, not a process singleton; independent registries never share
// state.
type Registry struct {
	destinations transport.Destinations
	checkpoints  checkpoint.Store
	locker       uploadlocker.Locker
	events       *event.Publishers[*event.UploadLifecycle]

	mu      sync.Mutex
	uploads map[string]*entry
	closed  bool
	wg      sync.WaitGroup
}

type RegistryOption func(r *Registry)

// WithCheckpointStore persists sessions after every acknowledged chunk so
// uploads survive a process restart.
func WithCheckpointStore(s checkpoint.Store) RegistryOption {
	return func(r *Registry) {
		r.checkpoints = s
	}
}

// WithLocker guards each upload id so two workers never drive the same
// upload at once.
func WithLocker(l uploadlocker.Locker) RegistryOption {
	return func(r *Registry) {
		r.locker = l
	}
}

// WithPublishers emits upload lifecycle events to the configured publishers.
func WithPublishers(p *event.Publishers[*event.UploadLifecycle]) RegistryOption {
	return func(r *Registry) {
		r.events = p
	}
}

func NewRegistry(destinations transport.Destinations, opts ...RegistryOption) *Registry {
	r := &Registry{
		destinations: destinations,
		checkpoints:  checkpoint.NewMemoryStore(),
		locker:       uploadlocker.NewMemoryLocker(),
		uploads:      map[string]*entry{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit registers a new upload and returns its id immediately; the chunk
// loop runs on its own goroutine. Failures after this point are reported
// through the error callback and the upload's status.
func (r *Registry) Submit(src Source, destinationID string, opts Options) (string, error) {
	opts = opts.withDefaults()

	tr, ok := r.destinations.Get(destinationID)
	if !ok {
		return "", fmt.Errorf("%w: %s", transport.ErrUnknownDestination, destinationID)
	}
	if src.Size() < 0 {
		return "", fmt.Errorf("source %s reports negative size %d", src.Name(), src.Size())
	}

	// metadata can rename the upload, e.g. a spool file carrying the
	// original filename
	name := metadata.GetFilename(opts.Metadata)
	if name == "" {
		name = src.Name()
	}
	sess, err := session.New(name, src.Size(), opts.ChunkSize, destinationID)
	if err != nil {
		return "", err
	}
	sess.Metadata = opts.Metadata

	e := &entry{
		sess:    sess,
		tracker: progress.NewTracker(sess.ID, sess.FileName, sess.FileSize, sess.TotalChunks),
		source:  src,
		opts:    opts,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrRegistryClosed
	}
	r.uploads[sess.ID] = e
	r.mu.Unlock()

	logger.Info("upload submitted", "uploadId", sess.ID, "file", sess.FileName, "size", sess.FileSize, "chunks", sess.TotalChunks, "destination", destinationID)
	r.startRun(e, tr, true)
	return sess.ID, nil
}

// Restore adopts a checkpointed session from an earlier process and starts
// driving it again. The remote session is reconciled before any chunk is
// sent.
func (r *Registry) Restore(sess *session.Session, src Source, opts Options) error {
	opts = opts.withDefaults()

	tr, ok := r.destinations.Get(sess.DestinationID)
	if !ok {
		return fmt.Errorf("%w: %s", transport.ErrUnknownDestination, sess.DestinationID)
	}
	if src.Size() != sess.FileSize {
		return fmt.Errorf("file %s changed size: session has %d bytes; source has %d", sess.FileName, sess.FileSize, src.Size())
	}

	e := &entry{
		sess:    sess,
		tracker: progress.NewTracker(sess.ID, sess.FileName, sess.FileSize, sess.TotalChunks),
		source:  src,
		opts:    opts,
	}
	e.tracker.Restore(sess.NextChunk(), sess.UploadedBytes())

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	if _, ok := r.uploads[sess.ID]; ok {
		r.mu.Unlock()
		return fmt.Errorf("upload %s is already registered", sess.ID)
	}
	r.uploads[sess.ID] = e
	r.mu.Unlock()

	logger.Info("upload restored from checkpoint", "uploadId", sess.ID, "file", sess.FileName, "next_chunk", sess.NextChunk())
	r.startRun(e, tr, false)
	return nil
}

// Pause asks the in-flight chunk attempt (or retry wait) to stop and marks
// the upload paused. Acknowledged chunks are kept; Resume picks up at the
// next chunk.
func (r *Registry) Pause(id string) error {
	e, ok := r.lookup(id)
	if !ok {
		return ErrUploadNotFound
	}
	if st := e.tracker.Status(); st.Terminal() {
		return fmt.Errorf("%w: upload %s is %s", ErrInvalidState, id, st)
	}

	e.mu.Lock()
	if e.paused {
		e.mu.Unlock()
		return nil
	}
	e.paused = true
	cancel := e.cancel
	e.mu.Unlock()

	e.tracker.SetStatus(progress.StatusPaused)
	if cancel != nil {
		cancel()
	}
	return nil
}

// Resume restarts a paused upload from its next unacknowledged chunk. The
// caller supplies the byte source again; the registry does not hold file
// contents across a pause.
func (r *Registry) Resume(id string, src Source, opts Options) error {
	e, ok := r.lookup(id)
	if !ok {
		return ErrUploadNotFound
	}
	if src == nil {
		return fmt.Errorf("a byte source is required to resume upload %s", id)
	}
	if src.Size() != e.sess.FileSize {
		return fmt.Errorf("file %s changed size: session has %d bytes; source has %d", e.sess.FileName, e.sess.FileSize, src.Size())
	}

	// Wait out a run that is still unwinding from the pause signal, then
	// claim the paused entry.
	for {
		e.mu.Lock()
		if !e.paused || e.canceled {
			e.mu.Unlock()
			return fmt.Errorf("%w: upload %s is not paused", ErrInvalidState, id)
		}
		if e.cancel != nil {
			done := e.done
			e.mu.Unlock()
			<-done
			continue
		}
		e.paused = false
		e.source = src
		e.opts = opts.withDefaults()
		e.mu.Unlock()
		break
	}

	tr, ok := r.destinations.Get(e.sess.DestinationID)
	if !ok {
		return fmt.Errorf("%w: %s", transport.ErrUnknownDestination, e.sess.DestinationID)
	}

	logger.Info("upload resumed", "uploadId", id, "next_chunk", e.sess.NextChunk())
	r.startRun(e, tr, false)
	return nil
}

// Cancel forgets the upload. The in-flight attempt and any pending retry
// wait are cancelled, the checkpoint is dropped, and the remote session is
// aborted where the destination supports it. Cancelling an unknown id is a
// no-op.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	e, ok := r.uploads[id]
	if ok {
		delete(r.uploads, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	e.canceled = true
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		// The run goroutine observes the cancellation and cleans up.
		cancel()
		return nil
	}

	tr, _ := r.destinations.Get(e.sess.DestinationID)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.cleanupCanceled(e, tr)
	}()
	return nil
}

// Progress returns a point-in-time snapshot of one upload.
func (r *Registry) Progress(id string) (progress.Snapshot, error) {
	e, ok := r.lookup(id)
	if !ok {
		return progress.Snapshot{}, ErrUploadNotFound
	}
	return e.tracker.Snapshot(), nil
}

// AggregateProgress folds the uploads with the given ids into one view; ids
// the registry does not hold are skipped. A nil or empty id list aggregates
// every registered upload.
func (r *Registry) AggregateProgress(ids []string) progress.Aggregate {
	if len(ids) == 0 {
		return progress.Fold(r.Snapshots()...)
	}

	var snaps []progress.Snapshot
	for _, id := range ids {
		if e, ok := r.lookup(id); ok {
			snaps = append(snaps, e.tracker.Snapshot())
		}
	}
	return progress.Fold(snaps...)
}

// Snapshots returns every registered upload's progress, oldest first.
func (r *Registry) Snapshots() []progress.Snapshot {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.uploads))
	for _, e := range r.uploads {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	snaps := make([]progress.Snapshot, 0, len(entries))
	for _, e := range entries {
		snaps = append(snaps, e.tracker.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].StartTime.Equal(snaps[j].StartTime) {
			return snaps[i].ID < snaps[j].ID
		}
		return snaps[i].StartTime.Before(snaps[j].StartTime)
	})
	return snaps
}

// Close pauses every active upload, checkpointing their state, and waits for
// all upload goroutines to settle. Further submissions are rejected.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	ids := make([]string, 0, len(r.uploads))
	for id := range r.uploads {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		err := r.Pause(id)
		if err != nil && !errors.Is(err, ErrUploadNotFound) && !errors.Is(err, ErrInvalidState) {
			logger.Warn("failed to pause upload during shutdown", "uploadId", id, "error", err)
		}
	}
	r.wg.Wait()
	return nil
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.uploads[id]
	return e, ok
}
