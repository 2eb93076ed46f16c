package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/session"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/transport"
	"github.com/knowhubhq/knowledge-exchange/upload-client/pkg/progress"
)

const alwaysFail = 1 << 30

// fakeTransport is an in-memory destination with per-chunk failure
// injection.
type fakeTransport struct {
	mu          sync.Mutex
	created     int
	finalized   int
	aborted     int
	attempts    map[int64]int
	chunks      map[int64][]byte
	failTimes   map[int64]int
	createErr   error
	finalizeErr error
	received    int64
	receivedErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		attempts:    map[int64]int{},
		chunks:      map[int64][]byte{},
		failTimes:   map[int64]int{},
		receivedErr: errors.New("reconcile not supported"),
	}
}

func (f *fakeTransport) CreateSession(ctx context.Context, sess *session.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created++
	sess.RemoteID = "remote-" + sess.ID
	return nil
}

func (f *fakeTransport) UploadChunk(ctx context.Context, sess *session.Session, index int64, r io.Reader, size int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.attempts[index]++
	if f.failTimes[index] > 0 {
		f.failTimes[index]--
		f.mu.Unlock()
		return "", fmt.Errorf("chunk %d refused", index)
	}
	f.mu.Unlock()

	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.chunks[index] = b
	f.mu.Unlock()
	return fmt.Sprintf("chunk-%d", index), nil
}

func (f *fakeTransport) FinalizeSession(ctx context.Context, sess *session.Session) (*transport.FinalizeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finalizeErr != nil {
		return nil, f.finalizeErr
	}
	f.finalized++
	return &transport.FinalizeResult{ID: "artifact-1", Location: "memory://artifact-1"}, nil
}

func (f *fakeTransport) ReceivedChunks(ctx context.Context, sess *session.Session) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.received, f.receivedErr
}

func (f *fakeTransport) AbortSession(ctx context.Context, sess *session.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted++
	return nil
}

func (f *fakeTransport) attemptsFor(index int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[index]
}

func (f *fakeTransport) counts() (created, finalized, aborted int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, f.finalized, f.aborted
}

func (f *fakeTransport) assembled() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []byte
	for i := int64(0); i < int64(len(f.chunks)); i++ {
		out = append(out, f.chunks[i]...)
	}
	return out
}

func newTestRegistry(fake *fakeTransport, opts ...RegistryOption) *Registry {
	return NewRegistry(transport.Destinations{"mem": fake}, opts...)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return b
}

func TestUploadCompletes(t *testing.T) {
	fake := newFakeTransport()
	r := newTestRegistry(fake)

	content := pattern(45)
	results := make(chan *transport.FinalizeResult, 1)
	var snaps []progress.Snapshot
	var mu sync.Mutex

	id, err := r.Submit(NewBytesSource("report.csv", content), "mem", Options{
		ChunkSize:  10,
		RetryDelay: time.Millisecond,
		OnProgress: func(snap progress.Snapshot) {
			mu.Lock()
			snaps = append(snaps, snap)
			mu.Unlock()
		},
		OnComplete: func(id string, result *transport.FinalizeResult) {
			results <- result
		},
	})
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	if id == "" {
		t.Fatal("expected an upload id")
	}

	var result *transport.FinalizeResult
	select {
	case result = <-results:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
	if result.ID != "artifact-1" {
		t.Fatalf("expected artifact-1; got %s", result.ID)
	}

	snap, err := r.Progress(id)
	if err != nil {
		t.Fatalf("expected progress for a completed upload; got %v", err)
	}
	if snap.Status != progress.StatusCompleted {
		t.Fatalf("expected status %s; got %s", progress.StatusCompleted, snap.Status)
	}
	if snap.Percent != 100 {
		t.Fatalf("expected 100 percent; got %f", snap.Percent)
	}
	if got := fake.assembled(); string(got) != string(content) {
		t.Fatalf("expected destination to hold the full file; got %d of %d bytes", len(got), len(content))
	}

	created, finalized, _ := fake.counts()
	if created != 1 || finalized != 1 {
		t.Fatalf("expected one create and one finalize; got %d and %d", created, finalized)
	}

	// Percent never decreases across callbacks.
	mu.Lock()
	defer mu.Unlock()
	last := float64(0)
	for _, s := range snaps {
		if s.Percent < last {
			t.Fatalf("percent decreased from %f to %f", last, s.Percent)
		}
		last = s.Percent
	}
}

func TestUploadRetriesTransientChunkFailures(t *testing.T) {
	fake := newFakeTransport()
	fake.failTimes[1] = 2
	r := newTestRegistry(fake)

	done := make(chan struct{}, 1)
	_, err := r.Submit(NewBytesSource("flaky.bin", pattern(30)), "mem", Options{
		ChunkSize:  10,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
		OnComplete: func(string, *transport.FinalizeResult) { done <- struct{}{} },
	})
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
	if got := fake.attemptsFor(1); got != 3 {
		t.Fatalf("expected 3 attempts for the flaky chunk; got %d", got)
	}
	if got := fake.attemptsFor(0); got != 1 {
		t.Fatalf("expected 1 attempt for a healthy chunk; got %d", got)
	}
}

func TestUploadFailsAfterRetryBudget(t *testing.T) {
	fake := newFakeTransport()
	fake.failTimes[2] = alwaysFail
	r := newTestRegistry(fake)

	errs := make(chan error, 1)
	id, err := r.Submit(NewBytesSource("doomed.bin", pattern(35)), "mem", Options{
		ChunkSize:  10,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		OnError:    func(_ string, err error) { errs <- err },
	})
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}

	var uploadErr error
	select {
	case uploadErr = <-errs:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the terminal error")
	}

	var chunkErr *ChunkError
	if !errors.As(uploadErr, &chunkErr) {
		t.Fatalf("expected a chunk error; got %v", uploadErr)
	}
	if chunkErr.Index != 2 {
		t.Fatalf("expected the error to name chunk 2; got %d", chunkErr.Index)
	}
	if got := fake.attemptsFor(2); got != 3 {
		t.Fatalf("expected maxRetries+1 attempts; got %d", got)
	}

	snap, err := r.Progress(id)
	if err != nil {
		t.Fatalf("expected the failed upload to stay registered; got %v", err)
	}
	if snap.Status != progress.StatusError {
		t.Fatalf("expected status %s; got %s", progress.StatusError, snap.Status)
	}
	if snap.Error == "" {
		t.Fatal("expected the snapshot to carry the failure")
	}
}

func TestInitializationFailureIsNotRetried(t *testing.T) {
	fake := newFakeTransport()
	fake.createErr = errors.New("backend rejected the session")
	r := newTestRegistry(fake)

	errs := make(chan error, 1)
	id, err := r.Submit(NewBytesSource("nope.bin", pattern(10)), "mem", Options{
		ChunkSize:  10,
		RetryDelay: time.Millisecond,
		OnError:    func(_ string, err error) { errs <- err },
	})
	if err != nil {
		t.Fatalf("expected submit to pass; got %v", err)
	}

	select {
	case err := <-errs:
		if err.Error() != "backend rejected the session" {
			t.Fatalf("expected the initialization error; got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the error")
	}
	if got := fake.attemptsFor(0); got != 0 {
		t.Fatalf("expected no chunk attempts after a failed init; got %d", got)
	}

	snap, _ := r.Progress(id)
	if snap.Status != progress.StatusError {
		t.Fatalf("expected status %s; got %s", progress.StatusError, snap.Status)
	}
}

func TestFinalizeFailureIsDistinct(t *testing.T) {
	fake := newFakeTransport()
	fake.finalizeErr = errors.New("assembly blew up")
	r := newTestRegistry(fake)

	errs := make(chan error, 1)
	_, err := r.Submit(NewBytesSource("assembled.bin", pattern(20)), "mem", Options{
		ChunkSize:  10,
		RetryDelay: time.Millisecond,
		OnError:    func(_ string, err error) { errs <- err },
	})
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}

	select {
	case err := <-errs:
		if !errors.Is(err, ErrFinalize) {
			t.Fatalf("expected a finalize error; got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the error")
	}
	// Every chunk made it before the finalize failed.
	if got := len(fake.assembled()); got != 20 {
		t.Fatalf("expected all bytes transferred; got %d", got)
	}
}

func TestZeroByteFileSkipsToFinalize(t *testing.T) {
	fake := newFakeTransport()
	r := newTestRegistry(fake)

	done := make(chan struct{}, 1)
	id, err := r.Submit(NewBytesSource("empty.bin", nil), "mem", Options{
		RetryDelay: time.Millisecond,
		OnComplete: func(string, *transport.FinalizeResult) { done <- struct{}{} },
	})
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	if got := fake.attemptsFor(0); got != 0 {
		t.Fatalf("expected no chunk uploads for an empty file; got %d", got)
	}
	_, finalized, _ := fake.counts()
	if finalized != 1 {
		t.Fatalf("expected one finalize; got %d", finalized)
	}
	snap, _ := r.Progress(id)
	if snap.Percent != 100 || snap.Status != progress.StatusCompleted {
		t.Fatalf("expected a completed upload at 100%%; got %s at %f", snap.Status, snap.Percent)
	}
}

func TestPauseAndResumeContinuesWhereItStopped(t *testing.T) {
	fake := newFakeTransport()
	r := newTestRegistry(fake)

	content := pattern(100)
	src := NewBytesSource("big.bin", content)

	var pauseOnce sync.Once
	id, err := r.Submit(src, "mem", Options{
		ChunkSize:  10,
		RetryDelay: time.Millisecond,
		OnProgress: func(snap progress.Snapshot) {
			if snap.UploadedChunks == 3 {
				pauseOnce.Do(func() {
					if err := r.Pause(snap.ID); err != nil {
						t.Errorf("expected pause to pass; got %v", err)
					}
				})
			}
		},
	})
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}

	waitFor(t, func() bool {
		snap, err := r.Progress(id)
		return err == nil && snap.Status == progress.StatusPaused
	}, "timed out waiting for the pause to land")

	snap, _ := r.Progress(id)
	if snap.UploadedChunks != 3 {
		t.Fatalf("expected 3 chunks acknowledged at pause; got %d", snap.UploadedChunks)
	}
	before := snap.Percent

	done := make(chan struct{}, 1)
	err = r.Resume(id, src, Options{
		RetryDelay: time.Millisecond,
		OnComplete: func(string, *transport.FinalizeResult) { done <- struct{}{} },
	})
	if err != nil {
		t.Fatalf("expected resume to pass; got %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion after resume")
	}

	for i := int64(0); i < 10; i++ {
		if got := fake.attemptsFor(i); got != 1 {
			t.Fatalf("expected exactly one upload of chunk %d; got %d", i, got)
		}
	}
	if got := fake.assembled(); string(got) != string(content) {
		t.Fatal("expected the destination to hold the full file after resume")
	}
	final, _ := r.Progress(id)
	if final.Percent < before {
		t.Fatalf("percent decreased across pause from %f to %f", before, final.Percent)
	}
}

func TestCancelForgetsUploadAndStopsRetryTimer(t *testing.T) {
	fake := newFakeTransport()
	fake.failTimes[1] = alwaysFail
	r := newTestRegistry(fake)

	id, err := r.Submit(NewBytesSource("hung.bin", pattern(30)), "mem", Options{
		ChunkSize:  10,
		MaxRetries: 5,
		RetryDelay: time.Hour, // park the upload in a retry wait
	})
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}

	waitFor(t, func() bool { return fake.attemptsFor(1) >= 1 }, "timed out waiting for the first failure")

	if err := r.Cancel(id); err != nil {
		t.Fatalf("expected cancel to pass; got %v", err)
	}
	if _, err := r.Progress(id); !errors.Is(err, ErrUploadNotFound) {
		t.Fatalf("expected not found after cancel; got %v", err)
	}
	// Idempotent for unknown ids.
	if err := r.Cancel(id); err != nil {
		t.Fatalf("expected cancelling twice to pass; got %v", err)
	}

	waitFor(t, func() bool {
		_, _, aborted := fake.counts()
		return aborted == 1
	}, "timed out waiting for the remote abort")

	attempts := fake.attemptsFor(1)
	time.Sleep(50 * time.Millisecond)
	if got := fake.attemptsFor(1); got != attempts {
		t.Fatalf("a retry fired after cancel: %d then %d attempts", attempts, got)
	}
}

func TestRestoreSkipsStraightToFinalizeWhenAllChunksAcked(t *testing.T) {
	fake := newFakeTransport()
	fake.received = 3
	fake.receivedErr = nil
	r := newTestRegistry(fake)

	content := pattern(30)
	sess, err := session.New("done.bin", 30, 10, "mem")
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	sess.RemoteID = "remote-restored"
	for i := 0; i < 3; i++ {
		sess.Ack(fmt.Sprintf("chunk-%d", i))
	}

	done := make(chan struct{}, 1)
	err = r.Restore(sess, NewBytesSource("done.bin", content), Options{
		RetryDelay: time.Millisecond,
		OnComplete: func(string, *transport.FinalizeResult) { done <- struct{}{} },
	})
	if err != nil {
		t.Fatalf("expected restore to pass; got %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	for i := int64(0); i < 3; i++ {
		if got := fake.attemptsFor(i); got != 0 {
			t.Fatalf("expected no re-upload of chunk %d; got %d attempts", i, got)
		}
	}
	created, finalized, _ := fake.counts()
	if created != 0 || finalized != 1 {
		t.Fatalf("expected no create and one finalize; got %d and %d", created, finalized)
	}
}

func TestRestoreRewindsWhenDestinationHoldsFewerChunks(t *testing.T) {
	fake := newFakeTransport()
	fake.received = 3
	fake.receivedErr = nil
	r := newTestRegistry(fake)

	content := pattern(100)
	sess, err := session.New("rewound.bin", 100, 10, "mem")
	if err != nil {
		t.Fatalf("expected no error; got %v", err)
	}
	sess.RemoteID = "remote-rewound"
	for i := 0; i < 5; i++ {
		sess.Ack(fmt.Sprintf("chunk-%d", i))
	}

	done := make(chan struct{}, 1)
	err = r.Restore(sess, NewBytesSource("rewound.bin", content), Options{
		RetryDelay: time.Millisecond,
		OnComplete: func(string, *transport.FinalizeResult) { done <- struct{}{} },
	})
	if err != nil {
		t.Fatalf("expected restore to pass; got %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	// The destination only acknowledged 3 chunks, so 3..9 are re-sent.
	for i := int64(0); i < 3; i++ {
		if got := fake.attemptsFor(i); got != 0 {
			t.Fatalf("expected chunk %d to be trusted; got %d attempts", i, got)
		}
	}
	for i := int64(3); i < 10; i++ {
		if got := fake.attemptsFor(i); got != 1 {
			t.Fatalf("expected chunk %d to be re-sent once; got %d attempts", i, got)
		}
	}
}
