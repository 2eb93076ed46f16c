// Package progress tracks the observable state of uploads: per-file
// snapshots pushed to callbacks and served over the status endpoints, plus
// the aggregate view across files.
package progress

import (
	"sync"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusUploading  Status = "uploading"
	StatusPaused     Status = "paused"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Snapshot is one upload's progress at a point in time. Rate and remaining
// time are computed when a chunk lands, so they hold steady while an upload
// is paused or finished rather than decaying with the wall clock.
type Snapshot struct {
	ID               string    `json:"id"`
	FileName         string    `json:"file_name"`
	FileSize         int64     `json:"file_size"`
	Status           Status    `json:"status"`
	UploadedBytes    int64     `json:"uploaded_bytes"`
	UploadedChunks   int64     `json:"uploaded_chunks"`
	TotalChunks      int64     `json:"total_chunks"`
	Percent          float64   `json:"percent"`
	BytesPerSecond   float64   `json:"bytes_per_second"`
	SecondsRemaining *float64  `json:"seconds_remaining,omitempty"`
	StartTime        time.Time `json:"start_time"`
	LastChunkTime    time.Time `json:"last_chunk_time"`
	Error            string    `json:"error,omitempty"`
}

// Tracker owns the mutable progress state for one upload. All methods are
// safe for concurrent use; the coordinator writes, anyone may read.
type Tracker struct {
	mu   sync.Mutex
	snap Snapshot
	now  func() time.Time
}

func NewTracker(id string, fileName string, fileSize int64, totalChunks int64) *Tracker {
	t := &Tracker{now: time.Now}
	t.snap = Snapshot{
		ID:          id,
		FileName:    fileName,
		FileSize:    fileSize,
		TotalChunks: totalChunks,
		Status:      StatusPending,
		StartTime:   t.now(),
	}
	if fileSize == 0 {
		// Nothing to transfer; the upload is all finalization.
		t.snap.Percent = 100
	}
	return t
}

func (t *Tracker) SetStatus(s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Status = s
	if s != StatusError {
		t.snap.Error = ""
	}
}

// RecordChunk accounts for chunk having landed, given the total number of
// acknowledged chunks and bytes so far. Percent never decreases.
func (t *Tracker) RecordChunk(uploadedChunks int64, uploadedBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.snap.UploadedChunks = uploadedChunks
	t.snap.UploadedBytes = uploadedBytes
	t.snap.LastChunkTime = now
	t.snap.Percent = t.percentLocked(uploadedBytes)

	elapsed := now.Sub(t.snap.StartTime).Seconds()
	if elapsed > 0 {
		t.snap.BytesPerSecond = float64(uploadedBytes) / elapsed
	}
	if t.snap.BytesPerSecond > 0 {
		remaining := float64(t.snap.FileSize-uploadedBytes) / t.snap.BytesPerSecond
		t.snap.SecondsRemaining = &remaining
	} else {
		t.snap.SecondsRemaining = nil
	}
}

// Restore seeds the counters from a checkpoint without inventing a rate;
// the clock starts fresh with the new process.
func (t *Tracker) Restore(uploadedChunks int64, uploadedBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.UploadedChunks = uploadedChunks
	t.snap.UploadedBytes = uploadedBytes
	t.snap.Percent = t.percentLocked(uploadedBytes)
}

func (t *Tracker) percentLocked(uploadedBytes int64) float64 {
	if t.snap.FileSize == 0 {
		return 100
	}
	percent := float64(uploadedBytes) / float64(t.snap.FileSize) * 100
	if percent < t.snap.Percent {
		return t.snap.Percent
	}
	return percent
}

// Fail marks the upload failed with the terminal error.
func (t *Tracker) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Status = StatusError
	if err != nil {
		t.snap.Error = err.Error()
	}
}

func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.Status
}

// Snapshot returns a copy safe to hand to callers.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.snap
	if t.snap.SecondsRemaining != nil {
		remaining := *t.snap.SecondsRemaining
		snap.SecondsRemaining = &remaining
	}
	return snap
}
