package uploader

import (
	"errors"
	"fmt"
)

var (
	// ErrUploadNotFound is returned for operations on an id the registry
	// does not hold, including ids the caller already cancelled.
	ErrUploadNotFound = errors.New("upload not found")

	// ErrInvalidState is returned when an operation does not apply to the
	// upload's current status, such as resuming an upload that is not
	// paused.
	ErrInvalidState = errors.New("invalid upload state")

	// ErrRegistryClosed is returned once the registry has begun shutting
	// down.
	ErrRegistryClosed = errors.New("upload registry closed")

	// ErrFinalize marks a failure after every chunk was acknowledged. The
	// bytes are all on the server; callers can resume to retry just the
	// finalize step instead of re-uploading.
	ErrFinalize = errors.New("failed to finalize upload")
)

// ChunkError is the terminal failure of one chunk after the retry budget is
// spent.
type ChunkError struct {
	Index int64
	Err   error
}

func (ce *ChunkError) Error() string {
	return fmt.Sprintf("failed to upload chunk %d: %v", ce.Index, ce.Err)
}

func (ce *ChunkError) Unwrap() error {
	return ce.Err
}
