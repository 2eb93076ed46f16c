// Package uploadlocker serializes ownership of an upload id, so two
// processes (or two goroutines resuming from the same checkpoint) never
// drive the same upload at once.
package uploadlocker

import (
	"context"
	"errors"
)

var ErrLockTimeout = errors.New("timed out waiting for the upload lock")

type Locker interface {
	NewLock(id string) (Lock, error)
}

type Lock interface {
	// Lock acquires exclusive ownership of the upload id.
	// releaseRequested fires when another holder wants the lock; the
	// owner should pause its upload and Unlock.
	Lock(ctx context.Context, releaseRequested func()) error
	Unlock() error
}
