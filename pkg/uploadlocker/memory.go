package uploadlocker

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker guards upload ids within one process. It is the default
// when no redis connection is configured.
type MemoryLocker struct {
	mu      sync.Mutex
	holders map[string]*memoryLock
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{holders: map[string]*memoryLock{}}
}

func (ml *MemoryLocker) NewLock(id string) (Lock, error) {
	return &memoryLock{id: id, locker: ml}, nil
}

type memoryLock struct {
	id               string
	locker           *MemoryLocker
	releaseRequested func()
}

func (l *memoryLock) Lock(ctx context.Context, releaseRequested func()) error {
	l.releaseRequested = releaseRequested
	for {
		l.locker.mu.Lock()
		holder, held := l.locker.holders[l.id]
		if !held {
			l.locker.holders[l.id] = l
			l.locker.mu.Unlock()
			return nil
		}
		ask := holder.releaseRequested
		l.locker.mu.Unlock()

		// Ask the current owner to wind down, then try again.
		if ask != nil {
			ask()
		}
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return ErrLockTimeout
		}
	}
}

func (l *memoryLock) Unlock() error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if l.locker.holders[l.id] == l {
		delete(l.locker.holders, l.id)
	}
	return nil
}
