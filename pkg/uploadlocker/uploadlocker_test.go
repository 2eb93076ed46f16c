package uploadlocker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/knowhubhq/knowledge-exchange/upload-client/pkg/uploadlocker"
)

func lockers(t *testing.T) map[string]uploadlocker.Locker {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	return map[string]uploadlocker.Locker{
		"memory": uploadlocker.NewMemoryLocker(),
		"redis":  uploadlocker.NewRedisLocker(rdb),
	}
}

func TestLockUnlock(t *testing.T) {
	for name, locker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()
			l, err := locker.NewLock("test")
			if err != nil {
				t.Error(err)
			}
			requestRelease := func() {
				t.Error("shouldn't have been called")
			}
			if err := l.Lock(ctx, requestRelease); err != nil {
				t.Error(err)
			}
			if err := l.Unlock(); err != nil {
				t.Error(err)
			}
			if err := l.Lock(ctx, requestRelease); err != nil {
				t.Error(err)
			}
			if err := l.Unlock(); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestMultipleLocks(t *testing.T) {
	for name, locker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()
			l, err := locker.NewLock("test")
			if err != nil {
				t.Error(err)
			}
			requestRelease := func() {
				t.Error("shouldn't have been called")
			}
			if err := l.Lock(ctx, requestRelease); err != nil {
				t.Error(err)
			}
			defer l.Unlock()
			otherL, err := locker.NewLock("testTwo")
			if err != nil {
				t.Error(err)
			}
			if err := otherL.Lock(ctx, requestRelease); err != nil {
				t.Error(err)
			}
			defer otherL.Unlock()
		})
	}
}

func TestContendedLockAsksHolderToRelease(t *testing.T) {
	for name, locker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			first, err := locker.NewLock("contended")
			if err != nil {
				t.Fatal(err)
			}

			var once sync.Once
			released := make(chan struct{})
			if err := first.Lock(ctx, func() {
				// The second locker wants in; step aside.
				once.Do(func() {
					first.Unlock()
					close(released)
				})
			}); err != nil {
				t.Fatal(err)
			}

			second, err := locker.NewLock("contended")
			if err != nil {
				t.Fatal(err)
			}
			if err := second.Lock(ctx, func() {}); err != nil {
				t.Fatalf("expected the second locker to win after release; got %v", err)
			}
			defer second.Unlock()

			select {
			case <-released:
			case <-time.After(5 * time.Second):
				t.Fatal("the holder was never asked to release")
			}
		})
	}
}

func TestLockTimesOutWhenHolderStays(t *testing.T) {
	for name, locker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			bg := context.Background()
			holdCtx, cancelHold := context.WithTimeout(bg, 5*time.Second)
			defer cancelHold()

			holder, err := locker.NewLock("stubborn")
			if err != nil {
				t.Fatal(err)
			}
			if err := holder.Lock(holdCtx, func() {}); err != nil {
				t.Fatal(err)
			}
			defer holder.Unlock()

			ctx, cancel := context.WithTimeout(bg, 700*time.Millisecond)
			defer cancel()
			rival, err := locker.NewLock("stubborn")
			if err != nil {
				t.Fatal(err)
			}
			if err := rival.Lock(ctx, func() {}); err != uploadlocker.ErrLockTimeout {
				t.Fatalf("expected ErrLockTimeout; got %v", err)
			}
		})
	}
}
