package checkpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/session"
)

func newSession(t *testing.T) *session.Session {
	t.Helper()
	s, err := session.New("archive.tar", 2048, 512, "backups")
	if err != nil {
		t.Fatalf("expected session; got %v", err)
	}
	s.Ack("etag-0")
	s.Ack("etag-1")
	return s
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   &FileStore{Dir: t.TempDir()},
		"redis":  &RedisStore{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()})},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := newSession(t)
			if err := store.Save(ctx, s); err != nil {
				t.Fatalf("expected save to succeed; got %v", err)
			}

			restored, err := store.Load(ctx, s.ID)
			if err != nil {
				t.Fatalf("expected load to succeed; got %v", err)
			}
			if restored.NextChunk() != 2 {
				t.Fatalf("expected restored session at chunk 2; got %d", restored.NextChunk())
			}
			if restored.FileName != "archive.tar" || restored.DestinationID != "backups" {
				t.Fatalf("restored session lost fields: %+v", restored)
			}

			// Mutating the restored copy must not touch the stored one.
			restored.Ack("etag-2")
			again, err := store.Load(ctx, s.ID)
			if err != nil {
				t.Fatalf("expected reload to succeed; got %v", err)
			}
			if again.NextChunk() != 2 {
				t.Fatalf("store leaked shared state; got chunk %d", again.NextChunk())
			}
		})
	}
}

func TestStoreLoadMissing(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Load(ctx, "no-such-id"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound; got %v", err)
			}
		})
	}
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := newSession(t)
			if err := store.Save(ctx, s); err != nil {
				t.Fatalf("expected save to succeed; got %v", err)
			}
			if err := store.Delete(ctx, s.ID); err != nil {
				t.Fatalf("expected delete to succeed; got %v", err)
			}
			if _, err := store.Load(ctx, s.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after delete; got %v", err)
			}
			// Deleting twice stays quiet.
			if err := store.Delete(ctx, s.ID); err != nil {
				t.Fatalf("expected second delete to be a no-op; got %v", err)
			}
		})
	}
}

func TestStoreList(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			first := newSession(t)
			second := newSession(t)
			for _, s := range []*session.Session{first, second} {
				if err := store.Save(ctx, s); err != nil {
					t.Fatalf("expected save to succeed; got %v", err)
				}
			}

			sessions, err := store.List(ctx)
			if err != nil {
				t.Fatalf("expected list to succeed; got %v", err)
			}
			if len(sessions) != 2 {
				t.Fatalf("expected 2 checkpoints; got %d", len(sessions))
			}
		})
	}
}

func TestFileStoreListEmptyDir(t *testing.T) {
	store := &FileStore{Dir: t.TempDir() + "/never-created"}
	sessions, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("expected a missing dir to list as empty; got %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no checkpoints; got %d", len(sessions))
	}
}
