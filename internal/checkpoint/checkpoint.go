// Package checkpoint persists upload sessions between chunks so an upload
// can resume after a pause, a crash, or a process restart.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/models"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/session"
	"github.com/knowhubhq/knowledge-exchange/upload-client/pkg/sloger"
)

var logger *slog.Logger

func init() {
	type Empty struct{}
	pkgParts := strings.Split(reflect.TypeOf(Empty{}).PkgPath(), "/")
	// add package name to app logger
	logger = sloger.With("pkg", pkgParts[len(pkgParts)-1])
}

var ErrNotFound = errors.New("checkpoint not found")

type Store interface {
	Save(ctx context.Context, s *session.Session) error
	Load(ctx context.Context, id string) (*session.Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*session.Session, error)
}

// MemoryStore keeps checkpoints for the lifetime of the process. Sessions
// are stored marshaled so callers never share mutable state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string][]byte{}}
}

func (ms *MemoryStore) Save(_ context.Context, s *session.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.sessions[s.ID] = raw
	return nil
}

func (ms *MemoryStore) Load(_ context.Context, id string) (*session.Session, error) {
	ms.mu.RLock()
	raw, ok := ms.sessions[id]
	ms.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var s session.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (ms *MemoryStore) Delete(_ context.Context, id string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.sessions, id)
	return nil
}

func (ms *MemoryStore) List(_ context.Context) ([]*session.Session, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	sessions := make([]*session.Session, 0, len(ms.sessions))
	for _, raw := range ms.sessions {
		var s session.Session
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		sessions = append(sessions, &s)
	}
	return sessions, nil
}

func (ms *MemoryStore) Health(_ context.Context) (rsp models.ServiceHealthResp) {
	rsp.Service = "Memory Checkpoint Store"
	rsp.Status = models.STATUS_UP
	rsp.HealthIssue = models.HEALTH_ISSUE_NONE
	return rsp
}
