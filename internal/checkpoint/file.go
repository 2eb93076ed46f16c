package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/models"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/session"
)

// FileStore writes one JSON file per session under Dir, so a plain CLI run
// can resume uploads without any external service.
type FileStore struct {
	Dir string
}

func (f *FileStore) path(id string) string {
	return filepath.Join(f.Dir, id+".json")
}

func (f *FileStore) Save(_ context.Context, s *session.Session) error {
	if err := os.MkdirAll(f.Dir, 0750); err != nil && !os.IsExist(err) {
		return err
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(f.path(s.ID), raw, 0644)
}

func (f *FileStore) Load(_ context.Context, id string) (*session.Session, error) {
	raw, err := os.ReadFile(f.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var s session.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (f *FileStore) Delete(_ context.Context, id string) error {
	if err := os.Remove(f.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (f *FileStore) List(_ context.Context) ([]*session.Session, error) {
	entries, err := os.ReadDir(f.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var sessions []*session.Session
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(f.Dir, entry.Name()))
		if err != nil {
			logger.Error("skipping unreadable checkpoint", "file", entry.Name(), "error", err.Error())
			continue
		}
		var s session.Session
		if err := json.Unmarshal(raw, &s); err != nil {
			logger.Error("skipping corrupt checkpoint", "file", entry.Name(), "error", err.Error())
			continue
		}
		sessions = append(sessions, &s)
	}
	return sessions, nil
}

func (f *FileStore) Health(_ context.Context) (rsp models.ServiceHealthResp) {
	rsp.Service = "File Checkpoint Store"
	rsp.Status = models.STATUS_UP
	rsp.HealthIssue = models.HEALTH_ISSUE_NONE
	if err := os.MkdirAll(f.Dir, 0750); err != nil && !os.IsExist(err) {
		return rsp.BuildErrorResponse(err)
	}
	return rsp
}
