package event

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/models"
)

const TypeSeparator = "_"

// FilePublisher appends events as JSON lines under Dir, one file per
// upload and event type. Good for local runs and for test assertions.
type FilePublisher[T Identifiable] struct {
	Dir string
}

func (fp *FilePublisher[T]) Publish(_ context.Context, event T) error {
	err := os.MkdirAll(fp.Dir, 0750)
	if err != nil && !os.IsExist(err) {
		return err
	}

	filename := filepath.Join(fp.Dir, event.Identifier()+TypeSeparator+event.Type())
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	// write event to file.
	encoder := json.NewEncoder(f)
	return encoder.Encode(event)
}

func (fp *FilePublisher[T]) Close() error {
	return nil
}

func (fp *FilePublisher[T]) Health(_ context.Context) (rsp models.ServiceHealthResp) {
	rsp.Service = "File Event Publisher"
	rsp.Status = models.STATUS_UP
	rsp.HealthIssue = models.HEALTH_ISSUE_NONE

	if err := os.MkdirAll(fp.Dir, 0750); err != nil && !os.IsExist(err) {
		return rsp.BuildErrorResponse(err)
	}
	return rsp
}
