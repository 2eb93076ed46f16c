package event

const (
	UploadStartedEventType   = "UploadStarted"
	UploadCompletedEventType = "UploadCompleted"
	UploadFailedEventType    = "UploadFailed"
)

var MaxRetries = 5

type Retryable interface {
	RetryCount() int
	IncrementRetryCount()
}

type Identifiable interface {
	Retryable
	Identifier() string
	GetUploadID() string
	Type() string
	SetIdentifier(id string)
	SetType(t string)
}

type Event struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	RetryCount int    `json:"retry_count"`
}

// UploadLifecycle announces that an upload started, completed, or failed.
// Downstream services (indexing, notifications) subscribe to these instead
// of polling the client.
type UploadLifecycle struct {
	Event
	UploadID      string `json:"upload_id"`
	FileName      string `json:"file_name"`
	DestinationID string `json:"destination_id"`
	FileSize      int64  `json:"file_size"`
	UploadedBytes int64  `json:"uploaded_bytes"`
	Error         string `json:"error,omitempty"`
}

func (ul *UploadLifecycle) RetryCount() int {
	return ul.Event.RetryCount
}

func (ul *UploadLifecycle) IncrementRetryCount() {
	ul.Event.RetryCount++
}

func (ul *UploadLifecycle) Type() string {
	return ul.Event.Type
}

func (ul *UploadLifecycle) SetIdentifier(id string) {
	ul.ID = id
}

func (ul *UploadLifecycle) SetType(t string) {
	ul.Event.Type = t
}

func (ul *UploadLifecycle) Identifier() string {
	if ul.ID != "" {
		return ul.ID
	}
	return ul.UploadID + TypeSeparator + ul.DestinationID
}

func (ul *UploadLifecycle) GetUploadID() string {
	return ul.UploadID
}

func NewUploadStarted(uploadID string, fileName string, destinationID string, fileSize int64) *UploadLifecycle {
	return &UploadLifecycle{
		Event:         Event{Type: UploadStartedEventType},
		UploadID:      uploadID,
		FileName:      fileName,
		DestinationID: destinationID,
		FileSize:      fileSize,
	}
}

func NewUploadCompleted(uploadID string, fileName string, destinationID string, fileSize int64) *UploadLifecycle {
	return &UploadLifecycle{
		Event:         Event{Type: UploadCompletedEventType},
		UploadID:      uploadID,
		FileName:      fileName,
		DestinationID: destinationID,
		FileSize:      fileSize,
		UploadedBytes: fileSize,
	}
}

func NewUploadFailed(uploadID string, fileName string, destinationID string, uploadedBytes int64, err error) *UploadLifecycle {
	e := &UploadLifecycle{
		Event:         Event{Type: UploadFailedEventType},
		UploadID:      uploadID,
		FileName:      fileName,
		DestinationID: destinationID,
		UploadedBytes: uploadedBytes,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
