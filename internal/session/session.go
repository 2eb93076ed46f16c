// Package session holds the durable record of one chunked upload: what is
// being sent where, and which chunks the backend has acknowledged. The
// record round-trips through JSON so checkpoints can outlive the process.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/knowhubhq/knowledge-exchange/upload-client/pkg/chunker"
)

type Session struct {
	ID            string `json:"id"`
	FileName      string `json:"file_name"`
	FileSize      int64  `json:"file_size"`
	ChunkSize     int64  `json:"chunk_size"`
	TotalChunks   int64  `json:"total_chunks"`
	DestinationID string `json:"destination_id"`

	// UploadedChunks holds, in chunk order, the identifier the transport
	// returned for each acknowledged chunk (an ETag, an offset, ...).
	// Its length is the index of the next chunk to send.
	UploadedChunks []string `json:"uploaded_chunks"`

	// RemoteID is the backend's handle for this session when the
	// transport assigns its own (S3 upload id, tus upload URL).
	RemoteID string `json:"remote_id,omitempty"`

	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func New(fileName string, fileSize int64, chunkSize int64, destinationID string) (*Session, error) {
	plan, err := chunker.New(fileSize, chunkSize)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:             uuid.NewString(),
		FileName:       fileName,
		FileSize:       fileSize,
		ChunkSize:      chunkSize,
		TotalChunks:    plan.Count(),
		DestinationID:  destinationID,
		UploadedChunks: []string{},
		CreatedAt:      time.Now().UTC(),
	}, nil
}

func (s *Session) Plan() chunker.Plan {
	return chunker.Plan{FileSize: s.FileSize, ChunkSize: s.ChunkSize}
}

// NextChunk is the index of the first chunk the backend has not
// acknowledged.
func (s *Session) NextChunk() int64 {
	return int64(len(s.UploadedChunks))
}

func (s *Session) Complete() bool {
	return s.NextChunk() >= s.TotalChunks
}

// UploadedBytes derives the byte count from the acknowledged chunk count.
func (s *Session) UploadedBytes() int64 {
	bytes := s.NextChunk() * s.ChunkSize
	if bytes > s.FileSize {
		bytes = s.FileSize
	}
	return bytes
}

// Ack records the identifier the transport returned for the next chunk.
func (s *Session) Ack(chunkID string) {
	s.UploadedChunks = append(s.UploadedChunks, chunkID)
}

// Truncate drops acknowledgements past n, for reconciling with a backend
// that reports fewer received chunks than we recorded.
func (s *Session) Truncate(n int64) {
	if n < 0 {
		n = 0
	}
	if n < int64(len(s.UploadedChunks)) {
		s.UploadedChunks = s.UploadedChunks[:n]
	}
}
