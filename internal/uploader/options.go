package uploader

import (
	"time"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/transport"
	"github.com/knowhubhq/knowledge-exchange/upload-client/pkg/progress"
)

const (
	DefaultChunkSize  int64 = 1024 * 1024
	DefaultMaxRetries       = 3
	DefaultRetryDelay       = time.Second
)

// Options tunes one upload. The zero value selects the defaults.
//
// Callbacks are invoked on the upload's own goroutine; implementations that
// call back into the registry should do so from a new goroutine.
type Options struct {
	// ChunkSize is the fixed size of every chunk but the last. It is bound
	// to the session at submit time and ignored on resume.
	ChunkSize int64
	// MaxRetries bounds the retries per chunk after its first attempt.
	// Zero selects the default; negative disables retries.
	MaxRetries int
	// RetryDelay is the wait before a chunk's first retry; the wait doubles
	// per retry. Zero selects the default; negative means no wait.
	RetryDelay time.Duration
	// Metadata travels with the session and is stored with the artifact
	// where the destination supports it.
	Metadata map[string]string

	OnProgress func(snap progress.Snapshot)
	OnComplete func(id string, result *transport.FinalizeResult)
	OnError    func(id string, err error)
}

func (o Options) withDefaults() Options {
	if o.ChunkSize == 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	} else if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = DefaultRetryDelay
	} else if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	return o
}
