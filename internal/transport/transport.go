// Package transport holds the client-side protocols for moving file chunks
// to a destination. Every destination speaks through the same Transport
// interface so the upload coordinator stays protocol-agnostic.
package transport

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"strings"

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

// FinalizeResult is what a destination reports once an upload is assembled.
type FinalizeResult struct {
	ID       string `json:"id"`
	Location string `json:"location"`
}

// Transport is the contract every destination protocol implements. Chunk
// uploads must be idempotent per (session, index) so a retried or replayed
// chunk never corrupts the remote file.
type Transport interface {
	CreateSession(ctx context.Context, sess *session.Session) error
	UploadChunk(ctx context.Context, sess *session.Session, index int64, r io.Reader, size int64) (chunkID string, err error)
	FinalizeSession(ctx context.Context, sess *session.Session) (*FinalizeResult, error)
}

// Reconciler is implemented by transports that can report how many chunks the
// destination already holds. Used when resuming to trust the server over a
// possibly stale local checkpoint.
type Reconciler interface {
	ReceivedChunks(ctx context.Context, sess *session.Session) (int64, error)
}

// Aborter is implemented by transports that can tear down a partial upload on
// the destination when the client cancels.
type Aborter interface {
	AbortSession(ctx context.Context, sess *session.Session) error
}
