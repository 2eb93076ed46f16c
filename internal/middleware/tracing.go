// Package middleware carries the HTTP middleware of the status server:
// OTel spans per route, and upload-derived trace ids so the status requests
// for an upload land in the same trace as its lifecycle events.
package middleware

import (
	"context"
	"crypto/md5"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

type key int

var UploadID key

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		otelhttp.NewMiddleware(fmt.Sprintf("%s %s", r.Method, r.URL.Path))(next).ServeHTTP(rw, r)
	})
}

// AddUploadIDContext derives a deterministic trace id from the upload id in
// the request path. Both /status/{id} and /status/{id}/watch carry one.
func AddUploadIDContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		suffix := filepath.Base(path)
		if err := uuid.Validate(suffix); err != nil {
			// the watch route keeps the id one segment up
			suffix = filepath.Base(filepath.Dir(path))
		}
		if err := uuid.Validate(suffix); err == nil {
			ctx := r.Context()
			id := trace.TraceID(md5.Sum([]byte(suffix)))
			slog.Info("tracing upload", "upload_id", suffix, "trace_id", id.String())
			r = r.WithContext(context.WithValue(ctx, UploadID, id))
		}
		next.ServeHTTP(rw, r)
	})
}
