package event

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/health"
	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/metrics"
	"github.com/knowhubhq/knowledge-exchange/upload-client/pkg/sloger"
)

var logger *slog.Logger

func init() {
	type Empty struct{}
	pkgParts := strings.Split(reflect.TypeOf(Empty{}).PkgPath(), "/")
	// add package name to app logger
	logger = sloger.With("pkg", pkgParts[len(pkgParts)-1])
}

type Publisher[T Identifiable] interface {
	health.Checkable
	io.Closer
	Publish(ctx context.Context, event T) error
}

// Publishers fans one event out to every configured publisher. A failing
// publisher never blocks the others; failures are joined.
type Publishers[T Identifiable] struct {
	pubs []Publisher[T]
}

func NewPublishers[T Identifiable](pubs ...Publisher[T]) *Publishers[T] {
	return &Publishers[T]{pubs: pubs}
}

func (p *Publishers[T]) Publish(ctx context.Context, event T) error {
	var errs []error
	for _, pub := range p.pubs {
		if err := pub.Publish(ctx, event); err != nil {
			logger.Error("failed to publish event", "type", event.Type(), "uploadId", event.GetUploadID(), "error", err.Error())
			metrics.EventsCounter.WithLabelValues(event.Type(), metrics.EventPublishFailed).Inc()
			errs = append(errs, err)
			continue
		}
		metrics.EventsCounter.WithLabelValues(event.Type(), metrics.EventPublished).Inc()
	}
	return errors.Join(errs...)
}

func (p *Publishers[T]) Close() error {
	var errs []error
	for _, pub := range p.pubs {
		if err := pub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
