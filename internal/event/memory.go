package event

import (
	"context"
	"sync/atomic"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/models"
)

// MemoryBus is the in-process publisher/subscriber pair used by default
// and in tests. Publish never blocks the upload path.
type MemoryBus[T Identifiable] struct {
	Chan   chan T
	closed atomic.Bool
}

func NewMemoryBus[T Identifiable]() *MemoryBus[T] {
	return &MemoryBus[T]{Chan: make(chan T)}
}

func (ms *MemoryBus[T]) Listen(ctx context.Context, process func(context.Context, T) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-ms.Chan:
			if err := process(ctx, evt); err != nil {
				logger.Error("failed to handle event", "event", evt, "error", err.Error())
				if evt.RetryCount() < MaxRetries {
					evt.IncrementRetryCount()
					// Retrying in a separate go routine so this doesn't block on channel write.
					go func() {
						ms.Chan <- evt
					}()
				}
			}
		}
	}
}

// Close stops accepting events. The channel stays open so in-flight
// republish goroutines never panic; Listen drains until its context ends.
func (ms *MemoryBus[T]) Close() error {
	ms.closed.Store(true)
	return nil
}

func (ms *MemoryBus[T]) Publish(_ context.Context, event T) error {
	if ms.Chan != nil && !ms.closed.Load() {
		go func() {
			ms.Chan <- event
		}()
	}
	return nil
}

func (ms *MemoryBus[T]) Health(_ context.Context) (rsp models.ServiceHealthResp) {
	rsp.Service = "Memory Bus"
	rsp.Status = models.STATUS_UP
	rsp.HealthIssue = models.HEALTH_ISSUE_NONE
	if ms.closed.Load() {
		rsp.Status = models.STATUS_DOWN
		rsp.HealthIssue = "bus closed"
	}
	return rsp
}
