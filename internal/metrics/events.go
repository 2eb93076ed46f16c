package metrics

import "github.com/prometheus/client_golang/prometheus"

var EventsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "upload_client_events_total",
	Help: "Lifecycle events handed to publishers, partitioned by event type and result",
}, []string{"type", "op"})

const (
	EventPublished     = "published"
	EventPublishFailed = "failed"
)
