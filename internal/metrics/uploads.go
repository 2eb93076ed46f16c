package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var ActiveUploads = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "upload_client_active_uploads",
	Help: "Current number of uploads being driven by this process",
}) // .ActiveUploads

var UploadOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "upload_client_uploads_total",
	Help: "Uploads finished, partitioned by destination and outcome",
}, []string{"destination", "outcome"})

var ChunkRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "upload_client_chunk_retries_total",
	Help: "Chunk upload attempts that failed and were retried, partitioned by destination",
}, []string{"destination"})

var UploadedBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "upload_client_uploaded_bytes_total",
	Help: "Bytes acknowledged by the backend, partitioned by destination",
}, []string{"destination"})

var UploadSpeeds = prometheus.NewHistogram(prometheus.HistogramOpts{
	Name:    "upload_client_upload_speed_bytes_per_second",
	Help:    "Average upload speed observed at completion",
	Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
})

const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

var DefaultMetrics = []prometheus.Collector{
	ActiveUploads,
	UploadOutcomes,
	ChunkRetries,
	UploadedBytes,
	UploadSpeeds,
	EventsCounter,
	OpenConnections,
	HttpReqs,
}

func RegisterMetrics(metrics ...prometheus.Collector) error {
	if metrics == nil {
		metrics = DefaultMetrics
	}
	for _, m := range metrics {
		if err := prometheus.Register(m); err != nil {
			return err
		}
	}
	return nil
}
