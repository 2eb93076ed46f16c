package cli

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/metrics"
) // .import

func setupMetrics(m ...prometheus.Collector) error {
	if err := metrics.RegisterMetrics(); err != nil {
		return err
	}
	if len(m) > 0 {
		return metrics.RegisterMetrics(m...)
	}
	return nil
} // setupMetrics
