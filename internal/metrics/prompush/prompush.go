// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// Ingestion runs are batch jobs, so collectors live in a private registry
// that is pushed to the gateway on Flush instead of being scraped.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"mdingest/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string
	jobName    string
	reg        *prometheus.Registry

	files        *prometheus.CounterVec // mdingest_files_total{status}
	rows         *prometheus.CounterVec // mdingest_rows_total{kind}
	partitions   *prometheus.CounterVec // mdingest_partitions_created_total{table}
	fileDuration *prometheus.HistogramVec
}

// NewBackend constructs a Pushgateway backend. jobName is the Pushgateway
// grouping job and defaults to "mdingest".
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "mdingest"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.FilesTotal,
			Help: "Source files processed, by outcome.",
		}, []string{"status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Rows written, rejected by normalization, or skipped as conflicts.",
		}, []string{"kind"}),
		partitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.PartitionsCreatedTotal,
			Help: "Monthly partitions created by this run.",
		}, []string{"table"}),
		fileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.FileDurationSeconds,
			Help:    "Time to ingest one file, by outcome.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"status"}),
	}

	for _, c := range []prometheus.Collector{b.files, b.rows, b.partitions, b.fileDuration} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register: %w", err)
		}
	}
	return b, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	var vec *prometheus.CounterVec
	var label string
	switch name {
	case metrics.FilesTotal:
		vec, label = b.files, labels["status"]
	case metrics.RowsTotal:
		vec, label = b.rows, labels["kind"]
	case metrics.PartitionsCreatedTotal:
		vec, label = b.partitions, labels["table"]
	}
	if vec == nil {
		return
	}
	vec.WithLabelValues(label).Add(delta)
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.FileDurationSeconds || b.fileDuration == nil {
		return
	}
	b.fileDuration.WithLabelValues(labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
