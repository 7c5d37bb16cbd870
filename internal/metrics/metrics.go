// Package metrics records ingestion metrics through a pluggable backend.
//
// The default backend is a no-op, so every helper is safe to call when no
// metrics system is configured. Concrete backends (Prometheus Pushgateway,
// DogStatsD) live in subpackages and are installed once with SetBackend.
package metrics

import (
	"sync"
	"time"
)

// Metric names.
const (
	FilesTotal             = "mdingest_files_total"
	RowsTotal              = "mdingest_rows_total"
	PartitionsCreatedTotal = "mdingest_partitions_created_total"
	FileDurationSeconds    = "mdingest_file_duration_seconds"
)

// Row kinds for RowsTotal.
const (
	RowsWritten  = "written"
	RowsRejected = "rejected"
	RowsSkipped  = "skipped"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs a concrete backend. Passing nil keeps the existing one.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error { return current().Flush() }

// RecordFile counts one processed file and observes its duration. status is
// "success", "failure" or "skipped".
func RecordFile(status string, d time.Duration) {
	b := current()
	lbls := Labels{"status": status}
	b.IncCounter(FilesTotal, 1, lbls)
	b.ObserveHistogram(FileDurationSeconds, d.Seconds(), lbls)
}

// RecordRows adds delta rows of the given kind. Non-positive deltas are
// ignored.
func RecordRows(kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(delta), Labels{"kind": kind})
}

// RecordPartitionCreated counts one partition created for table.
func RecordPartitionCreated(table string) {
	current().IncCounter(PartitionsCreatedTotal, 1, Labels{"table": table})
}
