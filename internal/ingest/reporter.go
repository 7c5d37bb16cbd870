package ingest

import (
	"go.uber.org/zap"

	"mdingest/internal/metrics"
	"mdingest/internal/partition"
)

// Progress is a periodic snapshot of a running ingestion.
type Progress struct {
	Done        int
	Total       int
	Succeeded   int
	Failed      int
	RowsWritten int64
}

// Reporter observes ingestion events. Calls are fire-and-forget and may come
// from several workers at once.
type Reporter interface {
	FileStart(path string)
	FileResult(r IngestionResult)
	PartitionCreated(p partition.Partition)
	Progress(p Progress)
	RunSummary(s RunSummary)
}

// NopReporter ignores every event.
type NopReporter struct{}

func (NopReporter) FileStart(string)                     {}
func (NopReporter) FileResult(IngestionResult)           {}
func (NopReporter) PartitionCreated(partition.Partition) {}
func (NopReporter) Progress(Progress)                    {}
func (NopReporter) RunSummary(RunSummary)                {}

// MultiReporter fans every event out to each reporter in order.
type MultiReporter []Reporter

func (m MultiReporter) FileStart(path string) {
	for _, r := range m {
		r.FileStart(path)
	}
}

func (m MultiReporter) FileResult(res IngestionResult) {
	for _, r := range m {
		r.FileResult(res)
	}
}

func (m MultiReporter) PartitionCreated(p partition.Partition) {
	for _, r := range m {
		r.PartitionCreated(p)
	}
}

func (m MultiReporter) Progress(p Progress) {
	for _, r := range m {
		r.Progress(p)
	}
}

func (m MultiReporter) RunSummary(s RunSummary) {
	for _, r := range m {
		r.RunSummary(s)
	}
}

// LogReporter writes events as structured log lines.
type LogReporter struct {
	Log *zap.Logger
}

// NewLogReporter returns a LogReporter; a nil logger discards output.
func NewLogReporter(log *zap.Logger) *LogReporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogReporter{Log: log}
}

func (l *LogReporter) FileStart(path string) {
	l.Log.Debug("ingest: file start", zap.String("file", path))
}

func (l *LogReporter) FileResult(r IngestionResult) {
	fields := []zap.Field{
		zap.String("file", r.Path),
		zap.String("record_type", r.RecordType),
		zap.Int("rows_read", r.RowsRead),
		zap.Int64("rows_written", r.RowsWritten),
		zap.Int("rows_rejected", r.RowsRejected),
		zap.Int64("rows_skipped", r.RowsSkipped),
		zap.Duration("took", r.Duration),
	}
	if r.Duplicates > 0 {
		fields = append(fields, zap.Int("duplicates", r.Duplicates))
	}
	if r.SkipReason != "" {
		fields = append(fields, zap.String("skip_reason", r.SkipReason))
	}
	if !r.Success {
		l.Log.Error("ingest: file failed", append(fields, zap.Error(r.Err))...)
		return
	}
	if len(r.Rejections) > 0 {
		fields = append(fields, zap.String("first_rejection", r.Rejections[0].Error()))
	}
	l.Log.Info("ingest: file done", fields...)
}

func (l *LogReporter) PartitionCreated(p partition.Partition) {
	start, end := p.Bounds()
	l.Log.Info("ingest: partition created",
		zap.String("partition", p.Name()),
		zap.Int64("start_ms", start),
		zap.Int64("end_ms", end),
	)
}

func (l *LogReporter) Progress(p Progress) {
	l.Log.Info("ingest: progress",
		zap.Int("done", p.Done),
		zap.Int("total", p.Total),
		zap.Int("succeeded", p.Succeeded),
		zap.Int("failed", p.Failed),
		zap.Int64("rows_written", p.RowsWritten),
	)
}

func (l *LogReporter) RunSummary(s RunSummary) {
	fields := []zap.Field{
		zap.String("run_id", s.RunID),
		zap.Int("total_files", s.TotalFiles),
		zap.Int("successful_files", s.SuccessfulFiles),
		zap.Int("failed_files", s.FailedFiles),
		zap.Int64("rows_written", s.RowsWritten),
		zap.Int64("rows_rejected", s.RowsRejected),
		zap.Int64("rows_skipped", s.RowsSkipped),
		zap.Int("partitions_created", s.PartitionsCreated),
		zap.Duration("took", s.Duration),
	}
	if s.Stopped {
		fields = append(fields, zap.Bool("stopped", true), zap.Int("not_dispatched", s.NotDispatched))
	}
	if len(s.FailedFileList) > 0 {
		fields = append(fields, zap.Strings("failed", s.FailedFileList))
	}
	if s.Diagnostic != nil {
		l.Log.Error("ingest: run could not start", append(fields, zap.Error(s.Diagnostic))...)
		return
	}
	l.Log.Info("ingest: run summary", fields...)
}

// MetricsReporter forwards file and partition events to the metrics backend.
type MetricsReporter struct{}

func (MetricsReporter) FileStart(string) {}

func (MetricsReporter) FileResult(r IngestionResult) {
	metrics.RecordFile(r.Status(), r.Duration)
	metrics.RecordRows(metrics.RowsWritten, r.RowsWritten)
	metrics.RecordRows(metrics.RowsRejected, int64(r.RowsRejected))
	metrics.RecordRows(metrics.RowsSkipped, r.RowsSkipped)
}

func (MetricsReporter) PartitionCreated(p partition.Partition) {
	metrics.RecordPartitionCreated(p.Table)
}

func (MetricsReporter) Progress(Progress) {}

func (MetricsReporter) RunSummary(RunSummary) {}
