package ingest

import (
	"time"

	"mdingest/internal/normalize"
)

// IngestionResult is the outcome of one file.
type IngestionResult struct {
	Path       string
	RecordType string
	Table      string
	Success    bool

	RowsRead          int
	RowsWritten       int64
	RowsRejected      int
	RowsSkipped       int64
	Duplicates        int
	PartitionsCreated int
	// SkipReason is set for files that succeeded without writing, e.g. an
	// empty archive.
	SkipReason string
	Duration   time.Duration

	// Rejections is a sample of rejected rows.
	Rejections []normalize.Rejection
	Err        error
}

// Status is the metrics label for the result.
func (r IngestionResult) Status() string {
	switch {
	case !r.Success:
		return "failure"
	case r.SkipReason != "":
		return "skipped"
	}
	return "success"
}

// RunSummary aggregates the results of one run.
type RunSummary struct {
	RunID string

	TotalFiles      int
	SuccessfulFiles int
	FailedFiles     int
	// FailedFileList is sorted.
	FailedFileList []string
	// NotDispatched counts files left unprocessed after dispatch stopped.
	NotDispatched int

	RowsWritten       int64
	RowsRejected      int64
	RowsSkipped       int64
	PartitionsCreated int

	Started  time.Time
	Duration time.Duration

	// Diagnostic explains a run that could not start, such as an
	// *EnumerationError.
	Diagnostic error
	// Stopped is set when dispatch halted before every file was handed out.
	Stopped bool
}

// OK reports whether the run started and no file failed.
func (s RunSummary) OK() bool { return s.Diagnostic == nil && s.FailedFiles == 0 }

func (s *RunSummary) add(r IngestionResult) {
	if r.Success {
		s.SuccessfulFiles++
	} else {
		s.FailedFiles++
		s.FailedFileList = append(s.FailedFileList, r.Path)
	}
	s.RowsWritten += r.RowsWritten
	s.RowsRejected += int64(r.RowsRejected)
	s.RowsSkipped += r.RowsSkipped
	s.PartitionsCreated += r.PartitionsCreated
}
