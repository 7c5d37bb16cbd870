package sqlite

import (
	"context"
	"fmt"

	"mdingest/internal/storage"
)

var _ storage.RunRecorder = (*Repository)(nil)

// RecordRun implements storage.RunRecorder. Times are stored as epoch ms.
func (r *Repository) RecordRun(ctx context.Context, run storage.RunRecord) error {
	_, err := r.db.ExecContext(ctx, `
INSERT OR IGNORE INTO ingest_runs (run_id, root, started_at, finished_at, total_files,
  successful_files, failed_files, rows_written, rows_rejected, rows_skipped,
  partitions_created, diagnostic)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Root, run.Started.UnixMilli(), run.Finished.UnixMilli(),
		run.TotalFiles, run.SuccessfulFiles, run.FailedFiles,
		run.RowsWritten, run.RowsRejected, run.RowsSkipped,
		run.PartitionsCreated, run.Diagnostic)
	if err != nil {
		return fmt.Errorf("sqlite: record run %s: %w", run.RunID, err)
	}
	return nil
}
