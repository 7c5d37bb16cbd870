package postgres

import (
	"context"
	"fmt"

	"mdingest/internal/storage"
)

var _ storage.RunRecorder = (*Repository)(nil)

const insertRunSQL = `
INSERT INTO %s (run_id, root, started_at, finished_at, total_files, successful_files,
                failed_files, rows_written, rows_rejected, rows_skipped,
                partitions_created, diagnostic)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (run_id) DO NOTHING`

// RecordRun implements storage.RunRecorder.
func (r *Repository) RecordRun(ctx context.Context, run storage.RunRecord) error {
	q := fmt.Sprintf(insertRunSQL, pgFQN(r.qualify("ingest_runs")))
	_, err := r.pool.Exec(ctx, q,
		run.RunID, run.Root, run.Started, run.Finished,
		run.TotalFiles, run.SuccessfulFiles, run.FailedFiles,
		run.RowsWritten, run.RowsRejected, run.RowsSkipped,
		run.PartitionsCreated, run.Diagnostic,
	)
	if err != nil {
		return fmt.Errorf("postgres: record run %s: %w", run.RunID, err)
	}
	return nil
}
