// Package writer performs partition-aware, idempotent bulk writes.
//
// A batch is split into one sub-batch per covering month. Each sub-batch
// ensures its partition and is inserted with insert-or-ignore semantics, so
// re-running a batch never stores duplicates. A failure in one month never
// blocks the others; failed sub-batches are reported as *SubBatchError.
package writer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mdingest/internal/partition"
	"mdingest/internal/storage"
)

const (
	DefaultChunkSize   = 5000
	DefaultParallelism = 2
)

// Inserter is the slice of storage.Repository the writer needs.
type Inserter interface {
	InsertIgnore(ctx context.Context, req storage.InsertRequest) (int64, error)
}

// Batch is a set of normalized rows bound for one table.
type Batch struct {
	Table       string
	TimeColumn  string
	Partitioned bool
	Columns     []string
	ConflictKey []string
	// Rows are aligned to Columns; the time column holds int64 epoch ms.
	Rows [][]any
}

// SubBatchError identifies the month whose rows could not be written.
type SubBatchError struct {
	Table string
	Year  int
	Month time.Month
	Rows  int
	// Retried is set when the insert failed again after re-provisioning.
	Retried bool
	Err     error
}

func (e *SubBatchError) Error() string {
	retry := ""
	if e.Retried {
		retry = " after retry"
	}
	return fmt.Sprintf("write %s_%d_%02d (%d rows)%s: %v", e.Table, e.Year, int(e.Month), e.Rows, retry, e.Err)
}

func (e *SubBatchError) Unwrap() error { return e.Err }

// Result summarizes one Write.
type Result struct {
	Attempted int
	// Written counts rows actually stored, including chunks a failed
	// sub-batch stored before its error.
	Written int64
	// Skipped counts rows of successful sub-batches dropped as conflicts.
	Skipped int64
	// FailedRows counts rows of failed sub-batches that were not stored.
	FailedRows        int
	PartitionsCreated int
	// Created lists the partitions this Write created, ordered by month.
	Created []partition.Partition
	Retries int
	Failed  []*SubBatchError
}

// Options configures a Writer.
type Options struct {
	// ChunkSize bounds rows per insert statement.
	ChunkSize int
	// Parallelism bounds concurrent sub-batches within one Write.
	Parallelism int
	Logger      *zap.Logger
}

// Writer writes batches through an Inserter, provisioning partitions first.
type Writer struct {
	ins  Inserter
	prov *partition.Provisioner
	opt  Options
	log  *zap.Logger
}

// New returns a Writer. prov may be nil when no table is partitioned.
func New(ins Inserter, prov *partition.Provisioner, opt Options) *Writer {
	if opt.ChunkSize <= 0 {
		opt.ChunkSize = DefaultChunkSize
	}
	if opt.Parallelism <= 0 {
		opt.Parallelism = DefaultParallelism
	}
	log := opt.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{ins: ins, prov: prov, opt: opt, log: log}
}

type subBatch struct {
	part partition.Partition
	rows [][]any
}

// Write stores b. The returned error joins every *SubBatchError; the Result
// is valid either way and counts every row stored, failed months included.
func (w *Writer) Write(ctx context.Context, b Batch) (Result, error) {
	res := Result{Attempted: len(b.Rows)}
	if len(b.Rows) == 0 {
		return res, nil
	}
	if !b.Partitioned {
		n, err := w.insert(ctx, b, b.Rows)
		res.Written = n
		if err != nil {
			res.FailedRows = len(b.Rows) - int(n)
			return res, fmt.Errorf("write %s: %w", b.Table, err)
		}
		res.Skipped = int64(len(b.Rows)) - n
		return res, nil
	}
	if w.prov == nil {
		return res, fmt.Errorf("write %s: partitioned table without provisioner", b.Table)
	}

	subs, err := groupByMonth(b)
	if err != nil {
		return res, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opt.Parallelism)
	for _, sb := range subs {
		g.Go(func() error {
			n, created, retried, err := w.writeSub(gctx, b, sb)

			mu.Lock()
			defer mu.Unlock()
			res.PartitionsCreated += created
			for range created {
				res.Created = append(res.Created, sb.part)
			}
			if retried {
				res.Retries++
			}
			res.Written += n
			if err != nil {
				res.FailedRows += len(sb.rows) - int(n)
				res.Failed = append(res.Failed, &SubBatchError{
					Table:   b.Table,
					Year:    sb.part.Year,
					Month:   sb.part.Month,
					Rows:    len(sb.rows),
					Retried: retried,
					Err:     err,
				})
				return nil
			}
			res.Skipped += int64(len(sb.rows)) - n
			return nil
		})
	}
	_ = g.Wait()
	slices.SortFunc(res.Created, func(x, y partition.Partition) int {
		return x.YearMonth().Compare(y.YearMonth())
	})

	if len(res.Failed) == 0 {
		return res, nil
	}
	slices.SortFunc(res.Failed, func(x, y *SubBatchError) int {
		return partition.YearMonth{Year: x.Year, Month: x.Month}.Compare(partition.YearMonth{Year: y.Year, Month: y.Month})
	})
	errs := make([]error, len(res.Failed))
	for i, f := range res.Failed {
		errs[i] = f
	}
	return res, errors.Join(errs...)
}

// writeSub ensures the month's partition and inserts its rows, retrying once
// when the store reports no covering partition.
func (w *Writer) writeSub(ctx context.Context, b Batch, sb subBatch) (n int64, created int, retried bool, err error) {
	out, err := w.prov.EnsurePartition(ctx, sb.part)
	if err != nil {
		return 0, 0, false, err
	}
	if out == partition.Created {
		created++
	}

	n, err = w.insert(ctx, b, sb.rows)
	if err == nil || !errors.Is(err, partition.ErrNoPartition) {
		return n, created, false, err
	}

	w.log.Warn("writer: partition missing on insert, re-provisioning",
		zap.String("partition", sb.part.Name()),
		zap.Int("rows", len(sb.rows)),
		zap.Error(err),
	)
	w.prov.Forget(sb.part)
	out, err = w.prov.EnsurePartition(ctx, sb.part)
	if err != nil {
		return n, created, true, err
	}
	if out == partition.Created {
		created++
	}
	// Chunks stored before the failure are skipped as conflicts on resubmit.
	m, err := w.insert(ctx, b, sb.rows)
	return n + m, created, true, err
}

func (w *Writer) insert(ctx context.Context, b Batch, rows [][]any) (int64, error) {
	return storage.LoadChunks(ctx, w.log, rows, w.opt.ChunkSize, func(ctx context.Context, chunk [][]any) (int64, error) {
		return w.ins.InsertIgnore(ctx, storage.InsertRequest{
			Table:           b.Table,
			TimeColumn:      b.TimeColumn,
			Columns:         b.Columns,
			ConflictColumns: b.ConflictKey,
			Rows:            chunk,
		})
	})
}

// groupByMonth splits rows by covering month, ordered by month.
func groupByMonth(b Batch) ([]subBatch, error) {
	ti := slices.Index(b.Columns, b.TimeColumn)
	if ti < 0 {
		return nil, fmt.Errorf("write %s: time column %q not in columns", b.Table, b.TimeColumn)
	}

	byMonth := make(map[partition.YearMonth][][]any)
	for i, row := range b.Rows {
		ms, ok := row[ti].(int64)
		if !ok {
			return nil, fmt.Errorf("write %s: row %d: %s is %T, want int64 epoch ms", b.Table, i, b.TimeColumn, row[ti])
		}
		y, m := partition.CoveringMonth(ms)
		ym := partition.YearMonth{Year: y, Month: m}
		byMonth[ym] = append(byMonth[ym], row)
	}

	subs := make([]subBatch, 0, len(byMonth))
	for ym, rows := range byMonth {
		subs = append(subs, subBatch{part: ym.Of(b.Table), rows: rows})
	}
	slices.SortFunc(subs, func(x, y subBatch) int { return x.part.YearMonth().Compare(y.part.YearMonth()) })
	return subs, nil
}
