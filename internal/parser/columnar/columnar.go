// Package columnar reads Parquet and Arrow IPC (Feather v2) files with
// arrow-go and flattens them into rows of Go values.
//
// Integer columns become int64, floating columns float64, booleans bool and
// strings string. Timestamp and date columns become int64 epoch milliseconds
// so the normalizer treats them like archive CSV timestamps.
package columnar

import (
	"context"
	"fmt"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

const defaultBatchSize = 64 * 1024

// Result is a flattened columnar file.
type Result struct {
	Header []string
	Rows   [][]any
}

// ReadParquet reads every row group of a Parquet file.
func ReadParquet(ctx context.Context, path string, batchSize int64) (*Result, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("parquet: open: %w", err)
	}
	defer pf.Close()

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: batchSize}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("parquet: reader: %w", err)
	}
	tbl, err := fr.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("parquet: read table: %w", err)
	}
	defer tbl.Release()

	res := &Result{Header: fieldNames(tbl.Schema())}
	tr := array.NewTableReader(tbl, batchSize)
	defer tr.Release()
	for tr.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := appendRecord(res, tr.Record()); err != nil {
			return nil, err
		}
	}
	return res, tr.Err()
}

// ReadFeather reads an Arrow IPC file.
func ReadFeather(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, fmt.Errorf("feather: %w", err)
	}
	defer r.Close()

	res := &Result{Header: fieldNames(r.Schema())}
	for i := 0; i < r.NumRecords(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := r.Record(i)
		if err != nil {
			return nil, fmt.Errorf("feather: record %d: %w", i, err)
		}
		if err := appendRecord(res, rec); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func fieldNames(s *arrow.Schema) []string {
	out := make([]string, s.NumFields())
	for i, f := range s.Fields() {
		out[i] = f.Name
	}
	return out
}

func appendRecord(res *Result, rec arrow.Record) error {
	nrows, ncols := int(rec.NumRows()), int(rec.NumCols())
	base := len(res.Rows)
	for range nrows {
		res.Rows = append(res.Rows, make([]any, ncols))
	}
	for c := 0; c < ncols; c++ {
		col := rec.Column(c)
		for i := 0; i < nrows; i++ {
			v, err := Cell(col, i)
			if err != nil {
				return fmt.Errorf("column %s: %w", rec.ColumnName(c), err)
			}
			res.Rows[base+i][c] = v
		}
	}
	return nil
}

// Cell converts element i of col to a plain Go value; nulls become nil.
func Cell(col arrow.Array, i int) (any, error) {
	if col.IsNull(i) {
		return nil, nil
	}
	switch a := col.(type) {
	case *array.Int64:
		return a.Value(i), nil
	case *array.Int32:
		return int64(a.Value(i)), nil
	case *array.Int16:
		return int64(a.Value(i)), nil
	case *array.Int8:
		return int64(a.Value(i)), nil
	case *array.Uint64:
		return int64(a.Value(i)), nil
	case *array.Uint32:
		return int64(a.Value(i)), nil
	case *array.Uint16:
		return int64(a.Value(i)), nil
	case *array.Uint8:
		return int64(a.Value(i)), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.Float32:
		return float64(a.Value(i)), nil
	case *array.Boolean:
		return a.Value(i), nil
	case *array.String:
		return a.Value(i), nil
	case *array.LargeString:
		return a.Value(i), nil
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit).UnixMilli(), nil
	case *array.Date32:
		return a.Value(i).ToTime().UnixMilli(), nil
	case *array.Date64:
		return a.Value(i).ToTime().UnixMilli(), nil
	case *array.Dictionary:
		return Cell(a.Dictionary(), a.GetValueIndex(i))
	default:
		return col.ValueStr(i), nil
	}
}
