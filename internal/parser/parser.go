// Package parser turns a source file into a uniform table of raw cells. The
// format is chosen from the file extension: plain CSV, CSV inside a zip or
// gzip archive, Parquet, or Arrow IPC (Feather v2).
package parser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mdingest/internal/parser/columnar"
	"mdingest/internal/parser/csv"
)

var (
	// ErrUnsupportedFormat is returned for extensions no reader handles.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrEmpty is returned when a file decodes to zero data rows.
	ErrEmpty = errors.New("file has no data rows")
)

// Format identifies a source encoding.
type Format string

const (
	CSV     Format = "csv"
	Zip     Format = "zip"
	Gzip    Format = "gzip"
	Parquet Format = "parquet"
	Feather Format = "feather"
)

// DetectFormat maps a path's extension to its Format.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return CSV, nil
	case ".zip":
		return Zip, nil
	case ".gz":
		return Gzip, nil
	case ".parquet", ".pq":
		return Parquet, nil
	case ".feather", ".arrow", ".ipc":
		return Feather, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
}

// Table is the decoded content of one file.
type Table struct {
	Path   string
	Format Format
	// Header holds column names when the source has them.
	Header []string
	// Named is set when Header comes from a self-describing format and
	// should drive column mapping instead of position.
	Named bool
	Rows  [][]any
	// Malformed counts records the decoder dropped.
	Malformed int
}

// Options configures the readers.
type Options struct {
	CSV csv.Options
	// BatchSize is the record batch size for columnar readers.
	BatchSize int64
}

// Read opens path and decodes it. A file with no data rows yields ErrEmpty
// together with the (empty) table.
func Read(ctx context.Context, path string, opt Options) (*Table, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	t := &Table{Path: path, Format: format}
	switch format {
	case CSV:
		err = readCSVFile(ctx, path, opt.CSV, t)
	case Zip:
		err = readZip(ctx, path, opt.CSV, t)
	case Gzip:
		err = readGzip(ctx, path, opt.CSV, t)
	case Parquet:
		err = readColumnar(t, func() (*columnar.Result, error) {
			return columnar.ReadParquet(ctx, path, opt.BatchSize)
		})
	case Feather:
		err = readColumnar(t, func() (*columnar.Result, error) {
			return columnar.ReadFeather(ctx, path)
		})
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(t.Rows) == 0 {
		return t, ErrEmpty
	}
	return t, nil
}

func readCSVFile(ctx context.Context, path string, opt csv.Options, t *Table) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	adviseSequential(f)
	return fillCSV(ctx, f, opt, t)
}

func readColumnar(t *Table, read func() (*columnar.Result, error)) error {
	res, err := read()
	if err != nil {
		return err
	}
	t.Header, t.Rows, t.Named = res.Header, res.Rows, true
	return nil
}
