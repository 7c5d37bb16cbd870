package parser

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"mdingest/internal/parser/csv"
)

// readZip decodes the first CSV entry of a zip archive.
func readZip(ctx context.Context, p string, opt csv.Options, t *Table) error {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return fmt.Errorf("zip: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(path.Ext(f.Name), ".csv") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("zip entry %s: %w", f.Name, err)
		}
		defer rc.Close()
		return fillCSV(ctx, rc, opt, t)
	}
	return fmt.Errorf("zip: no csv entry")
}

// readGzip decodes a gzip-compressed CSV stream.
func readGzip(ctx context.Context, p string, opt csv.Options, t *Table) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	adviseSequential(f)

	zr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()
	return fillCSV(ctx, zr, opt, t)
}

func fillCSV(ctx context.Context, r io.Reader, opt csv.Options, t *Table) error {
	res, err := csv.ReadAll(ctx, r, opt)
	if err != nil {
		return err
	}
	t.Header, t.Rows, t.Malformed = res.Header, res.Rows, res.Malformed
	return nil
}
