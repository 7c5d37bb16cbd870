// Package csv reads delimited market-data files into positional rows.
//
// Archive CSVs come both with and without a header line; by default the
// header is detected from the first record (a first cell that is not a
// number marks a header).
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// HeaderMode controls header handling.
type HeaderMode uint8

const utf8BOM = "\uFEFF"

const (
	HeaderAuto HeaderMode = iota
	HeaderPresent
	HeaderAbsent
)

// Options configures the reader. The zero value reads comma-separated input
// with header auto-detection and trimmed cells.
type Options struct {
	Comma      rune
	Header     HeaderMode
	KeepSpace  bool
	LazyQuotes bool
	// HeaderMap renames header cells (source name -> canonical name).
	HeaderMap map[string]string
}

// Result holds everything read from one input.
type Result struct {
	Header []string
	// Rows hold string cells; empty cells are nil.
	Rows [][]any
	// Malformed counts records dropped by the CSV decoder.
	Malformed int
}

const cancelCheckEvery = 4096

// ReadAll decodes r completely. Malformed records are skipped and counted;
// only I/O errors and cancellation abort the read.
func ReadAll(ctx context.Context, r io.Reader, opt Options) (*Result, error) {
	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	res := &Result{}
	first := true
	for n := 0; ; n++ {
		if n%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				res.Malformed++
				continue
			}
			return nil, fmt.Errorf("csv read: %w", err)
		}
		if isBlank(rec) {
			continue
		}

		if first {
			first = false
			if strings.HasPrefix(rec[0], utf8BOM) {
				rec[0] = strings.TrimPrefix(rec[0], utf8BOM)
			}
			if opt.Header == HeaderPresent || (opt.Header == HeaderAuto && looksLikeHeader(rec)) {
				res.Header = normalizeHeader(rec, opt.HeaderMap)
				continue
			}
		}

		row := make([]any, len(rec))
		for i, v := range rec {
			if !opt.KeepSpace && hasEdgeSpace(v) {
				v = strings.TrimSpace(v)
			}
			if v != "" {
				row[i] = v
			}
		}
		res.Rows = append(res.Rows, row)
	}
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// looksLikeHeader reports whether the first non-empty cell is not numeric.
func looksLikeHeader(rec []string) bool {
	for _, v := range rec {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		_, err := strconv.ParseFloat(v, 64)
		return err != nil
	}
	return false
}

func normalizeHeader(rec []string, hm map[string]string) []string {
	out := make([]string, len(rec))
	for i, h := range rec {
		h = strings.TrimSpace(h)
		if mapped, ok := hm[h]; ok {
			h = mapped
		} else {
			h = strings.ReplaceAll(strings.ToLower(h), " ", "_")
		}
		out[i] = h
	}
	return out
}

// hasEdgeSpace reports whether s starts or ends with an ASCII space or tab.
func hasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	first, last := s[0], s[len(s)-1]
	return first == ' ' || first == '\t' || last == ' ' || last == '\t' || last == '\r'
}
