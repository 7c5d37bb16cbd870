// Package normalize turns raw decoded cells into typed rows aligned to a
// record type's destination columns.
//
// Steps run in a fixed order: map source columns to fields, inject the
// context fields, coerce every field to its kind, fill or reject missing
// values, then clamp and round ratio-like fields. A row that lacks a
// required field is rejected on its own; the rest of the batch continues.
package normalize

import (
	"errors"
	"fmt"

	"mdingest/internal/schema"
)

// DefaultMaxRejections caps Result.Rejections when Options leaves it zero.
const DefaultMaxRejections = 20

// Context carries the per-file values injected into every row.
type Context struct {
	SymbolID    int64
	TradingType string
	// Interval is ignored for record types without interval support.
	Interval string
}

// Rejection records why one row was dropped.
type Rejection struct {
	// Row is the zero-based index in the input.
	Row    int
	Field  string
	Reason string
}

func (r Rejection) Error() string {
	return fmt.Sprintf("row %d: %s: %s", r.Row, r.Field, r.Reason)
}

// Input is a decoded table.
type Input struct {
	Header []string
	// Named forces header-based mapping.
	Named bool
	Rows  [][]any
}

// Result holds the surviving rows.
type Result struct {
	// Columns is the destination column order of every row.
	Columns []string
	Rows    [][]any
	// TimeIndex is the position of the event-time column in Columns.
	TimeIndex int

	Rejected int
	// Rejections is a bounded sample of rejected rows.
	Rejections []Rejection
	// Duplicates counts rows dropped by in-batch dedupe.
	Duplicates int
}

// Options tunes a Normalizer.
type Options struct {
	// Dedupe drops rows repeating an earlier row's conflict key.
	Dedupe bool
	// MaxRejections bounds the Rejections sample.
	MaxRejections int
}

// Normalizer is stateless apart from its options and safe for concurrent use.
type Normalizer struct {
	opt Options
}

// New returns a Normalizer.
func New(opt Options) *Normalizer {
	if opt.MaxRejections <= 0 {
		opt.MaxRejections = DefaultMaxRejections
	}
	return &Normalizer{opt: opt}
}

// Normalize converts in for rt. The error is reserved for problems with the
// call itself; row problems are reported in Result.
func (n *Normalizer) Normalize(in Input, rt *schema.RecordType, c Context) (*Result, error) {
	if rt == nil {
		return nil, errors.New("normalize: nil record type")
	}
	if rt.SupportsInterval && c.Interval == "" {
		return nil, fmt.Errorf("normalize: %s needs an interval", rt.Name)
	}

	p := compilePlan(rt, in.Header, in.Named)
	res := &Result{Columns: p.columns, TimeIndex: p.timeIndex}
	res.Rows = make([][]any, 0, len(in.Rows))

	var seen *keySet
	if n.opt.Dedupe {
		seen = newKeySet(rt, p.columns, len(in.Rows))
	}

	clean := newCleaner()
	for i, raw := range in.Rows {
		row, rej := p.apply(raw, c, clean)
		if rej != nil {
			rej.Row = i
			res.Rejected++
			if len(res.Rejections) < n.opt.MaxRejections {
				res.Rejections = append(res.Rejections, *rej)
			}
			continue
		}
		if seen != nil && !seen.add(row) {
			res.Duplicates++
			continue
		}
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}

// column is one compiled destination slot.
type column struct {
	field    schema.Field
	required bool
	// src is the source cell index, or -1 for context fields.
	src int
}

type plan struct {
	rt        *schema.RecordType
	columns   []string
	cols      []column
	timeIndex int
}

func compilePlan(rt *schema.RecordType, header []string, named bool) *plan {
	p := &plan{rt: rt, columns: rt.Columns()}

	srcIdx := positional(rt)
	if byName, ok := headerIndex(rt, header, named); ok {
		srcIdx = byName
	}

	p.cols = make([]column, len(p.columns))
	for i, name := range p.columns {
		f, _ := rt.Field(name)
		src, ok := srcIdx[name]
		if !ok {
			src = -1
		}
		p.cols[i] = column{field: f, required: rt.Required(name), src: src}
		if name == string(rt.TimeColumn) {
			p.timeIndex = i
		}
	}
	return p
}

func positional(rt *schema.RecordType) map[string]int {
	m := make(map[string]int, len(rt.ColumnOrder))
	for i, name := range rt.ColumnOrder {
		if name != schema.Ignore {
			m[name] = i
		}
	}
	return m
}

// headerIndex maps by name, resolving archive aliases, when the header
// names every positional source field. A partial header is not trusted and
// the caller falls back to positions. Named input (columnar files) maps
// whatever matches.
func headerIndex(rt *schema.RecordType, header []string, named bool) (map[string]int, bool) {
	if len(header) == 0 {
		return nil, false
	}
	m := make(map[string]int)
	for i, h := range header {
		name, ok := rt.Canonical(h)
		if !ok || name == schema.Ignore {
			continue
		}
		if _, dup := m[name]; !dup {
			m[name] = i
		}
	}
	if named {
		return m, len(m) > 0
	}
	for _, name := range rt.ColumnOrder {
		if name == schema.Ignore {
			continue
		}
		if _, ok := m[name]; !ok {
			return nil, false
		}
	}
	return m, true
}

func (p *plan) apply(raw []any, c Context, clean *cleaner) ([]any, *Rejection) {
	row := make([]any, len(p.cols))
	for i, col := range p.cols {
		var v any
		switch col.field.Name {
		case schema.FieldSymbolID:
			v = c.SymbolID
		case schema.FieldTradingType:
			v = nonEmpty(c.TradingType)
		case schema.FieldInterval:
			v = nonEmpty(c.Interval)
		default:
			if col.src >= 0 && col.src < len(raw) {
				v = coerce(col.field, raw[col.src], clean)
			}
		}

		if v == nil {
			if col.required {
				return nil, &Rejection{Field: col.field.Name, Reason: "missing or unparseable"}
			}
			v = zero(col.field.Kind)
		}
		row[i] = v
	}
	return row, nil
}

func nonEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// zero is the fill value for optional fields. Optional timestamps stay NULL.
func zero(k schema.Kind) any {
	switch k {
	case schema.KindFloat:
		return 0.0
	case schema.KindInt:
		return int64(0)
	case schema.KindBool:
		return false
	case schema.KindString:
		return ""
	}
	return nil
}
