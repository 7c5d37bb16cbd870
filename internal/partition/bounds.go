// Package partition knows how monthly range partitions are named and bounded
// and makes sure the partition covering a row exists before the row is
// written.
//
// Bounds are half-open [start, end) intervals in epoch milliseconds aligned to
// calendar months in UTC. December's end is January 1 of the following year.
package partition

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// Partition identifies the child table of table holding one calendar month.
type Partition struct {
	Table string
	Year  int
	Month time.Month
}

// Covering returns the partition of table whose bounds contain ms.
func Covering(table string, ms int64) Partition {
	y, m := CoveringMonth(ms)
	return Partition{Table: table, Year: y, Month: m}
}

// Name is the deterministic child table name, e.g. klines_2024_01.
func (p Partition) Name() string {
	return fmt.Sprintf("%s_%d_%02d", p.Table, p.Year, int(p.Month))
}

// Bounds returns the half-open millisecond range of the partition.
func (p Partition) Bounds() (startMs, endMs int64) { return MonthBounds(p.Year, p.Month) }

// YearMonth returns the partition's calendar month.
func (p Partition) YearMonth() YearMonth { return YearMonth{Year: p.Year, Month: p.Month} }

func (p Partition) String() string { return p.Name() }

// MonthBounds returns [first instant of the month, first instant of the next
// month) in UTC epoch milliseconds.
func MonthBounds(year int, month time.Month) (startMs, endMs int64) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return start.UnixMilli(), start.AddDate(0, 1, 0).UnixMilli()
}

// CoveringMonth converts an epoch-ms instant to its UTC calendar month.
// Callers must reject non-positive instants first.
func CoveringMonth(ms int64) (int, time.Month) {
	t := time.UnixMilli(ms).UTC()
	return t.Year(), t.Month()
}

// YearMonth is a calendar month independent of any table.
type YearMonth struct {
	Year  int
	Month time.Month
}

// ParseYearMonth parses "YYYY-MM".
func ParseYearMonth(s string) (YearMonth, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return YearMonth{}, fmt.Errorf("partition: month %q: want YYYY-MM", s)
	}
	return YearMonth{Year: t.Year(), Month: t.Month()}, nil
}

// MonthOf returns the UTC calendar month of t.
func MonthOf(t time.Time) YearMonth {
	t = t.UTC()
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

// Add returns the month n months after ym (n may be negative).
func (ym YearMonth) Add(n int) YearMonth {
	t := time.Date(ym.Year, ym.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

// Before reports whether ym is strictly earlier than other.
func (ym YearMonth) Before(other YearMonth) bool {
	if ym.Year != other.Year {
		return ym.Year < other.Year
	}
	return ym.Month < other.Month
}

// Compare returns -1, 0 or +1 ordering ym against other.
func (ym YearMonth) Compare(other YearMonth) int {
	switch {
	case ym.Before(other):
		return -1
	case other.Before(ym):
		return 1
	}
	return 0
}

// Of binds the month to a table.
func (ym YearMonth) Of(table string) Partition {
	return Partition{Table: table, Year: ym.Year, Month: ym.Month}
}

func (ym YearMonth) String() string { return fmt.Sprintf("%d-%02d", ym.Year, int(ym.Month)) }

// Months lists every month in [from, to], or nil if to is before from.
func Months(from, to YearMonth) []YearMonth {
	var out []YearMonth
	for m := from; !to.Before(m); m = m.Add(1) {
		out = append(out, m)
	}
	return out
}

// Bounds is an existing partition as reported by a store.
type Bounds struct {
	Name    string
	StartMs int64
	EndMs   int64
}

var boundExpr = regexp.MustCompile(`FOR VALUES FROM \('?(-?\d+)'?\) TO \('?(-?\d+)'?\)`)

// ParseBoundExpr extracts the numeric range from a Postgres partition bound
// expression such as "FOR VALUES FROM ('1704067200000') TO ('1706745600000')".
func ParseBoundExpr(expr string) (startMs, endMs int64, err error) {
	m := boundExpr.FindStringSubmatch(expr)
	if m == nil {
		return 0, 0, fmt.Errorf("partition: unrecognized bound %q", expr)
	}
	if startMs, err = strconv.ParseInt(m[1], 10, 64); err != nil {
		return 0, 0, fmt.Errorf("partition: bound start: %w", err)
	}
	if endMs, err = strconv.ParseInt(m[2], 10, 64); err != nil {
		return 0, 0, fmt.Errorf("partition: bound end: %w", err)
	}
	return startMs, endMs, nil
}

// AnomalyKind classifies a break in a table's partition sequence.
type AnomalyKind string

const (
	Gap        AnomalyKind = "gap"
	Overlap    AnomalyKind = "overlap"
	Misaligned AnomalyKind = "misaligned"
)

// Anomaly is a pair of adjacent partitions that do not meet exactly, or a
// single partition whose bounds are not a calendar month.
type Anomaly struct {
	Kind AnomalyKind
	Prev Bounds
	Next Bounds
}

func (a Anomaly) String() string {
	if a.Kind == Misaligned {
		return fmt.Sprintf("%s: %s [%d, %d)", a.Kind, a.Next.Name, a.Next.StartMs, a.Next.EndMs)
	}
	return fmt.Sprintf("%s between %s (end %d) and %s (start %d)",
		a.Kind, a.Prev.Name, a.Prev.EndMs, a.Next.Name, a.Next.StartMs)
}

// CheckContiguity sorts bs by start and reports every adjacent pair where
// prev.End != next.Start, plus partitions not aligned to a calendar month.
// An empty result means the partitions tile a contiguous range.
func CheckContiguity(bs []Bounds) []Anomaly {
	sorted := make([]Bounds, len(bs))
	copy(sorted, bs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartMs < sorted[j].StartMs })

	var out []Anomaly
	for i, b := range sorted {
		y, m := CoveringMonth(b.StartMs)
		if s, e := MonthBounds(y, m); s != b.StartMs || e != b.EndMs {
			out = append(out, Anomaly{Kind: Misaligned, Next: b})
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		switch {
		case prev.EndMs > b.StartMs:
			out = append(out, Anomaly{Kind: Overlap, Prev: prev, Next: b})
		case prev.EndMs < b.StartMs:
			out = append(out, Anomaly{Kind: Gap, Prev: prev, Next: b})
		}
	}
	return out
}
