// Package schema is the static registry of logical record types: for every
// kind of market-data file it knows the destination table, the positional
// column layout, the event-time column and which fields must be present.
//
// The registry is closed. It is built once at process start and is read-only
// afterwards, so lookups are safe from any goroutine.
package schema

import (
	"errors"
	"slices"
	"strings"
)

// ErrUnknownRecordType is returned by Lookup for names outside the registry.
var ErrUnknownRecordType = errors.New("schema: unknown record type")

// Kind is the semantic type of a destination field.
type Kind uint8

const (
	KindString Kind = iota
	KindFloat
	KindInt
	KindBool
	// KindTimestamp is an int64 epoch-milliseconds instant.
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// TimeColumn names the event-time column a table is partitioned on.
type TimeColumn string

const (
	OpenTime        TimeColumn = "open_time"
	Timestamp       TimeColumn = "timestamp"
	TransactionTime TimeColumn = "transaction_time"
	CreateTime      TimeColumn = "create_time"
	CalcTime        TimeColumn = "calc_time"
)

// Ignore marks a positional source column that is dropped during mapping.
const Ignore = "ignore"

// Context field names injected by the normalizer rather than read from files.
const (
	FieldSymbolID    = "symbol_id"
	FieldTradingType = "trading_type"
	FieldInterval    = "interval_type"
)

// Field describes one destination column fed from the source file.
type Field struct {
	Name string
	Kind Kind

	// Clamp is a symmetric bound applied before rounding. Zero disables it.
	Clamp float64
	// Precision is the number of decimal places kept. Zero leaves the value
	// untouched.
	Precision int32
}

// RecordType is the immutable descriptor of one logical record type.
type RecordType struct {
	// Name is the archive name of the type, e.g. "klines" or "aggTrades".
	Name  string
	Table string

	TimeColumn       TimeColumn
	SupportsInterval bool
	HasTradingType   bool
	Partitioned      bool

	// ColumnOrder maps positional source columns to destination field names.
	// Entries equal to Ignore are dropped.
	ColumnOrder []string

	fields      map[string]Field
	required    map[string]struct{}
	conflictKey []string
	columns     []string
	aliases     map[string]string
}

// Field returns the descriptor for a destination field, including context
// fields.
func (rt *RecordType) Field(name string) (Field, bool) {
	f, ok := rt.fields[name]
	return f, ok
}

// Canonical resolves a source header name to a destination field name. The
// name is trimmed and lower-cased; aliases are consulted when it is not a
// field itself. ok is false for names that match nothing.
func (rt *RecordType) Canonical(header string) (string, bool) {
	h := strings.ToLower(strings.TrimSpace(header))
	if _, ok := rt.fields[h]; ok {
		return h, true
	}
	if name, ok := rt.aliases[h]; ok {
		return name, true
	}
	return "", false
}

// Required reports whether a field must be non-null after coercion.
func (rt *RecordType) Required(name string) bool {
	_, ok := rt.required[name]
	return ok
}

// RequiredFields returns the required field names in column order.
func (rt *RecordType) RequiredFields() []string {
	out := make([]string, 0, len(rt.required))
	for _, c := range rt.columns {
		if rt.Required(c) {
			out = append(out, c)
		}
	}
	return out
}

// Columns returns the destination columns in insert order: context fields
// first, then mapped source fields in positional order.
func (rt *RecordType) Columns() []string { return slices.Clone(rt.columns) }

// ConflictKey returns the natural uniqueness key of the destination table.
func (rt *RecordType) ConflictKey() []string { return slices.Clone(rt.conflictKey) }

// ContextFields returns the injected context columns for this type.
func (rt *RecordType) ContextFields() []string {
	out := []string{FieldSymbolID}
	if rt.HasTradingType {
		out = append(out, FieldTradingType)
	}
	if rt.SupportsInterval {
		out = append(out, FieldInterval)
	}
	return out
}
