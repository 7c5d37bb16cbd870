package schema

import (
	"fmt"
	"strings"
)

// Dialect selects SQL type names for generated DDL.
type Dialect uint8

const (
	Postgres Dialect = iota
	SQLite
)

// ColumnDef is a minimal description of a DB column.
type ColumnDef struct {
	Name     string // e.g., "open_time"
	SQLType  string // e.g., "BIGINT", "NUMERIC(10,6)", "TEXT"
	Nullable bool
	Default  string // raw SQL default, e.g., "0"
}

// TableDef describes a destination table.
type TableDef struct {
	FQN     string // e.g., "binance_data.klines"
	Columns []ColumnDef
	// Unique is the natural key; rows violating it are skipped on insert.
	Unique []string
	// PartitionBy is the range-partitioning column, empty for plain tables.
	PartitionBy string
}

// TableDefFor derives the table definition of rt. schemaName may be empty.
func TableDefFor(rt *RecordType, schemaName string, d Dialect) TableDef {
	fqn := rt.Table
	if schemaName != "" {
		fqn = schemaName + "." + rt.Table
	}
	td := TableDef{FQN: fqn, Unique: rt.ConflictKey()}
	if rt.Partitioned && d == Postgres {
		td.PartitionBy = string(rt.TimeColumn)
	}
	for _, name := range rt.Columns() {
		f, _ := rt.Field(name)
		td.Columns = append(td.Columns, ColumnDef{
			Name:     name,
			SQLType:  sqlType(f, d),
			Nullable: !rt.Required(name),
		})
	}
	return td
}

func sqlType(f Field, d Dialect) string {
	if d == SQLite {
		switch f.Kind {
		case KindFloat:
			return "REAL"
		case KindString:
			return "TEXT"
		default:
			return "INTEGER"
		}
	}
	switch f.Kind {
	case KindInt, KindTimestamp:
		return "BIGINT"
	case KindBool:
		return "BOOLEAN"
	case KindString:
		return "TEXT"
	}
	switch {
	case f.Clamp > 0:
		return fmt.Sprintf("NUMERIC(%d,%d)", 4+f.Precision, f.Precision)
	case f.Precision > 0:
		return fmt.Sprintf("NUMERIC(30,%d)", f.Precision)
	default:
		return "DOUBLE PRECISION"
	}
}

// BuildCreateTableSQL emits a CREATE TABLE IF NOT EXISTS statement.
func BuildCreateTableSQL(t TableDef) (string, error) {
	if t.FQN == "" {
		return "", fmt.Errorf("missing table name")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("no columns for %s", t.FQN)
	}
	cols := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		if c.Name == "" || c.SQLType == "" {
			return "", fmt.Errorf("column name and type required")
		}
		def := QuoteIdent(c.Name) + " " + c.SQLType
		if c.Default != "" {
			def += " DEFAULT " + c.Default
		}
		if !c.Nullable {
			def += " NOT NULL"
		}
		cols = append(cols, def)
	}
	if len(t.Unique) > 0 {
		q := make([]string, len(t.Unique))
		for i, u := range t.Unique {
			q[i] = QuoteIdent(u)
		}
		cols = append(cols, fmt.Sprintf("UNIQUE (%s)", strings.Join(q, ", ")))
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)",
		QuoteFQN(t.FQN), strings.Join(cols, ",\n  "))
	if t.PartitionBy != "" {
		stmt += fmt.Sprintf(" PARTITION BY RANGE (%s)", QuoteIdent(t.PartitionBy))
	}
	return stmt + ";", nil
}

// QuoteIdent quotes a single identifier segment.
func QuoteIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// QuoteFQN quotes a possibly schema-qualified name segment by segment.
func QuoteFQN(fqn string) string {
	parts := strings.Split(fqn, ".")
	for i := range parts {
		parts[i] = QuoteIdent(parts[i])
	}
	return strings.Join(parts, ".")
}
