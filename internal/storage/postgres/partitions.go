package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mdingest/internal/partition"
)

const existsSQL = `
SELECT EXISTS (
  SELECT 1
  FROM pg_catalog.pg_class c
  JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
  WHERE n.nspname = COALESCE(NULLIF($1, ''), current_schema())
    AND c.relname = $2
)`

const listSQL = `
SELECT c.relname, pg_catalog.pg_get_expr(c.relpartbound, c.oid)
FROM pg_catalog.pg_inherits i
JOIN pg_catalog.pg_class c ON c.oid = i.inhrelid
JOIN pg_catalog.pg_class p ON p.oid = i.inhparent
JOIN pg_catalog.pg_namespace n ON n.oid = p.relnamespace
WHERE n.nspname = COALESCE(NULLIF($1, ''), current_schema())
  AND p.relname = $2
ORDER BY c.relname`

// PartitionExists implements partition.Store.
func (r *Repository) PartitionExists(ctx context.Context, table, name string) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, existsSQL, r.cfg.Schema, name).Scan(&ok); err != nil {
		return false, fmt.Errorf("postgres: exists %s: %w", name, err)
	}
	return ok, nil
}

// createPartitionSQL renders the DDL attaching p to its parent table.
func createPartitionSQL(schemaName string, p partition.Partition) string {
	start, end := p.Bounds()
	child, parent := p.Name(), p.Table
	if schemaName != "" {
		child, parent = schemaName+"."+child, schemaName+"."+parent
	}
	return fmt.Sprintf("CREATE TABLE %s PARTITION OF %s FOR VALUES FROM (%d) TO (%d)",
		pgFQN(child), pgFQN(parent), start, end)
}

// CreatePartition implements partition.Store. A concurrent creator winning
// the race surfaces as partition.ErrExists.
func (r *Repository) CreatePartition(ctx context.Context, p partition.Partition) error {
	if _, err := r.pool.Exec(ctx, createPartitionSQL(r.cfg.Schema, p)); err != nil {
		return fmt.Errorf("postgres: create partition %s: %w", p.Name(), classify(err))
	}
	r.log.Debug("postgres: partition created", zap.String("partition", p.Name()))
	return nil
}

// ListPartitions implements partition.Store using pg_inherits.
func (r *Repository) ListPartitions(ctx context.Context, table string) ([]partition.Bounds, error) {
	rows, err := r.pool.Query(ctx, listSQL, r.cfg.Schema, table)
	if err != nil {
		return nil, fmt.Errorf("postgres: list partitions %s: %w", table, err)
	}
	defer rows.Close()

	var out []partition.Bounds
	for rows.Next() {
		var name, expr string
		if err := rows.Scan(&name, &expr); err != nil {
			return nil, fmt.Errorf("postgres: scan partition: %w", err)
		}
		start, end, err := partition.ParseBoundExpr(expr)
		if err != nil {
			r.log.Warn("postgres: skipping partition with unparsable bound",
				zap.String("partition", name), zap.String("bound", expr))
			continue
		}
		out = append(out, partition.Bounds{Name: name, StartMs: start, EndMs: end})
	}
	return out, rows.Err()
}
