package sqlite

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mdingest/internal/partition"
)

// PartitionExists implements partition.Store.
func (r *Repository) PartitionExists(ctx context.Context, table, name string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM _partitions WHERE parent = ? AND name = ?`, table, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: exists %s: %w", name, err)
	}
	return n > 0, nil
}

// CreatePartition implements partition.Store. The catalog's primary key turns
// a lost race into partition.ErrExists; overlapping ranges are refused.
func (r *Repository) CreatePartition(ctx context.Context, p partition.Partition) error {
	start, end := p.Bounds()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var clash string
	err = tx.QueryRowContext(ctx, `
SELECT COALESCE(MIN(name), '') FROM _partitions
WHERE parent = ? AND name <> ? AND start_ms < ? AND ? < end_ms`,
		p.Table, p.Name(), end, start).Scan(&clash)
	if err != nil {
		return fmt.Errorf("sqlite: overlap check %s: %w", p.Name(), err)
	}
	if clash != "" {
		return fmt.Errorf("sqlite: partition %q would overlap %q", p.Name(), clash)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO _partitions (name, parent, start_ms, end_ms) VALUES (?, ?, ?, ?)`,
		p.Name(), p.Table, start, end)
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("sqlite: partition %q: %w", p.Name(), partition.ErrExists)
		}
		return fmt.Errorf("sqlite: create partition %s: %w", p.Name(), err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	r.log.Debug("sqlite: partition created", zap.String("partition", p.Name()))
	return nil
}

// ListPartitions implements partition.Store.
func (r *Repository) ListPartitions(ctx context.Context, table string) ([]partition.Bounds, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, start_ms, end_ms FROM _partitions WHERE parent = ? ORDER BY start_ms`, table)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list partitions %s: %w", table, err)
	}
	defer rows.Close()

	var out []partition.Bounds
	for rows.Next() {
		var b partition.Bounds
		if err := rows.Scan(&b.Name, &b.StartMs, &b.EndMs); err != nil {
			return nil, fmt.Errorf("sqlite: scan partition: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
