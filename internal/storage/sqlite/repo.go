// Package sqlite implements storage.Repository on SQLite (modernc, pure Go).
//
// SQLite has no declarative partitioning, so monthly partitions are emulated:
// rows live in the parent table and a _partitions catalog records which
// half-open time ranges are open for writing. An insert touching a range
// with no catalog entry fails with partition.ErrNoPartition, exactly like a
// Postgres parent table without a matching child.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"mdingest/internal/partition"
	"mdingest/internal/storage"
)

// Config holds SQLite repository configuration derived from storage.Config.
type Config struct {
	// DSN is a SQLite connection string or file path, e.g.:
	//   "file:md.db?_pragma=busy_timeout(5000)"
	//   ":memory:"
	DSN string
}

// Repository is a SQLite-backed implementation of storage.Repository.
type Repository struct {
	db  *sql.DB
	cfg Config
	log *zap.Logger

	mu     sync.RWMutex
	tables map[string]tableInfo
}

type tableInfo struct {
	timeColumn  string
	partitioned bool
}

// NewRepository opens the database and returns a Repository plus a Close
// function. SQLite allows one writer at a time, so the pool is capped at a
// single connection.
func NewRepository(ctx context.Context, cfg Config, log *zap.Logger) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	if log == nil {
		log = zap.NewNop()
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	r := &Repository{db: db, cfg: cfg, log: log, tables: map[string]tableInfo{}}
	if err := r.loadTables(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	closeFn := func() { db.Close() }
	return r, closeFn, nil
}

// loadTables reads the table registry written by Migrate. A fresh database
// has none yet.
func (r *Repository) loadTables(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, `SELECT name, time_column, partitioned FROM _tables`)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return nil
		}
		return fmt.Errorf("sqlite: load tables: %w", err)
	}
	defer rows.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	for rows.Next() {
		var name string
		var ti tableInfo
		if err := rows.Scan(&name, &ti.timeColumn, &ti.partitioned); err != nil {
			return fmt.Errorf("sqlite: scan table: %w", err)
		}
		r.tables[name] = ti
	}
	return rows.Err()
}

func (r *Repository) table(name string) tableInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tables[name]
}

// InsertIgnore implements storage.Repository with INSERT OR IGNORE inside one
// transaction. Coverage of every row is checked before anything is written.
func (r *Repository) InsertIgnore(ctx context.Context, req storage.InsertRequest) (int64, error) {
	if len(req.Columns) == 0 {
		return 0, fmt.Errorf("sqlite: no columns for %s", req.Table)
	}
	if len(req.Rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if ti := r.table(req.Table); ti.partitioned {
		if err := checkCoverage(ctx, tx, req); err != nil {
			return 0, err
		}
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(req.Columns)), ", ")
	stmtSQL := fmt.Sprintf(
		"INSERT OR IGNORE INTO %s (%s) VALUES (%s)",
		quoteIdent(req.Table), strings.Join(mapIdent(req.Columns), ", "), placeholders,
	)
	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, row := range req.Rows {
		if len(row) != len(req.Columns) {
			return 0, fmt.Errorf("sqlite: row length %d != columns length %d", len(row), len(req.Columns))
		}
		res, err := stmt.ExecContext(ctx, row...)
		if err != nil {
			return 0, fmt.Errorf("sqlite: insert into %s: %w", req.Table, err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return inserted, nil
}

// checkCoverage fails with partition.ErrNoPartition when a row's event time
// falls outside every catalogued partition of the table.
func checkCoverage(ctx context.Context, tx *sql.Tx, req storage.InsertRequest) error {
	ti := -1
	for i, c := range req.Columns {
		if c == req.TimeColumn {
			ti = i
			break
		}
	}
	if ti < 0 {
		return fmt.Errorf("sqlite: time column %q not in columns", req.TimeColumn)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT start_ms, end_ms FROM _partitions WHERE parent = ? ORDER BY start_ms`, req.Table)
	if err != nil {
		return fmt.Errorf("sqlite: read partitions: %w", err)
	}
	var ranges []partition.Bounds
	for rows.Next() {
		var b partition.Bounds
		if err := rows.Scan(&b.StartMs, &b.EndMs); err != nil {
			rows.Close()
			return fmt.Errorf("sqlite: scan partition: %w", err)
		}
		ranges = append(ranges, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, row := range req.Rows {
		ms, _ := row[ti].(int64)
		covered := false
		for _, b := range ranges {
			if b.StartMs <= ms && ms < b.EndMs {
				covered = true
				break
			}
		}
		if !covered {
			return fmt.Errorf("sqlite: no partition of relation %q found for %s=%d: %w",
				req.Table, req.TimeColumn, ms, partition.ErrNoPartition)
		}
	}
	return nil
}

// isConstraint reports whether err is a UNIQUE or PRIMARY KEY violation.
func isConstraint(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// Exec executes an arbitrary SQL statement (typically DDL).
func (r *Repository) Exec(ctx context.Context, sql string) error {
	if strings.TrimSpace(sql) == "" {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, sql); err != nil {
		return fmt.Errorf("sqlite: exec: %w", err)
	}
	return nil
}

func quoteIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = quoteIdent(c)
	}
	return out
}
