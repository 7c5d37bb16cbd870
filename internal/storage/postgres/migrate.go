package postgres

import (
	"context"
	"embed"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"mdingest/internal/schema"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

// Migrate creates the schema, applies the embedded migrations and then
// creates every registry table as a range-partitioned parent (or a plain
// table for unpartitioned types).
func (r *Repository) Migrate(ctx context.Context, reg *schema.Registry) error {
	if r.cfg.Schema != "" {
		if err := r.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgIdent(r.cfg.Schema)); err != nil {
			return fmt.Errorf("postgres: create schema: %w", err)
		}
	}

	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	gooseMu.Lock()
	goose.SetBaseFS(embedMigrations)
	err := goose.SetDialect("postgres")
	if err == nil {
		err = goose.UpContext(ctx, db, "migrations")
	}
	gooseMu.Unlock()
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	for _, ti := range reg.Tables() {
		stmt, err := schema.BuildCreateTableSQL(schema.TableDefFor(ti.Type, r.cfg.Schema, schema.Postgres))
		if err != nil {
			return fmt.Errorf("postgres: ddl %s: %w", ti.Name, err)
		}
		if err := r.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: create %s: %w", ti.Name, err)
		}
		r.log.Info("postgres: table ready",
			zap.String("table", ti.Name),
			zap.Bool("partitioned", ti.Partitioned),
			zap.String("time_column", string(ti.TimeColumn)),
		)
	}
	return nil
}
