package sqlite

import (
	"context"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"mdingest/internal/schema"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

var gooseMu sync.Mutex

// Migrate applies the catalog migrations and creates every registry table.
func (r *Repository) Migrate(ctx context.Context, reg *schema.Registry) error {
	gooseMu.Lock()
	goose.SetBaseFS(embedMigrations)
	err := goose.SetDialect("sqlite3")
	if err == nil {
		err = goose.UpContext(ctx, r.db, "migrations")
	}
	gooseMu.Unlock()
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	for _, ti := range reg.Tables() {
		stmt, err := schema.BuildCreateTableSQL(schema.TableDefFor(ti.Type, "", schema.SQLite))
		if err != nil {
			return fmt.Errorf("sqlite: ddl %s: %w", ti.Name, err)
		}
		if err := r.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: create %s: %w", ti.Name, err)
		}
		_, err = r.db.ExecContext(ctx,
			`INSERT INTO _tables (name, time_column, partitioned) VALUES (?, ?, ?)
			 ON CONFLICT (name) DO UPDATE SET time_column = excluded.time_column, partitioned = excluded.partitioned`,
			ti.Name, string(ti.TimeColumn), ti.Partitioned)
		if err != nil {
			return fmt.Errorf("sqlite: register %s: %w", ti.Name, err)
		}
		r.log.Info("sqlite: table ready", zap.String("table", ti.Name), zap.Bool("partitioned", ti.Partitioned))
	}
	return r.loadTables(ctx)
}
