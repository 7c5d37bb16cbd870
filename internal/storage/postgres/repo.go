// Package postgres implements storage.Repository on PostgreSQL using pgx v5.
//
// Rows are written by COPY into a transaction-scoped temporary staging table
// followed by INSERT ... SELECT ... ON CONFLICT DO NOTHING into the parent
// table, so Postgres routes each row to its monthly partition and silently
// skips rows that violate the table's uniqueness key.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"mdingest/internal/storage"
)

// Config holds Postgres repository configuration.
type Config struct {
	DSN            string // connection string for pgxpool
	Schema         string // schema holding the market tables; sets search_path
	MinConns       int32
	MaxConns       int32
	ConnectTimeout time.Duration
}

// Repository is a Postgres-backed implementation of storage.Repository.
type Repository struct {
	pool *pgxpool.Pool
	cfg  Config
	log  *zap.Logger
}

// NewRepository opens a pool, pings it and returns a Close function.
func NewRepository(ctx context.Context, cfg Config, log *zap.Logger) (*Repository, func(), error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	if cfg.ConnectTimeout > 0 {
		pcfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.Schema != "" {
		pcfg.ConnConfig.RuntimeParams["search_path"] = cfg.Schema + ",public"
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pgxpool: ping: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("postgres: pool ready",
		zap.String("schema", cfg.Schema),
		zap.Int32("max_conns", pcfg.MaxConns),
		zap.Int32("min_conns", pcfg.MinConns),
	)
	return &Repository{pool: pool, cfg: cfg, log: log}, pool.Close, nil
}

// qualify prefixes name with the configured schema.
func (r *Repository) qualify(name string) string {
	if r.cfg.Schema == "" || strings.Contains(name, ".") {
		return name
	}
	return r.cfg.Schema + "." + name
}

// InsertIgnore implements storage.Repository.
//
// The conflict target is left implicit so every unique constraint of the
// destination table causes a skip; req.ConflictColumns is informational here.
func (r *Repository) InsertIgnore(ctx context.Context, req storage.InsertRequest) (int64, error) {
	if len(req.Rows) == 0 {
		return 0, nil
	}
	if len(req.Columns) == 0 {
		return 0, fmt.Errorf("postgres: no columns for %s", req.Table)
	}

	fqTable := pgFQN(r.qualify(req.Table))
	tmp := "stage_" + strings.ReplaceAll(req.Table, ".", "_")
	cols := strings.Join(mapIdent(req.Columns), ",")

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	create := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgIdent(tmp), fqTable,
	)
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, fmt.Errorf("postgres: create staging for %s: %w", req.Table, classify(err))
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tmp}, req.Columns, pgx.CopyFromRows(req.Rows)); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Detail != "" {
			return 0, fmt.Errorf("postgres: copy into staging: %s (%s)", pgErr.Detail, pgErr.SQLState())
		}
		return 0, fmt.Errorf("postgres: copy into staging: %w", err)
	}

	insert := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT DO NOTHING",
		fqTable, cols, cols, pgIdent(tmp),
	)
	tag, err := tx.Exec(ctx, insert)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert into %s: %w", req.Table, classify(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Exec runs a single statement outside a transaction.
func (r *Repository) Exec(ctx context.Context, sql string) error {
	_, err := r.pool.Exec(ctx, sql)
	return classify(err)
}

// pgIdent safely quotes a single identifier segment for Postgres.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// pgFQN quotes a possibly schema-qualified name like "binance_data.klines" to
// "binance_data"."klines". If no dot is present, returns a single quoted ident.
func pgFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pgIdent(p)
	}
	return strings.Join(parts, ".")
}

// mapIdent maps a list of column names to their quoted forms.
func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return out
}
