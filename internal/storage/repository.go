// Package storage contains the storage-agnostic contract the ingestion core
// writes through, plus a small factory so backends (postgres, sqlite, memory)
// can register themselves at init time and callers stay backend-agnostic.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"mdingest/internal/partition"
	"mdingest/internal/schema"
)

// Repository is implemented by every storage backend.
//
// Partition methods follow the partition.Store contract: a duplicate
// partition is reported wrapping partition.ErrExists. InsertIgnore must wrap
// partition.ErrNoPartition when a row has no covering partition.
type Repository interface {
	partition.Store

	// InsertIgnore inserts rows and silently skips those violating the
	// table's uniqueness key. It returns the number of rows actually stored.
	InsertIgnore(ctx context.Context, req InsertRequest) (int64, error)

	// ResolveSymbol returns the id of s, creating the symbol if needed.
	ResolveSymbol(ctx context.Context, s Symbol) (int64, error)

	// Migrate creates the schema objects for every table in reg.
	Migrate(ctx context.Context, reg *schema.Registry) error

	Close()
}

// InsertRequest is one upsert-or-ignore batch for a single table.
type InsertRequest struct {
	Table           string
	TimeColumn      string
	Columns         []string
	ConflictColumns []string
	// Rows are positional values aligned to Columns.
	Rows [][]any
}

// Symbol is a tradable instrument.
type Symbol struct {
	Name        string
	TradingType string
	BaseAsset   string
	QuoteAsset  string
}

// Config is the backend-neutral connection configuration.
type Config struct {
	// Kind selects the backend: "postgres", "sqlite" or "memory".
	Kind string
	DSN  string
	// Schema is the database schema (postgres search_path). Optional.
	Schema string

	MinConns int32
	// MaxConns must be at least the ingestion concurrency.
	MaxConns       int32
	ConnectTimeout time.Duration

	Logger *zap.Logger
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs (or replaces) the factory for kind. Backends call it from
// their init functions.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = f
}

// New opens a Repository using the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return f(ctx, cfg)
}

// ListKinds returns a sorted snapshot of the registered backend kinds.
func ListKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RunRecord is the persisted summary of one ingestion run.
type RunRecord struct {
	RunID             string
	Root              string
	Started           time.Time
	Finished          time.Time
	TotalFiles        int
	SuccessfulFiles   int
	FailedFiles       int
	RowsWritten       int64
	RowsRejected      int64
	RowsSkipped       int64
	PartitionsCreated int
	Diagnostic        string
}

// RunRecorder is implemented by backends that keep a history of runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, r RunRecord) error
}
