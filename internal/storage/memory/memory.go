// Package memory is an in-process storage backend. It honors the same
// partition and conflict-skip contract as the SQL backends and is used for
// dry runs and hermetic tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"mdingest/internal/partition"
	"mdingest/internal/schema"
	"mdingest/internal/storage"
)

func init() {
	storage.Register("memory", func(_ context.Context, _ storage.Config) (storage.Repository, error) {
		return New(), nil
	})
}

var _ storage.Repository = (*Store)(nil)

type table struct {
	partitioned bool
	parts       map[string]partition.Bounds
	keys        map[string]struct{}
	rows        [][]any
}

// Store is a concurrency-safe in-memory Repository.
type Store struct {
	mu      sync.Mutex
	tables  map[string]*table
	symbols map[string]int64
	runs    []storage.RunRecord
}

// New returns an empty store. Tables unknown to Migrate are created on first
// use as unpartitioned tables.
func New() *Store {
	return &Store{tables: map[string]*table{}, symbols: map[string]int64{}}
}

func (s *Store) table(name string) *table {
	t, ok := s.tables[name]
	if !ok {
		t = &table{parts: map[string]partition.Bounds{}, keys: map[string]struct{}{}}
		s.tables[name] = t
	}
	return t
}

// Migrate registers every table of reg with its partitioning mode.
func (s *Store) Migrate(_ context.Context, reg *schema.Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ti := range reg.Tables() {
		s.table(ti.Name).partitioned = ti.Partitioned
	}
	return nil
}

// DeclarePartitioned marks name as a partitioned table.
func (s *Store) DeclarePartitioned(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table(name).partitioned = true
}

func (s *Store) PartitionExists(_ context.Context, tbl, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.table(tbl).parts[name]
	return ok, nil
}

func (s *Store) CreatePartition(_ context.Context, p partition.Partition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(p.Table)
	if _, ok := t.parts[p.Name()]; ok {
		return fmt.Errorf("memory: relation %q: %w", p.Name(), partition.ErrExists)
	}
	start, end := p.Bounds()
	for _, b := range t.parts {
		if start < b.EndMs && b.StartMs < end {
			return fmt.Errorf("memory: partition %q would overlap %q", p.Name(), b.Name)
		}
	}
	t.parts[p.Name()] = partition.Bounds{Name: p.Name(), StartMs: start, EndMs: end}
	return nil
}

// DropPartition removes a partition, like a retention job would. Stored rows
// are kept.
func (s *Store) DropPartition(tbl, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.table(tbl).parts, name)
}

func (s *Store) ListPartitions(_ context.Context, tbl string) ([]partition.Bounds, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(tbl)
	out := make([]partition.Bounds, 0, len(t.parts))
	for _, b := range t.parts {
		out = append(out, b)
	}
	return out, nil
}

// InsertIgnore stores rows whose conflict key is new. Like a single SQL
// statement, a row without a covering partition fails the whole request.
func (s *Store) InsertIgnore(_ context.Context, req storage.InsertRequest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(req.Table)

	idx := make(map[string]int, len(req.Columns))
	for i, c := range req.Columns {
		idx[c] = i
	}
	keyIdx := make([]int, 0, len(req.ConflictColumns))
	for _, c := range req.ConflictColumns {
		i, ok := idx[c]
		if !ok {
			return 0, fmt.Errorf("memory: conflict column %q not in columns", c)
		}
		keyIdx = append(keyIdx, i)
	}

	if t.partitioned {
		ti, ok := idx[req.TimeColumn]
		if !ok {
			return 0, fmt.Errorf("memory: time column %q not in columns", req.TimeColumn)
		}
		for _, row := range req.Rows {
			ms, _ := row[ti].(int64)
			if !t.covered(ms) {
				return 0, fmt.Errorf("memory: %s: %d: %w", req.Table, ms, partition.ErrNoPartition)
			}
		}
	}

	var n int64
	var sb strings.Builder
	for _, row := range req.Rows {
		sb.Reset()
		for _, i := range keyIdx {
			fmt.Fprintf(&sb, "%v\x00", row[i])
		}
		k := sb.String()
		if len(keyIdx) > 0 {
			if _, dup := t.keys[k]; dup {
				continue
			}
			t.keys[k] = struct{}{}
		}
		t.rows = append(t.rows, append([]any(nil), row...))
		n++
	}
	return n, nil
}

func (t *table) covered(ms int64) bool {
	for _, b := range t.parts {
		if b.StartMs <= ms && ms < b.EndMs {
			return true
		}
	}
	return false
}

// Rows returns the number of rows stored in tbl.
func (s *Store) Rows(tbl string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.table(tbl).rows)
}

// Snapshot returns copies of the rows stored in tbl, in insert order. Each
// row follows the column order of the request that wrote it.
func (s *Store) Snapshot(tbl string) [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.table(tbl).rows
	out := make([][]any, len(src))
	for i, r := range src {
		out[i] = append([]any(nil), r...)
	}
	return out
}

// ResolveSymbol assigns sequential ids per (name, trading type).
func (s *Store) ResolveSymbol(_ context.Context, sym storage.Symbol) (int64, error) {
	if sym.Name == "" {
		return 0, fmt.Errorf("memory: empty symbol")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := sym.Name + "\x00" + sym.TradingType
	if id, ok := s.symbols[k]; ok {
		return id, nil
	}
	id := int64(len(s.symbols) + 1)
	s.symbols[k] = id
	return id, nil
}

// RecordRun keeps r in memory.
func (s *Store) RecordRun(_ context.Context, r storage.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, r)
	return nil
}

// Runs returns the recorded runs in order.
func (s *Store) Runs() []storage.RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.RunRecord(nil), s.runs...)
}

func (s *Store) Close() {}
