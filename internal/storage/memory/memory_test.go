package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdingest/internal/partition"
	"mdingest/internal/schema"
	"mdingest/internal/storage"
)

func jan(ms int64) int64 {
	start, _ := partition.MonthBounds(2024, time.January)
	return start + ms
}

func req(rows ...[]any) storage.InsertRequest {
	return storage.InsertRequest{
		Table:           "x",
		TimeColumn:      "timestamp",
		Columns:         []string{"id", "timestamp"},
		ConflictColumns: []string{"id", "timestamp"},
		Rows:            rows,
	}
}

func TestInsertRequiresCoveringPartition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	s.DeclarePartitioned("x")

	_, err := s.InsertIgnore(ctx, req([]any{int64(1), jan(5)}))
	require.ErrorIs(t, err, partition.ErrNoPartition)

	require.NoError(t, s.CreatePartition(ctx, partition.Partition{Table: "x", Year: 2024, Month: time.January}))
	n, err := s.InsertIgnore(ctx, req([]any{int64(1), jan(5)}))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestInsertSkipsConflicts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	batch := req([]any{int64(1), jan(1)}, []any{int64(2), jan(2)}, []any{int64(1), jan(1)})

	n, err := s.InsertIgnore(ctx, batch)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = s.InsertIgnore(ctx, batch)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, s.Rows("x"))
}

func TestCreatePartitionDuplicateAndOverlap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	p := partition.Partition{Table: "x", Year: 2024, Month: time.March}
	require.NoError(t, s.CreatePartition(ctx, p))
	require.ErrorIs(t, s.CreatePartition(ctx, p), partition.ErrExists)

	ok, err := s.PartitionExists(ctx, "x", p.Name())
	require.NoError(t, err)
	assert.True(t, ok)

	s.DropPartition("x", p.Name())
	ok, _ = s.PartitionExists(ctx, "x", p.Name())
	assert.False(t, ok)
}

func TestMigrateMarksPartitionedTables(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	require.NoError(t, s.Migrate(ctx, schema.Builtin()))

	_, err := s.InsertIgnore(ctx, storage.InsertRequest{
		Table: "funding_rates", TimeColumn: "calc_time",
		Columns: []string{"symbol_id", "calc_time"}, Rows: [][]any{{int64(1), jan(0)}},
	})
	require.ErrorIs(t, err, partition.ErrNoPartition)

	n, err := s.InsertIgnore(ctx, storage.InsertRequest{
		Table: "bvol_index", TimeColumn: "calc_time",
		Columns: []string{"symbol_id", "calc_time"}, Rows: [][]any{{int64(1), jan(0)}},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestResolveSymbolIsStable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	a, err := s.ResolveSymbol(ctx, storage.Symbol{Name: "BTCUSDT", TradingType: "spot"})
	require.NoError(t, err)
	b, _ := s.ResolveSymbol(ctx, storage.Symbol{Name: "BTCUSDT", TradingType: "um"})
	again, _ := s.ResolveSymbol(ctx, storage.Symbol{Name: "BTCUSDT", TradingType: "spot"})
	assert.Equal(t, a, again)
	assert.NotEqual(t, a, b)

	_, err = s.ResolveSymbol(ctx, storage.Symbol{})
	assert.Error(t, err)
}

func TestRegisteredWithFactory(t *testing.T) {
	t.Parallel()

	repo, err := storage.New(context.Background(), storage.Config{Kind: "memory"})
	require.NoError(t, err)
	defer repo.Close()
	assert.IsType(t, &Store{}, repo)
}

func TestRecordRunKeepsOrder(t *testing.T) {
	t.Parallel()
	s := New()
	require.NoError(t, s.RecordRun(context.Background(), storage.RunRecord{RunID: "a"}))
	require.NoError(t, s.RecordRun(context.Background(), storage.RunRecord{RunID: "b"}))

	runs := s.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, "a", runs[0].RunID)
	assert.Equal(t, "b", runs[1].RunID)
}
