package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdingest/internal/partition"
	"mdingest/internal/schema"
	"mdingest/internal/storage/memory"
)

func klineLine(openMs string) string {
	return strings.Join([]string{
		openMs, "42000.5", "42100", "41900", "42050", "12.5",
		"1704067259999", "525000.25", "321", "6.1", "256000.75", "0",
	}, ",")
}

func writeFile(t *testing.T, dir, rel string, lines ...string) string {
	t.Helper()
	p := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	body := strings.Join(lines, "\n")
	if len(lines) > 0 {
		body += "\n"
	}
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

type recorder struct {
	NopReporter
	mu       sync.Mutex
	created  []string
	results  []IngestionResult
	progress []Progress
	summary  *RunSummary
}

func (r *recorder) PartitionCreated(p partition.Partition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, p.Name())
}

func (r *recorder) FileResult(res IngestionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) Progress(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
}

func (r *recorder) RunSummary(s RunSummary) { r.summary = &s }

func newOrchestrator(t *testing.T) (*Orchestrator, *memory.Store, *recorder) {
	t.Helper()
	store := memory.New()
	reg := schema.Builtin()
	require.NoError(t, store.Migrate(context.Background(), reg))
	rec := &recorder{}
	o, err := New(Deps{Store: store, Registry: reg, Reporter: rec})
	require.NoError(t, err)
	return o, store, rec
}

func TestIngestDirectory_TwoMonths(t *testing.T) {
	t.Parallel()
	o, store, rec := newOrchestrator(t)
	dir := t.TempDir()

	// 2024-01-31T23:59:00Z and 2024-02-01T00:00:00Z straddle a month boundary.
	writeFile(t, dir, "futures/um/monthly/klines/BTCUSDT/1m/BTCUSDT-1m-2024-01.csv",
		klineLine("1706745540000"),
		klineLine("1706745600000"),
		klineLine("1704067200000"),
	)

	sum := o.IngestDirectory(context.Background(), dir, Options{Concurrency: 2})
	require.NoError(t, sum.Diagnostic)
	assert.True(t, sum.OK())
	assert.Equal(t, 1, sum.TotalFiles)
	assert.Equal(t, 1, sum.SuccessfulFiles)
	assert.Equal(t, int64(3), sum.RowsWritten)
	assert.Equal(t, 2, sum.PartitionsCreated)
	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, 3, store.Rows("klines"))

	assert.ElementsMatch(t, []string{"klines_2024_01", "klines_2024_02"}, rec.created)
	require.NotNil(t, rec.summary)
	assert.Equal(t, sum.RunID, rec.summary.RunID)

	// Re-ingesting writes nothing new.
	again := o.IngestDirectory(context.Background(), dir, Options{})
	assert.True(t, again.OK())
	assert.Zero(t, again.RowsWritten)
	assert.Equal(t, int64(3), again.RowsSkipped)
	assert.Zero(t, again.PartitionsCreated)
}

func TestIngestFile_ArchiveHeaderKeepsPrices(t *testing.T) {
	t.Parallel()
	o, store, _ := newOrchestrator(t)
	dir := t.TempDir()

	path := writeFile(t, dir, "spot/monthly/klines/BTCUSDT/1m/BTCUSDT-1m-2024-01.csv",
		"open_time,open,high,low,close,volume,close_time,quote_volume,count,taker_buy_volume,taker_buy_quote_volume,ignore",
		klineLine("1704067200000"),
	)

	res := o.IngestFile(context.Background(), path)
	require.NoError(t, res.Err)
	assert.Equal(t, int64(1), res.RowsWritten)

	rows := store.Snapshot("klines")
	require.Len(t, rows, 1)
	// symbol_id, trading_type, interval, open_time, open .. close, volume
	assert.Equal(t, []any{int64(1704067200000), 42000.5, 42100.0, 41900.0, 42050.0, 12.5}, rows[0][3:9])
	assert.Equal(t, int64(321), rows[0][11])
}

func TestNew_SharedProvisionerReportsToOwnReporter(t *testing.T) {
	t.Parallel()
	store := memory.New()
	reg := schema.Builtin()
	require.NoError(t, store.Migrate(context.Background(), reg))

	prov := partition.NewProvisioner(store)
	var hooked []string
	prov.OnCreated = func(p partition.Partition) { hooked = append(hooked, p.Name()) }

	recA, recB := &recorder{}, &recorder{}
	a, err := New(Deps{Store: store, Registry: reg, Provisioner: prov, Reporter: recA})
	require.NoError(t, err)
	b, err := New(Deps{Store: store, Registry: reg, Provisioner: prov, Reporter: recB})
	require.NoError(t, err)

	dir := t.TempDir()
	jan := writeFile(t, dir, "spot/klines/BTCUSDT/1m/BTCUSDT-1m-2024-01.csv", klineLine("1704067200000"))
	feb := writeFile(t, dir, "spot/klines/BTCUSDT/1m/BTCUSDT-1m-2024-02.csv", klineLine("1706745600000"))

	require.True(t, a.IngestFile(context.Background(), jan).Success)
	require.True(t, b.IngestFile(context.Background(), feb).Success)

	assert.Equal(t, []string{"klines_2024_01"}, recA.created)
	assert.Equal(t, []string{"klines_2024_02"}, recB.created)
	assert.Equal(t, []string{"klines_2024_01", "klines_2024_02"}, hooked)
}

func TestIngestFiles_FailureDoesNotStopRun(t *testing.T) {
	t.Parallel()
	o, store, _ := newOrchestrator(t)
	dir := t.TempDir()

	good := writeFile(t, dir, "spot/klines/ETHUSDT/1h/ETHUSDT-1h-2024-03.csv", klineLine("1709251200000"))
	unknown := writeFile(t, dir, "misc/notes.csv", "a,b")
	missing := filepath.Join(dir, "spot/klines/ETHUSDT/1h/ETHUSDT-1h-2024-04.csv")

	sum := o.IngestFiles(context.Background(), []string{good, unknown, missing}, Options{Concurrency: 3})
	assert.Equal(t, 3, sum.TotalFiles)
	assert.Equal(t, 1, sum.SuccessfulFiles)
	assert.Equal(t, 2, sum.FailedFiles)
	assert.Equal(t, []string{unknown, missing}, sum.FailedFileList)
	assert.False(t, sum.OK())
	assert.Equal(t, 1, store.Rows("klines"))
}

func TestIngestFile_StageOfFailure(t *testing.T) {
	t.Parallel()
	o, _, _ := newOrchestrator(t)
	dir := t.TempDir()

	res := o.IngestFile(context.Background(), writeFile(t, dir, "misc/notes.csv", "a,b"))
	var fe *FileError
	require.True(t, errors.As(res.Err, &fe))
	assert.Equal(t, StageClassify, fe.Stage)
	assert.Equal(t, "failure", res.Status())

	res = o.IngestFile(context.Background(), filepath.Join(dir, "klines/BTCUSDT/1m/BTCUSDT-1m-2024-01.csv"))
	require.True(t, errors.As(res.Err, &fe))
	assert.Equal(t, StageRead, fe.Stage)
}

func TestIngestFile_EmptyIsSkipped(t *testing.T) {
	t.Parallel()
	o, store, _ := newOrchestrator(t)
	dir := t.TempDir()

	p := writeFile(t, dir, "klines/BTCUSDT/1m/BTCUSDT-1m-2024-01.csv")
	res := o.IngestFile(context.Background(), p)
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, "empty", res.SkipReason)
	assert.Equal(t, "skipped", res.Status())
	assert.Zero(t, store.Rows("klines"))
}

func TestIngestFile_AllRowsRejected(t *testing.T) {
	t.Parallel()
	o, _, _ := newOrchestrator(t)
	dir := t.TempDir()

	p := writeFile(t, dir, "klines/BTCUSDT/1m/BTCUSDT-1m-2024-01.csv", klineLine(""), klineLine("-1"))
	res := o.IngestFile(context.Background(), p)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.RowsRejected)
	assert.Equal(t, "no valid rows", res.SkipReason)
	assert.Len(t, res.Rejections, 2)
}

func TestIngestDirectory_EnumerationError(t *testing.T) {
	t.Parallel()
	o, _, rec := newOrchestrator(t)

	sum := o.IngestDirectory(context.Background(), filepath.Join(t.TempDir(), "nope"), Options{})
	var ee *EnumerationError
	require.True(t, errors.As(sum.Diagnostic, &ee))
	assert.Zero(t, sum.TotalFiles)
	assert.False(t, sum.OK())
	require.NotNil(t, rec.summary)
}

func TestIngestFiles_MaxFailuresStopsDispatch(t *testing.T) {
	t.Parallel()
	o, _, _ := newOrchestrator(t)
	dir := t.TempDir()

	var files []string
	for _, n := range []string{"a", "b", "c", "d", "e", "f"} {
		files = append(files, writeFile(t, dir, "misc/"+n+".csv", "x"))
	}

	sum := o.IngestFiles(context.Background(), files, Options{Concurrency: 1, MaxFailures: 2})
	assert.GreaterOrEqual(t, sum.FailedFiles, 2)
	assert.Less(t, sum.FailedFiles, len(files))
	assert.True(t, sum.Stopped)
	assert.Equal(t, len(files), sum.FailedFiles+sum.SuccessfulFiles+sum.NotDispatched)
}

func TestIngestFiles_CancelledContext(t *testing.T) {
	t.Parallel()
	o, _, _ := newOrchestrator(t)
	dir := t.TempDir()
	p := writeFile(t, dir, "klines/BTCUSDT/1m/BTCUSDT-1m-2024-01.csv", klineLine("1704067200000"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum := o.IngestFiles(ctx, []string{p}, Options{})
	assert.Equal(t, 1, sum.NotDispatched)
	assert.True(t, sum.Stopped)
	assert.Zero(t, sum.SuccessfulFiles)
}

func TestIngestFiles_ProgressAndDedupe(t *testing.T) {
	t.Parallel()
	o, _, rec := newOrchestrator(t)
	dir := t.TempDir()

	a := writeFile(t, dir, "klines/BTCUSDT/1m/BTCUSDT-1m-2024-01.csv", klineLine("1704067200000"))
	b := writeFile(t, dir, "klines/ETHUSDT/1m/ETHUSDT-1m-2024-01.csv", klineLine("1704067200000"))

	sum := o.IngestFiles(context.Background(), []string{a, b, a}, Options{ProgressEvery: 1})
	assert.Equal(t, 2, sum.TotalFiles)
	assert.Equal(t, int64(2), sum.RowsWritten)
	require.Len(t, rec.progress, 2)
	assert.Equal(t, 2, rec.progress[1].Done)
	assert.Equal(t, 2, rec.progress[1].Total)
}

func TestResolveSymbolIsCached(t *testing.T) {
	t.Parallel()
	o, _, _ := newOrchestrator(t)
	dir := t.TempDir()

	a := writeFile(t, dir, "klines/BTCUSDT/1m/BTCUSDT-1m-2024-01.csv", klineLine("1704067200000"))
	b := writeFile(t, dir, "klines/BTCUSDT/1h/BTCUSDT-1h-2024-01.csv", klineLine("1704067200000"))
	require.True(t, o.IngestFile(context.Background(), a).Success)
	require.True(t, o.IngestFile(context.Background(), b).Success)

	n := 0
	o.symbols.Range(func(_, _ any) bool { n++; return true })
	assert.Equal(t, 1, n)
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
}

func TestRunIsRecorded(t *testing.T) {
	t.Parallel()
	o, store, _ := newOrchestrator(t)
	dir := t.TempDir()
	writeFile(t, dir, "klines/BTCUSDT/1m/BTCUSDT-1m-2024-01.csv", klineLine("1704067200000"))

	sum := o.IngestDirectory(context.Background(), dir, Options{})
	o.IngestFiles(context.Background(), nil, Options{})
	o.IngestDirectory(context.Background(), filepath.Join(dir, "absent"), Options{})

	runs := store.Runs()
	require.Len(t, runs, 3)
	assert.Equal(t, sum.RunID, runs[0].RunID)
	assert.Equal(t, dir, runs[0].Root)
	assert.Equal(t, int64(1), runs[0].RowsWritten)
	assert.Equal(t, "(file list)", runs[1].Root)
	assert.Contains(t, runs[2].Diagnostic, "enumerate")
}
