package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mdingest/internal/config"
	"mdingest/internal/partition"
	"mdingest/internal/schema"
	"mdingest/internal/storage/memory"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeKlines(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	p := filepath.Join(dir, "futures", "um", "monthly", "klines", "BTCUSDT", "1m", "BTCUSDT-1m-2024-01.csv")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return p
}

const (
	janRow = "1704067200000,42000.5,42100,41900,42050,12.5,1704067259999,525000.25,321,6.1,256000.75,0"
	febRow = "1706745600000,43000.5,43100,42900,43050,10.5,1706745659999,451000.25,300,5.1,220000.75,0"
)

func TestIngestDryRun(t *testing.T) {
	dir := t.TempDir()
	writeKlines(t, dir, janRow, febRow)

	out, err := run(t, "ingest", dir, "--dry-run", "--concurrency", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "(dry run)")
	assert.Contains(t, out, "1 total, 1 ok, 0 failed")
	assert.Contains(t, out, "2 written, 0 skipped, 0 rejected")
	assert.Contains(t, out, "partitions: 2 created")
}

func TestIngestFileList(t *testing.T) {
	dir := t.TempDir()
	p := writeKlines(t, dir, janRow)
	list := filepath.Join(dir, "files.txt")
	require.NoError(t, os.WriteFile(list, []byte("# archive\n"+p+"\n"+p+"\n"), 0o644))

	out, err := run(t, "ingest", "--dry-run", "--file-list", list)
	require.NoError(t, err)
	assert.Contains(t, out, "1 total, 1 ok")
}

func TestIngestStrict(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.csv"), []byte("a,b\n"), 0o644))

	out, err := run(t, "ingest", dir, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "1 failed")

	_, err = run(t, "ingest", dir, "--dry-run", "--strict")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 files failed")
}

func TestIngestMissingRoot(t *testing.T) {
	_, err := run(t, "ingest", filepath.Join(t.TempDir(), "absent"), "--dry-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enumerate")
}

func TestProbe(t *testing.T) {
	dir := t.TempDir()
	p := writeKlines(t, dir, janRow, "0,1,2,3,4,5,6,7,8,9,10,0", janRow)

	out, err := run(t, "probe", p)
	require.NoError(t, err)
	assert.Contains(t, out, "record type:  klines -> klines")
	assert.Contains(t, out, "symbol:       BTCUSDT (um)")
	assert.Contains(t, out, "interval:     1m")
	assert.Contains(t, out, "3 read, 1 valid, 1 rejected, 1 duplicates")

	out, err = run(t, "probe", p, "--json", "--rows", "0")
	require.NoError(t, err)
	assert.Contains(t, out, `"record_type": "klines"`)
	assert.Contains(t, out, `"sample": []`)
}

func TestValidateCommand(t *testing.T) {
	out, err := run(t, "validate", "--store", "memory")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration ok")

	out, err = run(t, "validate", "--store", "oracle")
	require.Error(t, err)
	assert.Contains(t, out, "database.kind")
}

func TestPartitionsEnsure(t *testing.T) {
	out, err := run(t, "partitions", "ensure", "--store", "memory", "--table", "klines", "--from", "2024-01", "--to", "2024-03")
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "created klines_2024_"))

	_, err = run(t, "partitions", "ensure", "--store", "memory", "--table", "bvol_index", "--from", "2024-01")
	require.Error(t, err)

	_, err = run(t, "partitions", "ensure", "--store", "memory", "--from", "2024-03", "--to", "2024-01")
	require.Error(t, err)
}

func TestMaintainOnce(t *testing.T) {
	var out bytes.Buffer
	store := memory.New()
	require.NoError(t, store.Migrate(context.Background(), schema.Builtin()))
	a := &app{v: viper.New(), log: zap.NewNop(), reg: schema.Builtin(), out: &out}

	now := func() time.Time { return time.Date(2024, time.November, 15, 0, 0, 0, 0, time.UTC) }
	prov := partition.NewProvisioner(store)
	err := a.maintain(context.Background(), prov, []string{"klines"}, config.Partitions{MonthsAhead: 2}, now)
	require.NoError(t, err)
	assert.Equal(t, "created klines_2024_11\ncreated klines_2024_12\ncreated klines_2025_01\n", sortLines(out.String()))

	bs, err := prov.Catalog().List(context.Background(), "klines")
	require.NoError(t, err)
	assert.Len(t, bs, 3)
	assert.Empty(t, partition.CheckContiguity(bs))
}

func TestMaintainRejectsBadSchedule(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Migrate(context.Background(), schema.Builtin()))
	a := &app{v: viper.New(), log: zap.NewNop(), reg: schema.Builtin(), out: &bytes.Buffer{}}

	err := a.maintain(context.Background(), partition.NewProvisioner(store), []string{"klines"},
		config.Partitions{Schedule: "every now and then"}, time.Now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule")
}

func sortLines(s string) string {
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	slices.Sort(lines)
	return strings.Join(lines, "\n") + "\n"
}
