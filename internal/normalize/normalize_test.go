package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdingest/internal/schema"
)

func lookup(t *testing.T, name string) *schema.RecordType {
	t.Helper()
	rt, err := schema.Builtin().Lookup(name)
	require.NoError(t, err)
	return rt
}

var klineCtx = Context{SymbolID: 7, TradingType: "um", Interval: "1m"}

func klineRow(openTime string) []any {
	return []any{
		openTime, "42000.5", "42100", "41900", "42050", "12.5",
		"1704067259999", "525000.25", "321", "6.1", "256000.75", "0",
	}
}

func TestNormalize_PositionalKline(t *testing.T) {
	t.Parallel()
	rt := lookup(t, "klines")

	res, err := New(Options{}).Normalize(Input{Rows: [][]any{klineRow("1704067200000")}}, rt, klineCtx)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)

	assert.Equal(t, rt.Columns(), res.Columns)
	assert.Equal(t, "open_time", res.Columns[res.TimeIndex])

	row := res.Rows[0]
	assert.Equal(t, int64(7), row[0])
	assert.Equal(t, "um", row[1])
	assert.Equal(t, "1m", row[2])
	assert.Equal(t, int64(1704067200000), row[3])
	assert.Equal(t, 42000.5, row[4])
	assert.Equal(t, int64(321), row[11])
	// The trailing "ignore" cell is dropped.
	assert.Len(t, row, len(rt.Columns()))
}

func TestNormalize_TimestampUnits(t *testing.T) {
	t.Parallel()
	rt := lookup(t, "klines")

	cases := map[string]int64{
		"1704067200":          1704067200000, // seconds
		"1704067200000":       1704067200000, // milliseconds
		"1704067200000000":    1704067200000, // microseconds
		"1704067200000000000": 1704067200000, // nanoseconds
		"2024-01-01T00:00:00Z": 1704067200000,
		"2024-01-01 00:00:00":  1704067200000,
		"2024-01-01":           1704067200000,
	}
	for in, want := range cases {
		res, err := New(Options{}).Normalize(Input{Rows: [][]any{klineRow(in)}}, rt, klineCtx)
		require.NoError(t, err, in)
		require.Len(t, res.Rows, 1, in)
		assert.Equal(t, want, res.Rows[0][res.TimeIndex], in)
	}
}

func TestNormalize_RejectsMissingRequired(t *testing.T) {
	t.Parallel()
	rt := lookup(t, "klines")

	rows := [][]any{
		klineRow("1704067200000"),
		klineRow(""),
		klineRow("-5"),
		klineRow("1704067320000"),
	}
	res, err := New(Options{}).Normalize(Input{Rows: rows}, rt, klineCtx)
	require.NoError(t, err)
	assert.Len(t, res.Rows, 2)
	assert.Equal(t, 2, res.Rejected)
	require.Len(t, res.Rejections, 2)
	assert.Equal(t, 1, res.Rejections[0].Row)
	assert.Equal(t, "open_time", res.Rejections[0].Field)
	assert.Equal(t, 2, res.Rejections[1].Row)
}

func TestNormalize_FillsOptionalNumeric(t *testing.T) {
	t.Parallel()
	rt := lookup(t, "klines")

	row := klineRow("1704067200000")
	row[5] = ""    // volume
	row[8] = "n/a" // number_of_trades
	row[9] = "NaN" // taker_buy_base_asset_volume
	res, err := New(Options{}).Normalize(Input{Rows: [][]any{row}}, rt, klineCtx)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Zero(t, res.Rejected)

	got := res.Rows[0]
	assert.Equal(t, 0.0, got[8])
	assert.Equal(t, int64(0), got[11])
	assert.Equal(t, 0.0, got[12])
}

func TestNormalize_ShortRowFillsTail(t *testing.T) {
	t.Parallel()
	rt := lookup(t, "klines")

	res, err := New(Options{}).Normalize(Input{Rows: [][]any{{"1704067200000", "1"}}}, rt, klineCtx)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, 0.0, res.Rows[0][5])
}

func TestNormalize_IntervalRequiredForKlines(t *testing.T) {
	t.Parallel()
	_, err := New(Options{}).Normalize(Input{}, lookup(t, "klines"), Context{SymbolID: 1, TradingType: "spot"})
	assert.Error(t, err)
}

func TestNormalize_IntervalNotInjectedForTrades(t *testing.T) {
	t.Parallel()
	rt := lookup(t, "trades")

	rows := [][]any{{"101", "42000.1", "0.5", "21000.05", "1704067200123", "TRUE"}}
	res, err := New(Options{}).Normalize(Input{Rows: rows}, rt, Context{SymbolID: 3, TradingType: "spot", Interval: "1m"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.NotContains(t, res.Columns, schema.FieldInterval)
	assert.Equal(t, []any{int64(3), "spot", int64(101), 42000.1, 0.5, 21000.05, int64(1704067200123), true}, res.Rows[0])
}

func TestNormalize_BoolCaseInsensitive(t *testing.T) {
	t.Parallel()
	rt := lookup(t, "trades")

	rows := [][]any{
		{"1", "1", "1", "1", "1704067200000", "False"},
		{"2", "1", "1", "1", "1704067200000", true},
		{"3", "1", "1", "1", "1704067200000", "yes"},
	}
	res, err := New(Options{}).Normalize(Input{Rows: rows}, rt, Context{SymbolID: 1, TradingType: "spot"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)
	assert.Equal(t, false, res.Rows[0][7])
	assert.Equal(t, true, res.Rows[1][7])
	// Unrecognized token on an optional bool falls back to false.
	assert.Equal(t, false, res.Rows[2][7])
}

func TestNormalize_RatioClampAndPrecision(t *testing.T) {
	t.Parallel()
	rt := lookup(t, "metrics")

	rows := [][]any{{
		"2024-01-01 00:05:00", "123.123456789", "99.999999999",
		"123456.1234567", "1.23456789", "-20000", "0.0000004",
	}}
	res, err := New(Options{}).Normalize(Input{Rows: rows}, rt, Context{SymbolID: 1, TradingType: "um"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)

	row := res.Rows[0]
	assert.Equal(t, int64(1704067500000), row[2])
	assert.Equal(t, 123.12345679, row[3])
	assert.Equal(t, 100.0, row[4])
	assert.Equal(t, 9999.999999, row[5])
	assert.Equal(t, 1.234568, row[6])
	assert.Equal(t, -9999.999999, row[7])
	assert.Equal(t, 0.0, row[8])
}

func TestNormalize_HeaderMapping(t *testing.T) {
	t.Parallel()
	rt := lookup(t, "bookDepth")

	in := Input{
		Header: []string{"Notional", "timestamp", "percentage", "depth"},
		Rows:   [][]any{{"1000.5", "2024-01-01 00:00:08", "-5", "12.5"}},
	}
	res, err := New(Options{}).Normalize(in, rt, Context{SymbolID: 1, TradingType: "um"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []any{int64(1), "um", int64(1704067208000), -5.0, 12.5, 1000.5}, res.Rows[0])
}

func TestNormalize_UnmatchedHeaderFallsBackToPosition(t *testing.T) {
	t.Parallel()
	rt := lookup(t, "klines")

	in := Input{
		Header: []string{"open_time", "open", "high", "low", "close"},
		Rows:   [][]any{klineRow("1704067200000")},
	}
	res, err := New(Options{}).Normalize(in, rt, klineCtx)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, 42000.5, res.Rows[0][4])
}

func TestNormalize_ArchiveKlineHeader(t *testing.T) {
	t.Parallel()
	rt := lookup(t, "klines")

	in := Input{
		Header: []string{
			"open_time", "open", "high", "low", "close", "volume", "close_time",
			"quote_volume", "count", "taker_buy_volume", "taker_buy_quote_volume", "ignore",
		},
		Rows: [][]any{klineRow("1704067200000")},
	}
	res, err := New(Options{}).Normalize(in, rt, klineCtx)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)

	want := []any{
		int64(7), "um", "1m", int64(1704067200000),
		42000.5, 42100.0, 41900.0, 42050.0, 12.5,
		int64(1704067259999), 525000.25, int64(321), 6.1, 256000.75,
	}
	assert.Equal(t, want, res.Rows[0])
}

func TestNormalize_ArchiveTradeHeaderReordered(t *testing.T) {
	t.Parallel()
	rt := lookup(t, "trades")

	in := Input{
		Header: []string{"time", "id", "price", "qty", "quote_qty", "is_buyer_maker"},
		Rows:   [][]any{{"1704067200000", "99", "42000", "0.5", "21000", "true"}},
	}
	res, err := New(Options{}).Normalize(in, rt, Context{SymbolID: 3, TradingType: "spot"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []any{int64(3), "spot", int64(99), 42000.0, 0.5, 21000.0, int64(1704067200000), true}, res.Rows[0])
}

func TestNormalize_NamedColumnar(t *testing.T) {
	t.Parallel()
	rt := lookup(t, "fundingRate")

	in := Input{
		Header: []string{"calc_time", "last_funding_rate"},
		Named:  true,
		Rows:   [][]any{{int64(1704067200000), 0.0001}},
	}
	res, err := New(Options{}).Normalize(in, rt, Context{SymbolID: 1, TradingType: "um"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []any{int64(1), "um", int64(1704067200000), int64(0), 0.0001}, res.Rows[0])
}

func TestNormalize_Dedupe(t *testing.T) {
	t.Parallel()
	rt := lookup(t, "trades")

	rows := [][]any{
		{"1", "10", "1", "10", "1704067200000", "true"},
		{"1", "11", "1", "11", "1704067200000", "true"},
		{"2", "10", "1", "10", "1704067200000", "true"},
	}
	c := Context{SymbolID: 1, TradingType: "spot"}

	res, err := New(Options{Dedupe: true}).Normalize(Input{Rows: rows}, rt, c)
	require.NoError(t, err)
	assert.Len(t, res.Rows, 2)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 10.0, res.Rows[0][3])

	res, err = New(Options{}).Normalize(Input{Rows: rows}, rt, c)
	require.NoError(t, err)
	assert.Len(t, res.Rows, 3)
}

func TestNormalize_RejectionSampleIsBounded(t *testing.T) {
	t.Parallel()
	rt := lookup(t, "klines")

	rows := make([][]any, 5)
	for i := range rows {
		rows[i] = klineRow("")
	}
	res, err := New(Options{MaxRejections: 2}).Normalize(Input{Rows: rows}, rt, klineCtx)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Rejected)
	assert.Len(t, res.Rejections, 2)
}

func TestNormalize_StringCleanup(t *testing.T) {
	t.Parallel()
	rt := lookup(t, "BVOLIndex")

	// "e" + combining acute is composed; the zero-width space is dropped.
	rows := [][]any{{"1704067200000", "BTCBVOLUSDT\u200b", "Cafe\u0301", " USDT ", "61.5"}}
	res, err := New(Options{}).Normalize(Input{Rows: rows}, rt, Context{SymbolID: 1})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []any{int64(1), int64(1704067200000), "BTCBVOLUSDT", "Caf\u00e9", "USDT", 61.5}, res.Rows[0])
}
