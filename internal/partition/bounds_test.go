package partition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dayMs = int64(86_400_000)

func TestMonthBoundsEveryMonth(t *testing.T) {
	t.Parallel()

	for _, year := range []int{1999, 2000, 2023, 2024, 2100} {
		for m := time.January; m <= time.December; m++ {
			start, end := MonthBounds(year, m)
			require.Greater(t, end, start)

			days := time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
			assert.Equal(t, int64(days)*dayMs, end-start, "%d-%02d", year, m)
		}
	}
}

func TestMonthBoundsDecemberRollsOver(t *testing.T) {
	t.Parallel()

	_, decEnd := MonthBounds(2024, time.December)
	janStart, _ := MonthBounds(2025, time.January)
	assert.Equal(t, janStart, decEnd)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), decEnd)
}

func TestPartitionName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "klines_2024_01", Partition{Table: "klines", Year: 2024, Month: time.January}.Name())
	assert.Equal(t, "trades_2023_12", Partition{Table: "trades", Year: 2023, Month: time.December}.Name())
}

func TestCovering(t *testing.T) {
	t.Parallel()

	start, end := MonthBounds(2024, time.February)
	cases := []struct {
		ms   int64
		want time.Month
	}{
		{start, time.February},
		{end - 1, time.February},
		{end, time.March},
		{start - 1, time.January},
	}
	for _, tc := range cases {
		p := Covering("x", tc.ms)
		assert.Equal(t, 2024, p.Year)
		assert.Equal(t, tc.want, p.Month, "ms=%d", tc.ms)
		s, e := p.Bounds()
		assert.True(t, s <= tc.ms && tc.ms < e)
	}
}

func TestYearMonthArithmetic(t *testing.T) {
	t.Parallel()

	ym, err := ParseYearMonth("2024-11")
	require.NoError(t, err)
	assert.Equal(t, YearMonth{2025, time.February}, ym.Add(3))
	assert.Equal(t, YearMonth{2023, time.November}, ym.Add(-12))
	assert.Len(t, Months(ym, ym.Add(2)), 3)
	assert.Empty(t, Months(ym.Add(1), ym))

	_, err = ParseYearMonth("2024/11")
	assert.Error(t, err)
}

func TestParseBoundExpr(t *testing.T) {
	t.Parallel()

	start, end, err := ParseBoundExpr("FOR VALUES FROM ('1704067200000') TO ('1706745600000')")
	require.NoError(t, err)
	assert.Equal(t, int64(1704067200000), start)
	assert.Equal(t, int64(1706745600000), end)

	start, end, err = ParseBoundExpr("FOR VALUES FROM (1) TO (2)")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, []int64{start, end})

	_, _, err = ParseBoundExpr("DEFAULT")
	assert.Error(t, err)
}

func boundsOf(table string, ym YearMonth) Bounds {
	p := ym.Of(table)
	s, e := p.Bounds()
	return Bounds{Name: p.Name(), StartMs: s, EndMs: e}
}

func TestCheckContiguity(t *testing.T) {
	t.Parallel()

	jan := YearMonth{2024, time.January}
	contiguous := []Bounds{boundsOf("t", jan.Add(2)), boundsOf("t", jan), boundsOf("t", jan.Add(1))}
	assert.Empty(t, CheckContiguity(contiguous))

	gap := []Bounds{boundsOf("t", jan), boundsOf("t", jan.Add(2))}
	got := CheckContiguity(gap)
	require.Len(t, got, 1)
	assert.Equal(t, Gap, got[0].Kind)

	feb := boundsOf("t", jan.Add(1))
	wide := Bounds{Name: "t_wide", StartMs: feb.StartMs - dayMs, EndMs: feb.EndMs}
	got = CheckContiguity([]Bounds{boundsOf("t", jan), wide})
	kinds := []AnomalyKind{}
	for _, a := range got {
		kinds = append(kinds, a.Kind)
	}
	assert.ElementsMatch(t, []AnomalyKind{Misaligned, Overlap}, kinds)
}
