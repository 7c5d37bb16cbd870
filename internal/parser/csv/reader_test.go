package csv

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadAll_NoHeaderPositional(t *testing.T) {
	t.Parallel()

	in := "1704067200000,42000.1,42100, 41900 ,42050\n1704067260000,42050,,42000,42010\n"
	res, err := ReadAll(context.Background(), strings.NewReader(in), Options{})
	require.NoError(t, err)
	assert.Nil(t, res.Header)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, []any{"1704067200000", "42000.1", "42100", "41900", "42050"}, res.Rows[0])
	assert.Nil(t, res.Rows[1][2], "empty cell must be nil")
}

func TestReadAll_DetectsHeaderAndStripsBOM(t *testing.T) {
	t.Parallel()

	in := "\uFEFFopen_time,Open Price,close\n1704067200000,1,2\n"
	res, err := ReadAll(context.Background(), strings.NewReader(in), Options{
		HeaderMap: map[string]string{"close": "close_price"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"open_time", "open_price", "close_price"}, res.Header)
	assert.Len(t, res.Rows, 1)
}

func TestReadAll_ForcedModes(t *testing.T) {
	t.Parallel()

	in := "a,b\nc,d\n"
	res, err := ReadAll(context.Background(), strings.NewReader(in), Options{Header: HeaderAbsent})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 2)

	res, err = ReadAll(context.Background(), strings.NewReader("1,2\n3,4\n"), Options{Header: HeaderPresent})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, res.Header)
	assert.Len(t, res.Rows, 1)
}

func TestReadAll_SkipsBlankAndMalformed(t *testing.T) {
	t.Parallel()

	in := "1,2\n\n,\n3,\"bad\"x\n5,6\n"
	res, err := ReadAll(context.Background(), strings.NewReader(in), Options{})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 2)
	assert.Equal(t, 1, res.Malformed)
}

func TestReadAll_Semicolon(t *testing.T) {
	t.Parallel()

	res, err := ReadAll(context.Background(), strings.NewReader("1;2\n"), Options{Comma: ';'})
	require.NoError(t, err)
	assert.Equal(t, []any{"1", "2"}, res.Rows[0])
}

func TestReadAll_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReadAll(ctx, strings.NewReader("1,2\n"), Options{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestHasEdgeSpace(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]bool{"": false, "a": false, " a": true, "a\t": true, "a b": false} {
		assert.Equal(t, want, hasEdgeSpace(in), "%q", in)
	}
}
