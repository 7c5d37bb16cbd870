package normalize

import (
	"math"
	"strconv"

	"github.com/zeebo/xxh3"

	"mdingest/internal/schema"
)

// keySet remembers conflict keys already seen in a batch. The first row for
// a key wins, matching what the store keeps under insert-or-ignore.
type keySet struct {
	idx  []int
	seen map[xxh3.Uint128]struct{}
	buf  []byte
}

func newKeySet(rt *schema.RecordType, columns []string, hint int) *keySet {
	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		pos[c] = i
	}
	ks := &keySet{seen: make(map[xxh3.Uint128]struct{}, hint)}
	for _, k := range rt.ConflictKey() {
		if i, ok := pos[k]; ok {
			ks.idx = append(ks.idx, i)
		}
	}
	return ks
}

// add reports whether row's key is new.
func (ks *keySet) add(row []any) bool {
	if len(ks.idx) == 0 {
		return true
	}
	b := ks.buf[:0]
	for _, i := range ks.idx {
		switch v := row[i].(type) {
		case int64:
			b = strconv.AppendInt(b, v, 10)
		case float64:
			b = strconv.AppendUint(b, math.Float64bits(v), 16)
		case bool:
			b = strconv.AppendBool(b, v)
		case string:
			b = append(b, v...)
		case nil:
			b = append(b, 0)
		}
		b = append(b, 0x1f)
	}
	ks.buf = b
	h := xxh3.Hash128(b)
	if _, dup := ks.seen[h]; dup {
		return false
	}
	ks.seen[h] = struct{}{}
	return true
}
