package normalize

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"mdingest/internal/schema"
)

// Epoch thresholds. Values below secondsBelow are seconds; from microsAbove
// they are microseconds, from nanosAbove nanoseconds.
const (
	secondsBelow = 1_000_000_000_000
	microsAbove  = 1_000_000_000_000_000
	nanosAbove   = 1_000_000_000_000_000_000
)

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// coerce converts one raw cell to f's kind. It returns nil for missing or
// unparseable input.
func coerce(f schema.Field, raw any, clean *cleaner) any {
	if raw == nil {
		return nil
	}
	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		raw = s
	}

	switch f.Kind {
	case schema.KindTimestamp:
		ms, ok := toMillis(raw)
		if !ok {
			return nil
		}
		return ms
	case schema.KindFloat:
		v, ok := toFloat(raw)
		if !ok {
			return nil
		}
		return guard(v, f)
	case schema.KindInt:
		v, ok := toInt(raw)
		if !ok {
			return nil
		}
		return v
	case schema.KindBool:
		switch t := raw.(type) {
		case bool:
			return t
		case string:
			switch {
			case strings.EqualFold(t, "true"):
				return true
			case strings.EqualFold(t, "false"):
				return false
			}
		}
		return nil
	default:
		var s string
		switch t := raw.(type) {
		case string:
			s = t
		case int64:
			s = strconv.FormatInt(t, 10)
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			s = strconv.FormatBool(t)
		default:
			return nil
		}
		s = clean.String(s)
		if s == "" {
			return nil
		}
		return s
	}
}

// toMillis accepts epoch seconds, milliseconds, microseconds or nanoseconds
// (by magnitude) and ISO-8601 strings. Non-positive instants are missing.
func toMillis(raw any) (int64, bool) {
	var n int64
	switch t := raw.(type) {
	case int64:
		n = t
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		n = int64(t)
	case string:
		if i, err := strconv.ParseInt(t, 10, 64); err == nil {
			n = i
			break
		}
		if f, err := strconv.ParseFloat(t, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			n = int64(f)
			break
		}
		for _, layout := range isoLayouts {
			if ts, err := time.Parse(layout, t); err == nil {
				n = ts.UnixMilli()
				return n, n > 0
			}
		}
		return 0, false
	default:
		return 0, false
	}
	if n <= 0 {
		return 0, false
	}
	switch {
	case n < secondsBelow:
		n *= 1000
	case n >= nanosAbove:
		n /= 1_000_000
	case n >= microsAbove:
		n /= 1000
	}
	return n, true
}

func toFloat(raw any) (float64, bool) {
	var v float64
	switch t := raw.(type) {
	case float64:
		v = t
	case int64:
		v = float64(t)
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func toInt(raw any) (int64, bool) {
	switch t := raw.(type) {
	case int64:
		return t, true
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int64(t), true
	case string:
		if i, err := strconv.ParseInt(t, 10, 64); err == nil {
			return i, true
		}
		f, err := strconv.ParseFloat(t, 64)
		if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return int64(f), true
	}
	return 0, false
}

// guard clamps then rounds v per f's metadata.
func guard(v float64, f schema.Field) float64 {
	if f.Clamp > 0 {
		v = max(-f.Clamp, min(f.Clamp, v))
	}
	if f.Precision > 0 {
		v = decimal.NewFromFloat(v).Round(f.Precision).InexactFloat64()
	}
	return v
}

// cleaner NFC-normalizes strings and drops control and format runes. It is
// not safe for concurrent use.
type cleaner struct {
	t transform.Transformer
}

func newCleaner() *cleaner {
	return &cleaner{t: transform.Chain(
		norm.NFC,
		runes.Remove(runes.In(unicode.Cc)),
		runes.Remove(runes.In(unicode.Cf)),
	)}
}

func (c *cleaner) String(s string) string {
	out, _, err := transform.String(c.t, s)
	if err != nil {
		return s
	}
	return strings.TrimSpace(out)
}
