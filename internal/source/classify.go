// Package source classifies archive file paths into the record type, symbol,
// trading type, interval and period they hold.
//
// Archive layouts look like
//
//	data/futures/um/monthly/klines/BTCUSDT/1m/BTCUSDT-1m-2024-01.zip
//	data/spot/daily/trades/ETHUSDT/ETHUSDT-trades-2024-01-15.zip
//	data/option/daily/BVOLIndex/BTCBVOLUSDT/BTCBVOLUSDT-BVOLIndex-2024-01-15.zip
package source

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ErrUnrecognized is returned when a path does not follow the archive naming.
var ErrUnrecognized = errors.New("unrecognized source path")

// Trading types.
const (
	Spot   = "spot"
	UM     = "um"
	CM     = "cm"
	Option = "option"
)

// Intervals lists the kline granularities found in archive names.
var Intervals = []string{
	"1s", "1m", "3m", "5m", "15m", "30m",
	"1h", "2h", "4h", "6h", "8h", "12h",
	"1d", "3d", "1w", "1mo",
}

// IsInterval reports whether s is a known kline interval.
func IsInterval(s string) bool { return slices.Contains(Intervals, s) }

var suffixes = []string{".csv", ".zip", ".gz", ".parquet", ".pq", ".feather", ".arrow"}

// Classification is what a path says about the file it names.
type Classification struct {
	RecordType  string
	Symbol      string
	TradingType string
	// Interval is empty for record types without sub-interval granularity.
	Interval string
	Year     int
	Month    time.Month
	// Day is 0 for monthly archives.
	Day int
}

// Monthly reports whether the file covers a whole month.
func (c Classification) Monthly() bool { return c.Day == 0 }

// Period renders the covered period as YYYY-MM or YYYY-MM-DD.
func (c Classification) Period() string {
	if c.Monthly() {
		return fmt.Sprintf("%04d-%02d", c.Year, int(c.Month))
	}
	return fmt.Sprintf("%04d-%02d-%02d", c.Year, int(c.Month), c.Day)
}

// Classifier maps paths onto a closed set of record type names.
type Classifier struct {
	types []string
	// Default is used when neither a directory nor a filename token names a
	// record type but the name carries an interval.
	Default string
}

// NewClassifier returns a classifier for the given record type names.
func NewClassifier(recordTypes []string) *Classifier {
	types := slices.Clone(recordTypes)
	// Longest first so "indexPriceKlines" wins over "klines" on substring match.
	slices.SortFunc(types, func(a, b string) int { return len(b) - len(a) })
	return &Classifier{types: types, Default: "klines"}
}

// Classify parses p.
func (c *Classifier) Classify(p string) (Classification, error) {
	slashed := filepath.ToSlash(p)
	stem := Stem(path.Base(slashed))
	tokens := strings.Split(stem, "-")
	if len(tokens) < 3 || tokens[0] == "" {
		return Classification{}, fmt.Errorf("%w: %s", ErrUnrecognized, path.Base(slashed))
	}

	var cl Classification
	cl.Symbol = tokens[0]

	dateAt := -1
	for i := 1; i < len(tokens); i++ {
		if len(tokens[i]) == 4 && isDigits(tokens[i]) {
			dateAt = i
			break
		}
	}
	if dateAt < 0 || dateAt+1 >= len(tokens) {
		return Classification{}, fmt.Errorf("%w: no date in %s", ErrUnrecognized, stem)
	}
	if err := cl.setDate(tokens[dateAt:]); err != nil {
		return Classification{}, fmt.Errorf("%w: %s: %v", ErrUnrecognized, stem, err)
	}

	middle := tokens[1:dateAt]
	for _, tok := range middle {
		if IsInterval(tok) {
			cl.Interval = tok
		}
	}

	cl.RecordType = c.fromDirs(slashed)
	if cl.RecordType == "" {
		cl.RecordType = c.fromTokens(middle)
	}
	if cl.RecordType == "" && cl.Interval != "" {
		cl.RecordType = c.Default
	}
	if cl.RecordType == "" {
		return Classification{}, fmt.Errorf("%w: no record type in %s", ErrUnrecognized, p)
	}

	cl.TradingType = InferTradingType(slashed, cl.Symbol)
	return cl, nil
}

func (cl *Classification) setDate(parts []string) error {
	y, err := strconv.Atoi(parts[0])
	if err != nil {
		return err
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 1 || m > 12 {
		return fmt.Errorf("bad month %q", parts[1])
	}
	cl.Year, cl.Month = y, time.Month(m)
	if len(parts) > 2 {
		d, err := strconv.Atoi(parts[2])
		if err != nil || d < 1 || d > 31 {
			return fmt.Errorf("bad day %q", parts[2])
		}
		cl.Day = d
	}
	return nil
}

func (c *Classifier) fromDirs(p string) string {
	dirs := strings.Split(path.Dir(p), "/")
	for _, d := range dirs {
		if slices.Contains(c.types, d) {
			return d
		}
	}
	// Partial directory names such as "indexPrice" or "markPrice".
	for _, d := range dirs {
		if len(d) < 5 {
			continue
		}
		for _, t := range c.types {
			if strings.HasPrefix(t, d) {
				return t
			}
		}
	}
	return ""
}

func (c *Classifier) fromTokens(tokens []string) string {
	for _, tok := range tokens {
		if slices.Contains(c.types, tok) {
			return tok
		}
	}
	return ""
}

// Stem strips every known data-file suffix from name, so both
// "X.csv.gz" and "X.zip" yield "X".
func Stem(name string) string {
	for {
		ext := strings.ToLower(path.Ext(name))
		if ext == "" || !slices.Contains(suffixes, ext) {
			return name
		}
		name = name[:len(name)-len(ext)]
	}
}

// InferTradingType derives the market from the path, falling back to the
// symbol shape.
func InferTradingType(p, symbol string) string {
	p = "/" + strings.ToLower(filepath.ToSlash(p)) + "/"
	switch {
	case strings.Contains(p, "/futures/um/"):
		return UM
	case strings.Contains(p, "/futures/cm/"):
		return CM
	case strings.Contains(p, "/option/"):
		return Option
	case strings.Contains(p, "/spot/"):
		return Spot
	}

	s := strings.ToUpper(symbol)
	switch {
	case strings.Contains(s, "BVOL"):
		return Option
	case strings.Contains(s, "USD_"):
		return CM
	case strings.Contains(p, "/futures/"):
		return UM
	}
	return Spot
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
