package schema

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

const (
	// RatioBound is the symmetric clamp applied to long/short ratio columns.
	RatioBound = 9999.999999
	// RatioPrecision is the number of decimal places kept for ratio columns.
	RatioPrecision = 6
	// LargePrecision is applied to open-interest style columns.
	LargePrecision = 8
)

// Definition is the declarative form of a RecordType. Fields not listed in
// Kinds are floats.
type Definition struct {
	Name             string
	Table            string
	TimeColumn       TimeColumn
	SupportsInterval bool
	HasTradingType   bool
	Partitioned      bool
	ColumnOrder      []string
	Kinds            map[string]Kind

	// Ratios are clamped to RatioBound and rounded to RatioPrecision.
	Ratios []string
	// Large are rounded to LargePrecision.
	Large []string

	// Required lists source fields that must be present in addition to the
	// context fields and the time column.
	Required []string
	// Key lists source fields that, together with the context fields, form
	// the table's natural uniqueness key.
	Key []string
	// Aliases maps lower-case header names used by published archives to
	// destination fields.
	Aliases map[string]string
}

// Define validates d and builds the immutable RecordType.
func Define(d Definition) (*RecordType, error) {
	if d.Name == "" || d.Table == "" {
		return nil, fmt.Errorf("schema: name and table are required")
	}
	if d.TimeColumn == "" {
		return nil, fmt.Errorf("schema: %s: time column is required", d.Name)
	}
	rt := &RecordType{
		Name:             d.Name,
		Table:            d.Table,
		TimeColumn:       d.TimeColumn,
		SupportsInterval: d.SupportsInterval,
		HasTradingType:   d.HasTradingType,
		Partitioned:      d.Partitioned,
		ColumnOrder:      slices.Clone(d.ColumnOrder),
		fields:           make(map[string]Field),
		required:         make(map[string]struct{}),
	}

	rt.fields[FieldSymbolID] = Field{Name: FieldSymbolID, Kind: KindInt}
	if d.HasTradingType {
		rt.fields[FieldTradingType] = Field{Name: FieldTradingType, Kind: KindString}
	}
	if d.SupportsInterval {
		rt.fields[FieldInterval] = Field{Name: FieldInterval, Kind: KindString}
	}
	rt.columns = rt.ContextFields()

	for _, name := range d.ColumnOrder {
		if name == Ignore {
			continue
		}
		if _, dup := rt.fields[name]; dup {
			return nil, fmt.Errorf("schema: %s: duplicate column %q", d.Name, name)
		}
		kind, ok := d.Kinds[name]
		if !ok {
			kind = KindFloat
		}
		rt.fields[name] = Field{Name: name, Kind: kind}
		rt.columns = append(rt.columns, name)
	}

	for _, name := range d.Ratios {
		f, ok := rt.fields[name]
		if !ok {
			return nil, fmt.Errorf("schema: %s: ratio column %q not in layout", d.Name, name)
		}
		f.Clamp, f.Precision = RatioBound, RatioPrecision
		rt.fields[name] = f
	}
	for _, name := range d.Large {
		f, ok := rt.fields[name]
		if !ok {
			return nil, fmt.Errorf("schema: %s: large column %q not in layout", d.Name, name)
		}
		f.Precision = LargePrecision
		rt.fields[name] = f
	}

	tc := string(d.TimeColumn)
	if f, ok := rt.fields[tc]; !ok || f.Kind != KindTimestamp {
		return nil, fmt.Errorf("schema: %s: time column %q must be a mapped timestamp", d.Name, tc)
	}

	for _, name := range rt.ContextFields() {
		rt.required[name] = struct{}{}
	}
	rt.required[tc] = struct{}{}
	for _, name := range d.Required {
		if _, ok := rt.fields[name]; !ok {
			return nil, fmt.Errorf("schema: %s: required column %q not in layout", d.Name, name)
		}
		rt.required[name] = struct{}{}
	}

	rt.conflictKey = rt.ContextFields()
	for _, name := range d.Key {
		if _, ok := rt.fields[name]; !ok {
			return nil, fmt.Errorf("schema: %s: key column %q not in layout", d.Name, name)
		}
		rt.conflictKey = append(rt.conflictKey, name)
		rt.required[name] = struct{}{}
	}
	rt.aliases = make(map[string]string, len(d.Aliases))
	for alias, name := range d.Aliases {
		if _, ok := rt.fields[name]; !ok {
			return nil, fmt.Errorf("schema: %s: alias %q targets unknown column %q", d.Name, alias, name)
		}
		rt.aliases[strings.ToLower(alias)] = name
	}

	// Postgres requires the partition key inside every unique constraint.
	if d.Partitioned && !slices.Contains(rt.conflictKey, tc) {
		rt.conflictKey = append(rt.conflictKey, tc)
	}
	return rt, nil
}

// TableInfo describes one destination table.
type TableInfo struct {
	Name        string
	TimeColumn  TimeColumn
	Partitioned bool
	// Type is the first registered record type writing to the table.
	Type *RecordType
}

// Registry is a closed set of record types, indexed by name and table.
type Registry struct {
	byName  map[string]*RecordType
	byTable map[string]*RecordType
	names   []string
}

// NewRegistry indexes the given types. Two types may share a table only if
// they agree on its time column.
func NewRegistry(types ...*RecordType) (*Registry, error) {
	r := &Registry{
		byName:  make(map[string]*RecordType, len(types)),
		byTable: make(map[string]*RecordType, len(types)),
	}
	for _, rt := range types {
		if _, dup := r.byName[rt.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate record type %q", rt.Name)
		}
		if prev, ok := r.byTable[rt.Table]; ok {
			if prev.TimeColumn != rt.TimeColumn || prev.Partitioned != rt.Partitioned {
				return nil, fmt.Errorf("schema: table %q: %s and %s disagree on partitioning",
					rt.Table, prev.Name, rt.Name)
			}
		} else {
			r.byTable[rt.Table] = rt
		}
		r.byName[rt.Name] = rt
		r.names = append(r.names, rt.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Lookup resolves a record type by archive name, falling back to table name.
func (r *Registry) Lookup(name string) (*RecordType, error) {
	if rt, ok := r.byName[name]; ok {
		return rt, nil
	}
	if rt, ok := r.byTable[name]; ok {
		return rt, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownRecordType, name)
}

// Names returns the registered record type names, sorted.
func (r *Registry) Names() []string { return slices.Clone(r.names) }

// Tables returns each destination table once, sorted by name.
func (r *Registry) Tables() []TableInfo {
	out := make([]TableInfo, 0, len(r.byTable))
	for name, rt := range r.byTable {
		out = append(out, TableInfo{
			Name:        name,
			TimeColumn:  rt.TimeColumn,
			Partitioned: rt.Partitioned,
			Type:        rt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PartitionedTables returns only the tables subject to monthly partitioning.
func (r *Registry) PartitionedTables() []TableInfo {
	var out []TableInfo
	for _, t := range r.Tables() {
		if t.Partitioned {
			out = append(out, t)
		}
	}
	return out
}

var klineLayout = []string{
	"open_time", "open_price", "high_price", "low_price", "close_price",
	"volume", "close_time", "quote_asset_volume", "number_of_trades",
	"taker_buy_base_asset_volume", "taker_buy_quote_asset_volume",
}

var klineAliases = map[string]string{
	"open":                   "open_price",
	"high":                   "high_price",
	"low":                    "low_price",
	"close":                  "close_price",
	"quote_volume":           "quote_asset_volume",
	"count":                  "number_of_trades",
	"taker_buy_volume":       "taker_buy_base_asset_volume",
	"taker_buy_quote_volume": "taker_buy_quote_asset_volume",
}

var priceKlineAliases = map[string]string{
	"open":  "open_price",
	"high":  "high_price",
	"low":   "low_price",
	"close": "close_price",
}

var priceKlineLayout = []string{
	"open_time", "open_price", "high_price", "low_price", "close_price", Ignore,
}

func priceKline(name, table string) Definition {
	return Definition{
		Name:             name,
		Table:            table,
		TimeColumn:       OpenTime,
		SupportsInterval: true,
		Partitioned:      true,
		ColumnOrder:      priceKlineLayout,
		Kinds:            map[string]Kind{"open_time": KindTimestamp},
		Aliases:          priceKlineAliases,
	}
}

// BuiltinDefinitions returns the archive's record types.
func BuiltinDefinitions() []Definition {
	return []Definition{
		{
			Name:             "klines",
			Table:            "klines",
			TimeColumn:       OpenTime,
			SupportsInterval: true,
			HasTradingType:   true,
			Partitioned:      true,
			ColumnOrder:      klineLayout,
			Kinds: map[string]Kind{
				"open_time":        KindTimestamp,
				"close_time":       KindTimestamp,
				"number_of_trades": KindInt,
			},
			Aliases: klineAliases,
		},
		priceKline("indexPriceKlines", "index_price_klines"),
		priceKline("markPriceKlines", "mark_price_klines"),
		priceKline("premiumIndexKlines", "premium_index_klines"),
		{
			Name:           "trades",
			Table:          "trades",
			TimeColumn:     Timestamp,
			HasTradingType: true,
			Partitioned:    true,
			ColumnOrder:    []string{"trade_id", "price", "quantity", "quote_quantity", "timestamp", "is_buyer_maker"},
			Kinds: map[string]Kind{
				"trade_id":       KindInt,
				"timestamp":      KindTimestamp,
				"is_buyer_maker": KindBool,
			},
			Key: []string{"trade_id"},
			Aliases: map[string]string{
				"id":        "trade_id",
				"qty":       "quantity",
				"quote_qty": "quote_quantity",
				"time":      "timestamp",
			},
		},
		{
			Name:           "aggTrades",
			Table:          "agg_trades",
			TimeColumn:     Timestamp,
			HasTradingType: true,
			Partitioned:    true,
			ColumnOrder: []string{
				"agg_trade_id", "price", "quantity", "first_trade_id",
				"last_trade_id", "timestamp", "is_buyer_maker",
			},
			Kinds: map[string]Kind{
				"agg_trade_id":   KindInt,
				"first_trade_id": KindInt,
				"last_trade_id":  KindInt,
				"timestamp":      KindTimestamp,
				"is_buyer_maker": KindBool,
			},
			Key:     []string{"agg_trade_id"},
			Aliases: map[string]string{"transact_time": "timestamp"},
		},
		{
			Name:           "bookDepth",
			Table:          "book_depth",
			TimeColumn:     Timestamp,
			HasTradingType: true,
			Partitioned:    true,
			ColumnOrder:    []string{"timestamp", "percentage", "depth", "notional"},
			Kinds:          map[string]Kind{"timestamp": KindTimestamp},
			Key:            []string{"percentage"},
		},
		{
			Name:           "bookTicker",
			Table:          "book_ticker",
			TimeColumn:     TransactionTime,
			HasTradingType: true,
			Partitioned:    true,
			ColumnOrder: []string{
				"update_id", "best_bid_price", "best_bid_qty", "best_ask_price",
				"best_ask_qty", "transaction_time", "event_time",
			},
			Kinds: map[string]Kind{
				"update_id":        KindInt,
				"transaction_time": KindTimestamp,
				"event_time":       KindTimestamp,
			},
			Key: []string{"update_id"},
		},
		{
			Name:           "metrics",
			Table:          "trading_metrics",
			TimeColumn:     CreateTime,
			HasTradingType: true,
			Partitioned:    true,
			ColumnOrder: []string{
				"create_time", "sum_open_interest", "sum_open_interest_value",
				"count_toptrader_long_short_ratio", "sum_toptrader_long_short_ratio",
				"count_long_short_ratio", "sum_taker_long_short_vol_ratio",
			},
			Kinds: map[string]Kind{"create_time": KindTimestamp},
			Ratios: []string{
				"count_toptrader_long_short_ratio", "sum_toptrader_long_short_ratio",
				"count_long_short_ratio", "sum_taker_long_short_vol_ratio",
			},
			Large: []string{"sum_open_interest", "sum_open_interest_value"},
		},
		{
			Name:           "fundingRate",
			Table:          "funding_rates",
			TimeColumn:     CalcTime,
			HasTradingType: true,
			Partitioned:    true,
			ColumnOrder:    []string{"calc_time", "funding_interval_hours", "last_funding_rate"},
			Kinds: map[string]Kind{
				"calc_time":              KindTimestamp,
				"funding_interval_hours": KindInt,
			},
		},
		{
			Name:        "BVOLIndex",
			Table:       "bvol_index",
			TimeColumn:  CalcTime,
			ColumnOrder: []string{"calc_time", "symbol", "base_asset", "quote_asset", "index_value"},
			Kinds: map[string]Kind{
				"calc_time":   KindTimestamp,
				"symbol":      KindString,
				"base_asset":  KindString,
				"quote_asset": KindString,
			},
			Required: []string{"index_value"},
			Key:      []string{"calc_time"},
		},
	}
}

// Builtin returns the process-wide registry of archive record types.
var Builtin = sync.OnceValue(func() *Registry {
	defs := BuiltinDefinitions()
	types := make([]*RecordType, 0, len(defs))
	for _, d := range defs {
		rt, err := Define(d)
		if err != nil {
			panic(err)
		}
		types = append(types, rt)
	}
	r, err := NewRegistry(types...)
	if err != nil {
		panic(err)
	}
	return r
})
