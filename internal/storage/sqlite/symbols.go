package sqlite

import (
	"context"
	"fmt"

	"mdingest/internal/storage"
)

// ResolveSymbol implements storage.Repository.
func (r *Repository) ResolveSymbol(ctx context.Context, s storage.Symbol) (int64, error) {
	if s.Name == "" {
		return 0, fmt.Errorf("sqlite: empty symbol")
	}
	var id int64
	err := r.db.QueryRowContext(ctx, `
INSERT INTO symbols (symbol, trading_type, base_asset, quote_asset) VALUES (?, ?, ?, ?)
ON CONFLICT (symbol, trading_type) DO UPDATE
  SET base_asset  = COALESCE(NULLIF(excluded.base_asset, ''), symbols.base_asset),
      quote_asset = COALESCE(NULLIF(excluded.quote_asset, ''), symbols.quote_asset),
      updated_at  = unixepoch()
RETURNING id`, s.Name, s.TradingType, s.BaseAsset, s.QuoteAsset).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sqlite: resolve symbol %s/%s: %w", s.Name, s.TradingType, err)
	}
	return id, nil
}
