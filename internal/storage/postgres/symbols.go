package postgres

import (
	"context"
	"fmt"

	"mdingest/internal/storage"
)

const upsertSymbolSQL = `
INSERT INTO %s (symbol, trading_type, base_asset, quote_asset)
VALUES ($1, $2, $3, $4)
ON CONFLICT (symbol, trading_type) DO UPDATE
  SET base_asset  = COALESCE(NULLIF(EXCLUDED.base_asset, ''), %[1]s.base_asset),
      quote_asset = COALESCE(NULLIF(EXCLUDED.quote_asset, ''), %[1]s.quote_asset),
      updated_at  = now()
RETURNING id`

// ResolveSymbol implements storage.Repository.
func (r *Repository) ResolveSymbol(ctx context.Context, s storage.Symbol) (int64, error) {
	if s.Name == "" {
		return 0, fmt.Errorf("postgres: empty symbol")
	}
	q := fmt.Sprintf(upsertSymbolSQL, pgFQN(r.qualify("symbols")))
	var id int64
	if err := r.pool.QueryRow(ctx, q, s.Name, s.TradingType, s.BaseAsset, s.QuoteAsset).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: resolve symbol %s/%s: %w", s.Name, s.TradingType, err)
	}
	return id, nil
}
