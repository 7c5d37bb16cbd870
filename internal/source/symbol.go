package source

import "strings"

// quoteAssets is ordered longest first so "FDUSD" matches before "USD".
var quoteAssets = []string{
	"FDUSD", "USDT", "USDC", "BUSD", "TUSD",
	"BTC", "ETH", "BNB", "EUR", "TRY", "USD",
}

// SplitSymbol derives base and quote assets from a symbol name. Coin-margined
// contracts ("BTCUSD_PERP", "ETHUSD_240329") quote in USD. When no known
// quote suffix matches, the last three characters are taken as the quote.
func SplitSymbol(symbol, tradingType string) (base, quote string) {
	s := strings.ToUpper(symbol)
	if tradingType == CM {
		if i := strings.IndexByte(s, '_'); i > 0 {
			s = s[:i]
		}
		if b, ok := strings.CutSuffix(s, "USD"); ok && b != "" {
			return b, "USD"
		}
	}
	for _, q := range quoteAssets {
		if b, ok := strings.CutSuffix(s, q); ok && b != "" {
			return b, q
		}
	}
	if len(s) > 3 {
		return s[:len(s)-3], s[len(s)-3:]
	}
	return s, "USDT"
}
