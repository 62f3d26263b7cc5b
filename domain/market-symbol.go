package domain

import (
	"fmt"
	"strings"
)

type MarketSymbol struct {
	BaseAsset  string
	QuoteAsset string
}

func NewMarketSymbol(base string, quote string) (*MarketSymbol, error) {
	base = strings.ToLower(strings.TrimSpace(base))
	quote = strings.ToLower(strings.TrimSpace(quote))
	if base == "" || quote == "" {
		return nil, fmt.Errorf("base and quote must not be empty")
	}
	if base == quote {
		return nil, fmt.Errorf("base and quote must be different")
	}
	return &MarketSymbol{
		BaseAsset:  base,
		QuoteAsset: quote,
	}, nil
}

// NewMarketSymbolFromString accepts "btc_usdt" and "BTC/USDT".
func NewMarketSymbolFromString(s string) (*MarketSymbol, error) {
	split := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '/' })

	if len(split) != 2 || strings.Count(s, "_")+strings.Count(s, "/") != 1 {
		return nil, fmt.Errorf("invalid symbol string %q", s)
	}

	return NewMarketSymbol(split[0], split[1])
}

func (ms *MarketSymbol) Join(separator string) string {
	return fmt.Sprintf("%s%s%s", ms.BaseAsset, separator, ms.QuoteAsset)
}

// StreamName is the lower-case form used in stream topics, e.g. "btcusdt".
func (ms *MarketSymbol) StreamName() string {
	return ms.Join("")
}

// Pair is the upper-case form used by request APIs, e.g. "BTCUSDT".
func (ms *MarketSymbol) Pair() string {
	return strings.ToUpper(ms.Join(""))
}

func (ms *MarketSymbol) String() string {
	return ms.Join("_")
}

func (ms *MarketSymbol) Equal(other *MarketSymbol) bool {
	return ms.BaseAsset == other.BaseAsset && ms.QuoteAsset == other.QuoteAsset
}
