package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderBookSource string

const (
	OrderBookSource_Provider       OrderBookSource = "Provider"
	OrderBookSource_LocalOrderBook OrderBookSource = "LocalOrderBook"
)

// OrderBookUpdate is one depth diff covering the update ids [FirstUpdateID, FinalUpdateID].
type OrderBookUpdate struct {
	Symbol        *MarketSymbol
	EventTime     time.Time
	FirstUpdateID uint64
	FinalUpdateID uint64
	Bids          []PriceLevel
	Asks          []PriceLevel
}

// OrderBookSnapshot fully replaces the book as of LastUpdateID.
type OrderBookSnapshot struct {
	Source       OrderBookSource
	LastUpdateID uint64
	Bids         []PriceLevel
	Asks         []PriceLevel
}

// Limit returns a copy holding at most limit levels per side.
func (s *OrderBookSnapshot) Limit(limit int) *OrderBookSnapshot {
	return &OrderBookSnapshot{
		Source:       s.Source,
		LastUpdateID: s.LastUpdateID,
		Bids:         limitDepth(s.Bids, limit),
		Asks:         limitDepth(s.Asks, limit),
	}
}

func limitDepth(depth []PriceLevel, limit int) []PriceLevel {
	if limit > 0 && len(depth) > limit {
		depth = depth[:limit]
	}
	out := make([]PriceLevel, len(depth))
	copy(out, depth)
	return out
}

// Trade is an aggregated trade print as reported by the exchange.
type Trade struct {
	Symbol             *MarketSymbol
	AggTradeID         uint64
	Price              decimal.Decimal
	Quantity           decimal.Decimal
	IsBuyerMarketMaker bool
	TradeTime          time.Time
}
