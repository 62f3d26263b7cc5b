package domain

import (
	"errors"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

var ErrBestDealUnavailable = errors.New("best deal unavailable")

type BestDeal struct {
	Symbol       *MarketSymbol
	LastUpdateID uint64
	Bid          PriceLevel
	Ask          PriceLevel
}

// SamePrices reports whether both deals quote the same levels, ignoring update ids.
func (d *BestDeal) SamePrices(other *BestDeal) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.Bid.Equal(other.Bid) && d.Ask.Equal(other.Ask)
}

// DepthView is a copy of the top levels of both sides.
type DepthView struct {
	Symbol       *MarketSymbol
	LastUpdateID uint64
	Bids         []PriceLevel
	Asks         []PriceLevel
}

func (v *DepthView) SameLevels(other *DepthView) bool {
	if v == nil || other == nil {
		return v == other
	}
	return levelsEqual(v.Bids, other.Bids) && levelsEqual(v.Asks, other.Asks)
}

// Snapshot converts the view into a snapshot record of the given source.
func (v *DepthView) Snapshot(source OrderBookSource) *OrderBookSnapshot {
	return &OrderBookSnapshot{
		Source:       source,
		LastUpdateID: v.LastUpdateID,
		Bids:         v.Bids,
		Asks:         v.Asks,
	}
}

// BestDealOf reads the top of both sides. Fails while either side is empty.
func BestDealOf(ob *OrderBook) (*BestDeal, error) {
	deal := &BestDeal{Symbol: ob.Symbol, LastUpdateID: ob.LastUpdateID}

	var hasBid, hasAsk bool
	for level := range ob.TopN(Bid, 1) {
		deal.Bid, hasBid = level, true
	}
	for level := range ob.TopN(Ask, 1) {
		deal.Ask, hasAsk = level, true
	}
	if !hasBid || !hasAsk {
		return nil, ErrBestDealUnavailable
	}
	return deal, nil
}

// LevelsOf copies up to n best levels per side.
func LevelsOf(ob *OrderBook, n int) *DepthView {
	bids := slices.Collect(ob.TopN(Bid, n))
	asks := slices.Collect(ob.TopN(Ask, n))
	if bids == nil {
		bids = []PriceLevel{}
	}
	if asks == nil {
		asks = []PriceLevel{}
	}
	return &DepthView{
		Symbol:       ob.Symbol,
		LastUpdateID: ob.LastUpdateID,
		Bids:         bids,
		Asks:         asks,
	}
}

type TradeSide string

const (
	TradeSide_Buy  TradeSide = "BUY"
	TradeSide_Sell TradeSide = "SELL"
)

// TradeView is the published form of an aggregated trade.
type TradeView struct {
	Symbol     *MarketSymbol
	AggTradeID uint64
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	// Side of the taker.
	Side      TradeSide
	TradeTime time.Time
}

// NewTradeView relabels a trade. When the buyer is the maker, the taker sold.
func NewTradeView(trade *Trade) TradeView {
	side := TradeSide_Buy
	if trade.IsBuyerMarketMaker {
		side = TradeSide_Sell
	}
	return TradeView{
		Symbol:     trade.Symbol,
		AggTradeID: trade.AggTradeID,
		Price:      trade.Price,
		Quantity:   trade.Quantity,
		Side:       side,
		TradeTime:  trade.TradeTime,
	}
}

// BookView is a consistent read of one maintainer taken inside its loop.
type BookView struct {
	Symbol       *MarketSymbol
	Status       SyncStatus
	LastUpdateID uint64
	Depth        *DepthView
	// Nil when either side is empty.
	BestDeal      *BestDeal
	BufferedDiffs int
}
