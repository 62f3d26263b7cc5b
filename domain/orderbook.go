package domain

import (
	"iter"

	rbt "github.com/emirpasic/gods/v2/trees/redblacktree"
	"github.com/shopspring/decimal"
)

type ladder = rbt.Tree[decimal.Decimal, decimal.Decimal]

// OrderBook is the local replica of one symbol's book: bids best-first
// (descending), asks best-first (ascending) and the last applied update id.
// It performs no validation and is owned by a single writer.
type OrderBook struct {
	Symbol       *MarketSymbol
	LastUpdateID uint64

	bids *ladder
	asks *ladder
}

func NewOrderBook(symbol *MarketSymbol) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		bids: rbt.NewWith[decimal.Decimal, decimal.Decimal](func(a, b decimal.Decimal) int {
			return b.Cmp(a)
		}),
		asks: rbt.NewWith[decimal.Decimal, decimal.Decimal](func(a, b decimal.Decimal) int {
			return a.Cmp(b)
		}),
	}
}

func (ob *OrderBook) side(side Side) *ladder {
	if side == Bid {
		return ob.bids
	}
	return ob.asks
}

// ApplyLevel inserts, overwrites or, for a zero quantity, removes the level at price.
func (ob *OrderBook) ApplyLevel(side Side, price, quantity decimal.Decimal) {
	tree := ob.side(side)
	if quantity.IsZero() {
		tree.Remove(price)
		return
	}
	tree.Put(price, quantity)
}

// ApplyUpdate applies every level of the diff and advances LastUpdateID.
// Continuity must have been checked by the caller.
func (ob *OrderBook) ApplyUpdate(update *OrderBookUpdate) {
	for _, level := range update.Bids {
		ob.ApplyLevel(Bid, level.Price, level.Quantity)
	}
	for _, level := range update.Asks {
		ob.ApplyLevel(Ask, level.Price, level.Quantity)
	}
	ob.LastUpdateID = update.FinalUpdateID
}

// ResetFromSnapshot replaces both sides wholesale.
func (ob *OrderBook) ResetFromSnapshot(snapshot *OrderBookSnapshot) {
	ob.bids.Clear()
	ob.asks.Clear()
	for _, level := range snapshot.Bids {
		ob.ApplyLevel(Bid, level.Price, level.Quantity)
	}
	for _, level := range snapshot.Asks {
		ob.ApplyLevel(Ask, level.Price, level.Quantity)
	}
	ob.LastUpdateID = snapshot.LastUpdateID
}

// TopN yields up to n best levels of a side. The sequence can be ranged over
// again, but must not be consumed across a mutation of the book.
func (ob *OrderBook) TopN(side Side, n int) iter.Seq[PriceLevel] {
	tree := ob.side(side)
	return func(yield func(PriceLevel) bool) {
		it := tree.Iterator()
		for i := 0; i < n && it.Next(); i++ {
			if !yield(PriceLevel{Price: it.Key(), Quantity: it.Value()}) {
				return
			}
		}
	}
}

// Depth returns the number of levels on a side.
func (ob *OrderBook) Depth(side Side) int {
	return ob.side(side).Size()
}

func (ob *OrderBook) Empty() bool {
	return ob.bids.Empty() && ob.asks.Empty()
}

// Clear drops both sides and forgets the last update id.
func (ob *OrderBook) Clear() {
	ob.bids.Clear()
	ob.asks.Clear()
	ob.LastUpdateID = 0
}
