package domain

import (
	"slices"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSymbol(t *testing.T) *MarketSymbol {
	t.Helper()
	symbol, err := NewMarketSymbol("BTC", "USDT")
	require.NoError(t, err)
	return symbol
}

func levels(pairs ...string) []PriceLevel {
	out := make([]PriceLevel, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, NewPriceLevel(pairs[i], pairs[i+1]))
	}
	return out
}

func assertLevels(t *testing.T, expected, actual []PriceLevel) {
	t.Helper()
	if !levelsEqual(expected, actual) {
		t.Errorf("levels mismatch:\nexpected: %v\nactual:   %v", expected, actual)
	}
}

func TestOrderBook_ResetFromSnapshot(t *testing.T) {
	ob := NewOrderBook(mustSymbol(t))

	ob.ResetFromSnapshot(&OrderBookSnapshot{
		LastUpdateID: 123,
		Bids:         levels("9900", "2", "10000", "1"),
		Asks:         levels("10200", "2.5", "10100", "1.5"),
	})

	assert.Equal(t, uint64(123), ob.LastUpdateID, "LastUpdateID should match")
	assertLevels(t, levels("10000", "1", "9900", "2"), slices.Collect(ob.TopN(Bid, 10)))
	assertLevels(t, levels("10100", "1.5", "10200", "2.5"), slices.Collect(ob.TopN(Ask, 10)))

	ob.ResetFromSnapshot(&OrderBookSnapshot{
		LastUpdateID: 200,
		Bids:         levels("1", "1"),
	})
	assert.Equal(t, uint64(200), ob.LastUpdateID)
	assert.Equal(t, 1, ob.Depth(Bid))
	assert.Equal(t, 0, ob.Depth(Ask), "snapshot must replace, not merge")
}

func TestOrderBook_ApplyUpdate(t *testing.T) {
	ob := NewOrderBook(mustSymbol(t))
	ob.ResetFromSnapshot(&OrderBookSnapshot{
		LastUpdateID: 123,
		Bids:         levels("10000", "1", "9900", "2"),
		Asks:         levels("10.300", "1.5", "10200", "2.5"),
	})

	ob.ApplyUpdate(&OrderBookUpdate{
		FirstUpdateID: 124,
		FinalUpdateID: 130,
		Bids:          levels("9800", "3"),
		Asks:          levels("10.3", "2", "10200", "0"),
	})

	assert.Equal(t, uint64(130), ob.LastUpdateID, "LastUpdateID should be the diff final id")
	assertLevels(t, levels("10000", "1", "9900", "2", "9800", "3"), slices.Collect(ob.TopN(Bid, 10)))
	assertLevels(t, levels("10.3", "2"), slices.Collect(ob.TopN(Ask, 10)))
}

func TestOrderBook_ApplyLevel(t *testing.T) {
	ob := NewOrderBook(mustSymbol(t))
	d := decimal.RequireFromString

	ob.ApplyLevel(Ask, d("11"), d("3"))
	ob.ApplyLevel(Ask, d("11.00"), d("4"))
	assert.Equal(t, 1, ob.Depth(Ask), "equal prices with different scale are one level")
	assertLevels(t, levels("11", "4"), slices.Collect(ob.TopN(Ask, 5)))

	ob.ApplyLevel(Ask, d("11.0"), d("0.000"))
	assert.Equal(t, 0, ob.Depth(Ask), "zero quantity removes the level")

	ob.ApplyLevel(Bid, d("5"), d("0"))
	assert.Equal(t, 0, ob.Depth(Bid), "removing an absent level is a no-op")
	assert.True(t, ob.Empty())
}

func TestOrderBook_RepeatedAddRemoveLeavesNoResidue(t *testing.T) {
	ob := NewOrderBook(mustSymbol(t))
	d := decimal.RequireFromString

	for i := 0; i < 1000; i++ {
		ob.ApplyLevel(Bid, d("0.1"), d("0.3"))
		ob.ApplyLevel(Bid, d("0.30000000"), d("0.1"))
		ob.ApplyLevel(Bid, d("0.1"), d("0"))
		ob.ApplyLevel(Bid, d("0.3"), d("0"))
	}

	assert.Equal(t, 0, ob.Depth(Bid))
}

func TestOrderBook_TopN(t *testing.T) {
	ob := NewOrderBook(mustSymbol(t))
	ob.ResetFromSnapshot(&OrderBookSnapshot{
		LastUpdateID: 1,
		Bids:         levels("1", "1", "5", "1", "3", "1", "4", "1", "2", "1", "0.5", "1"),
		Asks:         levels("9", "1", "7", "1", "8", "1"),
	})

	tests := []struct {
		name     string
		side     Side
		n        int
		expected []PriceLevel
	}{
		{"BidsTop3", Bid, 3, levels("5", "1", "4", "1", "3", "1")},
		{"AsksMoreThanDepth", Ask, 10, levels("7", "1", "8", "1", "9", "1")},
		{"Zero", Bid, 0, levels()},
		{"Negative", Ask, -1, levels()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertLevels(t, tt.expected, slices.Collect(ob.TopN(tt.side, tt.n)))
		})
	}
}

func TestOrderBook_TopNOrdering(t *testing.T) {
	ob := NewOrderBook(mustSymbol(t))
	ob.ResetFromSnapshot(&OrderBookSnapshot{
		Bids: levels("100.5", "1", "100.25", "1", "101", "1", "99.999", "1"),
		Asks: levels("102", "1", "101.5", "1", "103.125", "1"),
	})

	bids := slices.Collect(ob.TopN(Bid, 100))
	for i := 1; i < len(bids); i++ {
		assert.True(t, bids[i-1].Price.GreaterThan(bids[i].Price), "bids must be strictly descending")
	}
	asks := slices.Collect(ob.TopN(Ask, 100))
	for i := 1; i < len(asks); i++ {
		assert.True(t, asks[i-1].Price.LessThan(asks[i].Price), "asks must be strictly ascending")
	}
	assert.Len(t, bids, ob.Depth(Bid))
	assert.Len(t, asks, ob.Depth(Ask))
}

func TestOrderBook_TopNIsRestartable(t *testing.T) {
	ob := NewOrderBook(mustSymbol(t))
	ob.ResetFromSnapshot(&OrderBookSnapshot{Asks: levels("1", "1", "2", "2")})

	seq := ob.TopN(Ask, 2)
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	assertLevels(t, first, second)

	for level := range seq {
		assert.True(t, level.Price.Equal(decimal.RequireFromString("1")))
		break
	}
}
