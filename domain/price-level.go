package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

var ErrInvalidPriceLevel = errors.New("invalid price level")

// PriceLevel is keyed by price. A zero quantity in an update means the level is removed.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

func NewPriceLevel(price, quantity string) PriceLevel {
	return PriceLevel{
		Price:    decimal.RequireFromString(price),
		Quantity: decimal.RequireFromString(quantity),
	}
}

// ParsePriceLevel keeps the exchange-reported precision as is.
// Non-positive prices and negative quantities are rejected.
func ParsePriceLevel(price, quantity string) (PriceLevel, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("%w: price %q: %s", ErrInvalidPriceLevel, price, err)
	}
	q, err := decimal.NewFromString(quantity)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("%w: quantity %q: %s", ErrInvalidPriceLevel, quantity, err)
	}
	if !p.IsPositive() {
		return PriceLevel{}, fmt.Errorf("%w: price %s", ErrInvalidPriceLevel, price)
	}
	if q.IsNegative() {
		return PriceLevel{}, fmt.Errorf("%w: quantity %s", ErrInvalidPriceLevel, quantity)
	}
	return PriceLevel{Price: p, Quantity: q}, nil
}

func (pl PriceLevel) Equal(other PriceLevel) bool {
	return pl.Price.Equal(other.Price) && pl.Quantity.Equal(other.Quantity)
}

func (pl PriceLevel) String() string {
	return pl.Price.String() + "x" + pl.Quantity.String()
}

func levelsEqual(a, b []PriceLevel) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
