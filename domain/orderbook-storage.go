package domain

import (
	"errors"
	"slices"
	"strings"
	"sync"
)

var ErrOrderBookNotFound = errors.New("order book not found")

// OrderBookStorage indexes the running maintainers by symbol.
type OrderBookStorage struct {
	mu      sync.RWMutex
	storage map[string]*OrderbookMaintainer
}

func NewOrderBookStorage() *OrderBookStorage {
	return &OrderBookStorage{
		storage: make(map[string]*OrderbookMaintainer),
	}
}

func (o *OrderBookStorage) Add(maintainer *OrderbookMaintainer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.storage[maintainer.Symbol().String()] = maintainer
}

func (o *OrderBookStorage) Get(symbol *MarketSymbol) (*OrderbookMaintainer, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	maintainer, ok := o.storage[symbol.String()]
	if !ok {
		return nil, ErrOrderBookNotFound
	}
	return maintainer, nil
}

// Symbols returns the registered symbols in lexical order.
func (o *OrderBookStorage) Symbols() []*MarketSymbol {
	o.mu.RLock()
	defer o.mu.RUnlock()

	symbols := make([]*MarketSymbol, 0, len(o.storage))
	for _, maintainer := range o.storage {
		symbols = append(symbols, maintainer.Symbol())
	}
	slices.SortFunc(symbols, func(a, b *MarketSymbol) int {
		return strings.Compare(a.String(), b.String())
	})
	return symbols
}

func (o *OrderBookStorage) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.storage)
}
