package domain

import "context"

type ProviderStreamAPI interface {
	DepthDiffStream(symbol *MarketSymbol) (*Subscription[*OrderBookUpdate], error)
	TradeStream(symbol *MarketSymbol) (*Subscription[*Trade], error)
}

// ProviderSyncAPI fetches authoritative snapshots. Errors are transient
// unless stated otherwise by the implementation.
type ProviderSyncAPI interface {
	OrderBookSnapshot(ctx context.Context, symbol *MarketSymbol, limit int) (*OrderBookSnapshot, error)
}

type Publisher interface {
	OnBestDeal(deal *BestDeal)
	OnDepthView(view *DepthView)
	OnTrade(trade TradeView)
}

type Metrics interface {
	ResyncRequested(symbol *MarketSymbol, reason ResyncReason)
	DiffApplied(symbol *MarketSymbol, lastUpdateID uint64)
	DiffsBuffered(symbol *MarketSymbol, n int)
	StatusChanged(symbol *MarketSymbol, status SyncStatus)
	StaleSnapshotDropped(symbol *MarketSymbol)
}

type NopMetrics struct{}

func (NopMetrics) ResyncRequested(*MarketSymbol, ResyncReason) {}
func (NopMetrics) DiffApplied(*MarketSymbol, uint64)           {}
func (NopMetrics) DiffsBuffered(*MarketSymbol, int)            {}
func (NopMetrics) StatusChanged(*MarketSymbol, SyncStatus)     {}
func (NopMetrics) StaleSnapshotDropped(*MarketSymbol)          {}

type NopPublisher struct{}

func (NopPublisher) OnBestDeal(*BestDeal)   {}
func (NopPublisher) OnDepthView(*DepthView) {}
func (NopPublisher) OnTrade(TradeView)      {}
