package usecase

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mferny/binance-md/domain"
)

type OrderBookSnapshotUseCase struct {
	syncAPI domain.ProviderSyncAPI
	storage *domain.OrderBookStorage
	logger  zerolog.Logger
}

func NewOrderBookSnapshotUseCase(
	syncAPI domain.ProviderSyncAPI,
	storage *domain.OrderBookStorage,
	logger zerolog.Logger,
) *OrderBookSnapshotUseCase {
	return &OrderBookSnapshotUseCase{
		syncAPI: syncAPI,
		storage: storage,
		logger:  logger.With().Str("component", "orderbook-snapshot-usecase").Logger(),
	}
}

// GetOrderBookSnapshot returns up to limit levels per side from the local
// order book, or from the provider while the local one is not synced.
func (o *OrderBookSnapshotUseCase) GetOrderBookSnapshot(
	ctx context.Context, symbol *domain.MarketSymbol, limit int,
) (*domain.OrderBookSnapshot, error) {
	maintainer, err := o.storage.Get(symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", symbol, err)
	}

	if maintainer.Status() == domain.Synced {
		view, err := maintainer.Query(ctx, limit)
		if err == nil && view.Status == domain.Synced {
			return view.Depth.Snapshot(domain.OrderBookSource_LocalOrderBook), nil
		}
	}

	o.logger.Debug().
		Str("symbol", symbol.String()).
		Stringer("status", maintainer.Status()).
		Msg("orderbook is not synced, provider snapshot returned")

	snapshot, err := o.syncAPI.OrderBookSnapshot(ctx, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("provider snapshot for %s: %w", symbol, err)
	}
	return snapshot.Limit(limit), nil
}

// GetBestDeal is served from the local order book only.
func (o *OrderBookSnapshotUseCase) GetBestDeal(ctx context.Context, symbol *domain.MarketSymbol) (*domain.BestDeal, error) {
	maintainer, err := o.storage.Get(symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", symbol, err)
	}
	if maintainer.Status() != domain.Synced {
		return nil, domain.ErrBestDealUnavailable
	}

	view, err := maintainer.Query(ctx, 1)
	if err != nil {
		return nil, err
	}
	if view.Status != domain.Synced || view.BestDeal == nil {
		return nil, domain.ErrBestDealUnavailable
	}
	return view.BestDeal, nil
}
