package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mferny/binance-md/domain"
)

type mockSyncAPI struct {
	mock.Mock
}

func (m *mockSyncAPI) OrderBookSnapshot(ctx context.Context, symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error) {
	args := m.Called(ctx, symbol, limit)
	snapshot, _ := args.Get(0).(*domain.OrderBookSnapshot)
	return snapshot, args.Error(1)
}

type idleStreamAPI struct{}

func (idleStreamAPI) DepthDiffStream(symbol *domain.MarketSymbol) (*domain.Subscription[*domain.OrderBookUpdate], error) {
	return &domain.Subscription[*domain.OrderBookUpdate]{Stream: make(chan *domain.OrderBookUpdate), Unsubscribe: func() {}}, nil
}

func (idleStreamAPI) TradeStream(symbol *domain.MarketSymbol) (*domain.Subscription[*domain.Trade], error) {
	return &domain.Subscription[*domain.Trade]{Stream: make(chan *domain.Trade), Unsubscribe: func() {}}, nil
}

const maintainerSnapshotLimit = 10

func providerSnapshot() *domain.OrderBookSnapshot {
	return &domain.OrderBookSnapshot{
		Source:       domain.OrderBookSource_Provider,
		LastUpdateID: 500,
		Bids:         []domain.PriceLevel{domain.NewPriceLevel("3", "1"), domain.NewPriceLevel("2", "1"), domain.NewPriceLevel("1", "1")},
		Asks:         []domain.PriceLevel{domain.NewPriceLevel("4", "1"), domain.NewPriceLevel("5", "1"), domain.NewPriceLevel("6", "1")},
	}
}

func setup(t *testing.T) (*OrderBookSnapshotUseCase, *mockSyncAPI, *domain.OrderbookMaintainer, *domain.MarketSymbol) {
	t.Helper()
	symbol, err := domain.NewMarketSymbolFromString("btc_usdt")
	require.NoError(t, err)

	syncAPI := &mockSyncAPI{}
	storage := domain.NewOrderBookStorage()
	maintainer := domain.NewOrderBookMaintainer(symbol, domain.MaintainerConfig{
		SnapshotLimit:    maintainerSnapshotLimit,
		WatchdogInterval: time.Minute,
	}, idleStreamAPI{}, syncAPI, nil, nil, zerolog.Nop())
	storage.Add(maintainer)

	return NewOrderBookSnapshotUseCase(syncAPI, storage, zerolog.Nop()), syncAPI, maintainer, symbol
}

func runSynced(t *testing.T, syncAPI *mockSyncAPI, maintainer *domain.OrderbookMaintainer) {
	t.Helper()
	syncAPI.On("OrderBookSnapshot", mock.Anything, mock.Anything, maintainerSnapshotLimit).Return(providerSnapshot(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = maintainer.Run(ctx) }()

	require.Eventually(t, func() bool { return maintainer.Status() == domain.Synced }, 2*time.Second, 5*time.Millisecond)
}

func TestGetOrderBookSnapshot_FromLocalOrderBook(t *testing.T) {
	uc, syncAPI, maintainer, symbol := setup(t)
	runSynced(t, syncAPI, maintainer)

	snapshot, err := uc.GetOrderBookSnapshot(context.Background(), symbol, 2)
	require.NoError(t, err)

	assert.Equal(t, domain.OrderBookSource_LocalOrderBook, snapshot.Source)
	assert.Equal(t, uint64(500), snapshot.LastUpdateID)
	require.Len(t, snapshot.Bids, 2)
	assert.Equal(t, "3", snapshot.Bids[0].Price.String())
	require.Len(t, snapshot.Asks, 2)
	assert.Equal(t, "4", snapshot.Asks[0].Price.String())
	syncAPI.AssertNumberOfCalls(t, "OrderBookSnapshot", 1)
}

func TestGetOrderBookSnapshot_FromProviderWhileNotSynced(t *testing.T) {
	uc, syncAPI, _, symbol := setup(t)
	syncAPI.On("OrderBookSnapshot", mock.Anything, symbol, 2).Return(providerSnapshot(), nil).Once()

	snapshot, err := uc.GetOrderBookSnapshot(context.Background(), symbol, 2)
	require.NoError(t, err)

	assert.Equal(t, domain.OrderBookSource_Provider, snapshot.Source)
	assert.Len(t, snapshot.Bids, 2)
	assert.Len(t, snapshot.Asks, 2)
	syncAPI.AssertExpectations(t)
}

func TestGetOrderBookSnapshot_ProviderError(t *testing.T) {
	uc, syncAPI, _, symbol := setup(t)
	syncAPI.On("OrderBookSnapshot", mock.Anything, symbol, 5).Return(nil, context.DeadlineExceeded)

	_, err := uc.GetOrderBookSnapshot(context.Background(), symbol, 5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetOrderBookSnapshot_UnknownSymbol(t *testing.T) {
	uc, _, _, _ := setup(t)
	eth, err := domain.NewMarketSymbol("eth", "btc")
	require.NoError(t, err)

	_, err = uc.GetOrderBookSnapshot(context.Background(), eth, 5)
	assert.ErrorIs(t, err, domain.ErrOrderBookNotFound)

	_, err = uc.GetBestDeal(context.Background(), eth)
	assert.ErrorIs(t, err, domain.ErrOrderBookNotFound)
}

func TestGetBestDeal(t *testing.T) {
	uc, syncAPI, maintainer, symbol := setup(t)

	_, err := uc.GetBestDeal(context.Background(), symbol)
	assert.ErrorIs(t, err, domain.ErrBestDealUnavailable, "not synced yet")

	runSynced(t, syncAPI, maintainer)

	deal, err := uc.GetBestDeal(context.Background(), symbol)
	require.NoError(t, err)
	assert.True(t, deal.Bid.Equal(domain.NewPriceLevel("3", "1")))
	assert.True(t, deal.Ask.Equal(domain.NewPriceLevel("4", "1")))
	assert.Equal(t, uint64(500), deal.LastUpdateID)
}
