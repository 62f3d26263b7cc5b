package provider

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/mferny/binance-md/domain"
	"github.com/mferny/binance-md/provider/binance"
)

type ConnectionManagerConfig struct {
	Stream binance.StreamClientConfig
	Sync   binance.SyncAPIConfig
}

// ConnectionManager owns the Binance connections shared by all symbols.
type ConnectionManager struct {
	BinanceWC        *binance.StreamClient
	BinanceSyncAPI   *binance.SyncAPI
	BinanceStreamAPI *binance.StreamAPI

	logger zerolog.Logger
}

func NewConnectionManager(config ConnectionManagerConfig, logger zerolog.Logger) *ConnectionManager {
	streamClient := binance.NewStreamClient(config.Stream, logger)

	return &ConnectionManager{
		BinanceWC:        streamClient,
		BinanceSyncAPI:   binance.NewSyncAPI(config.Sync, logger),
		BinanceStreamAPI: binance.NewStreamAPI(streamClient, logger),
		logger:           logger.With().Str("component", "connection-manager").Logger(),
	}
}

// Init dials the stream connection. Snapshot connections are dialed on demand.
func (cm *ConnectionManager) Init(ctx context.Context) error {
	if err := cm.BinanceWC.Connect(ctx); err != nil {
		return err
	}
	cm.logger.Info().Bool("connected", cm.BinanceWC.IsConnected()).Msg("binance stream initialized")
	return nil
}

func (cm *ConnectionManager) StreamAPI() domain.ProviderStreamAPI {
	return cm.BinanceStreamAPI
}

func (cm *ConnectionManager) SyncAPI() domain.ProviderSyncAPI {
	return cm.BinanceSyncAPI
}

func (cm *ConnectionManager) Close() error {
	return errors.Join(cm.BinanceWC.Close(), cm.BinanceSyncAPI.Close())
}
