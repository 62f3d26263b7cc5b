package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/mferny/binance-md/config"
	"github.com/mferny/binance-md/domain"
	promclient "github.com/mferny/binance-md/infrastructure/prometheus"
	"github.com/mferny/binance-md/provider"
	"github.com/mferny/binance-md/provider/binance"
	"github.com/mferny/binance-md/publisher"
	"github.com/mferny/binance-md/rpc"
	"github.com/mferny/binance-md/usecase"
)

func main() {
	cfg, err := config.Load(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("exited with error")
		os.Exit(1)
	}
	logger.Info().Msg("shutdown complete")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, _ := cfg.Level()
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.DebugMode {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
			Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	connManager := provider.NewConnectionManager(provider.ConnectionManagerConfig{
		Stream: binance.StreamClientConfig{
			Endpoint: cfg.BinanceStreamEndpoint,
		},
		Sync: binance.SyncAPIConfig{
			Endpoint:       cfg.BinanceWSAPIEndpoint,
			RequestTimeout: cfg.SnapshotTimeout,
			Retries:        cfg.SnapshotRetries,
		},
	}, logger)
	defer func() {
		if err := connManager.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing connections")
		}
	}()

	if err := connManager.Init(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	metrics := promclient.NewMetrics()
	console := publisher.NewConsole(os.Stdout, logger)
	storage := domain.NewOrderBookStorage()

	g, ctx := errgroup.WithContext(ctx)

	for _, symbol := range cfg.MarketSymbols {
		maintainer := domain.NewOrderBookMaintainer(
			symbol,
			cfg.MaintainerConfig(),
			connManager.StreamAPI(),
			connManager.SyncAPI(),
			console,
			metrics,
			logger,
		)
		storage.Add(maintainer)
		g.Go(func() error {
			if err := maintainer.Run(ctx); err != nil {
				return fmt.Errorf("%s: %w", symbol, err)
			}
			return nil
		})
	}

	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.StartPromClientServer(ctx, cfg.MetricsAddr, logger)
		})
	}

	if cfg.RPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.RPCAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.RPCAddr, err)
		}

		useCase := usecase.NewOrderBookSnapshotUseCase(connManager.SyncAPI(), storage, logger)
		srv := rpc.NewServer(useCase, &rpc.ValidationServiceConfig{
			AvailableProviders: []string{"binance"},
			Symbols:            cfg.MarketSymbols,
			DefaultDepth:       cfg.DepthLevels,
		})
		grpcServer := rpc.NewGrpcServer(srv, cfg.DebugMode, logger)
		g.Go(func() error {
			return grpcServer.Serve(ctx, lis)
		})
	}

	logger.Info().
		Strs("symbols", cfg.Symbols).
		Int("depth_levels", cfg.DepthLevels).
		Dur("watchdog_interval", cfg.WatchdogInterval).
		Msg("started")

	return g.Wait()
}
