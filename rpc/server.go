package rpc

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/mferny/binance-md/domain"
)

type OrderBookSnapshotUseCase interface {
	GetOrderBookSnapshot(ctx context.Context, symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error)
	GetBestDeal(ctx context.Context, symbol *domain.MarketSymbol) (*domain.BestDeal, error)
}

type server struct {
	orderbookSnapshotUseCase OrderBookSnapshotUseCase
	validationService        *ValidationService
}

func NewServer(useCase OrderBookSnapshotUseCase, conf *ValidationServiceConfig) *server {
	return &server{
		orderbookSnapshotUseCase: useCase,
		validationService:        NewValidationService(conf),
	}
}

type GrpcServer struct {
	Server *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

// NewGrpcServer registers the market data service along with the standard
// health service. Reflection is enabled in debug mode.
func NewGrpcServer(srv MarketDataServiceServer, debug bool, logger zerolog.Logger) *GrpcServer {
	logger = logger.With().Str("component", "grpc-server").Logger()

	s := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	RegisterMarketDataServiceServer(s, srv)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, healthServer)

	if debug {
		reflection.Register(s)
	}

	return &GrpcServer{
		Server: s,
		health: healthServer,
		logger: logger,
	}
}

// Serve blocks until ctx is done or the listener fails.
func (g *GrpcServer) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info().Str("addr", lis.Addr().String()).Msg("grpc server listening")
		errCh <- g.Server.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		g.Stop()
		return nil
	}
}

func (g *GrpcServer) Stop() {
	g.health.Shutdown()
	g.Server.GracefulStop()
	g.logger.Info().Msg("grpc server stopped")
}

func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		event := logger.Debug()
		if err != nil {
			event = logger.Warn().Err(err)
		}
		event.
			Str("method", info.FullMethod).
			Stringer("code", status.Code(err)).
			Dur("elapsed", time.Since(start)).
			Msg("rpc handled")
		return resp, err
	}
}
