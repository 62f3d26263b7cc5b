package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mferny/binance-md/domain"
	"github.com/mferny/binance-md/provider/binance"
)

func (s *server) GetOrderBookSnapshot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	symbol, err := s.validationService.ParseMarket(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	depth, err := s.validationService.ParseDepth(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	snapshot, err := s.orderbookSnapshotUseCase.GetOrderBookSnapshot(ctx, symbol, depth)
	if err != nil {
		return nil, toStatus(err)
	}

	return structpb.NewStruct(map[string]any{
		"market":         symbol.String(),
		"source":         string(snapshot.Source),
		"last_update_id": float64(snapshot.LastUpdateID),
		"bids":           levelsToList(snapshot.Bids),
		"asks":           levelsToList(snapshot.Asks),
	})
}

func (s *server) GetBestDeal(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	symbol, err := s.validationService.ParseMarket(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	deal, err := s.orderbookSnapshotUseCase.GetBestDeal(ctx, symbol)
	if err != nil {
		return nil, toStatus(err)
	}

	return structpb.NewStruct(map[string]any{
		"market":         symbol.String(),
		"last_update_id": float64(deal.LastUpdateID),
		"bid":            levelToMap(deal.Bid),
		"ask":            levelToMap(deal.Ask),
	})
}

// Prices and quantities travel as strings to keep the exchange precision.
func levelToMap(level domain.PriceLevel) map[string]any {
	return map[string]any{
		"price": level.Price.String(),
		"qty":   level.Quantity.String(),
	}
}

func levelsToList(levels []domain.PriceLevel) []any {
	out := make([]any, 0, len(levels))
	for _, level := range levels {
		out = append(out, levelToMap(level))
	}
	return out
}

func toStatus(err error) error {
	var apiErr *binance.APIError

	switch {
	case errors.Is(err, domain.ErrOrderBookNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrBestDealUnavailable),
		errors.Is(err, domain.ErrMaintainerStopped),
		errors.Is(err, binance.ErrNotConnected),
		errors.Is(err, binance.ErrTimeout):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.As(err, &apiErr):
		if apiErr.Temporary() {
			return status.Error(codes.Unavailable, err.Error())
		}
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
