package rpc

import (
	"fmt"
	"slices"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mferny/binance-md/domain"
)

const maxSnapshotDepth = 5000

type ValidationServiceConfig struct {
	AvailableProviders []string
	Symbols            []*domain.MarketSymbol
	DefaultDepth       int
}

type ValidationService struct {
	config *ValidationServiceConfig
}

func NewValidationService(config *ValidationServiceConfig) *ValidationService {
	return &ValidationService{
		config: config,
	}
}

// IsSupportedProvider accepts an empty provider as the default one.
func (s *ValidationService) IsSupportedProvider(provider string) bool {
	return provider == "" || slices.Contains(s.config.AvailableProviders, provider)
}

func (s *ValidationService) IsSupportedSymbol(symbol *domain.MarketSymbol) bool {
	return slices.ContainsFunc(s.config.Symbols, symbol.Equal)
}

// ParseMarket validates the "provider" and "market" fields of a request.
func (s *ValidationService) ParseMarket(in *structpb.Struct) (*domain.MarketSymbol, error) {
	fields := in.GetFields()

	provider := fields["provider"].GetStringValue()
	if !s.IsSupportedProvider(provider) {
		return nil, fmt.Errorf("provider %s is not supported", provider)
	}

	market := fields["market"].GetStringValue()
	symbol, err := domain.NewMarketSymbolFromString(market)
	if err != nil {
		return nil, fmt.Errorf("invalid market symbol %q. Correct market symbol should use / or _ as a separator", market)
	}
	if !s.IsSupportedSymbol(symbol) {
		return nil, fmt.Errorf("market %s is not tracked", symbol)
	}
	return symbol, nil
}

// ParseDepth reads "max_depth"; zero or absent means the default depth.
func (s *ValidationService) ParseDepth(in *structpb.Struct) (int, error) {
	value, ok := in.GetFields()["max_depth"]
	if !ok {
		return s.config.DefaultDepth, nil
	}
	if _, isNumber := value.GetKind().(*structpb.Value_NumberValue); !isNumber {
		return 0, fmt.Errorf("max_depth must be a number")
	}
	depth := value.GetNumberValue()
	if depth != float64(int(depth)) || depth < 0 || depth > maxSnapshotDepth {
		return 0, fmt.Errorf("max_depth must be an integer in [0, %d]", maxSnapshotDepth)
	}
	if depth == 0 {
		return s.config.DefaultDepth, nil
	}
	return int(depth), nil
}
