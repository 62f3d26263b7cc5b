package binance

import (
	"errors"
	"fmt"
	"time"

	"github.com/valyala/fastjson"

	"github.com/mferny/binance-md/domain"
)

var ErrMalformedMessage = errors.New("malformed message")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedMessage, fmt.Sprintf(format, args...))
}

func field(v *fastjson.Value, key string) (*fastjson.Value, error) {
	f := v.Get(key)
	if f == nil {
		return nil, malformed("missing field %q", key)
	}
	return f, nil
}

func uint64Field(v *fastjson.Value, key string) (uint64, error) {
	f, err := field(v, key)
	if err != nil {
		return 0, err
	}
	n, err := f.Uint64()
	if err != nil {
		return 0, malformed("field %q: %s", key, err)
	}
	return n, nil
}

func stringField(v *fastjson.Value, key string) (string, error) {
	f, err := field(v, key)
	if err != nil {
		return "", err
	}
	b, err := f.StringBytes()
	if err != nil {
		return "", malformed("field %q: %s", key, err)
	}
	return string(b), nil
}

func millisField(v *fastjson.Value, key string) (time.Time, error) {
	ms, err := uint64Field(v, key)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(ms)), nil
}

// levelsField decodes [["price","qty"], ...]. A missing side is an empty side.
func levelsField(v *fastjson.Value, key string) ([]domain.PriceLevel, error) {
	f := v.Get(key)
	if f == nil {
		return nil, nil
	}
	arr, err := f.Array()
	if err != nil {
		return nil, malformed("field %q: %s", key, err)
	}

	levels := make([]domain.PriceLevel, 0, len(arr))
	for i, pq := range arr {
		pair, err := pq.Array()
		if err != nil || len(pair) != 2 {
			return nil, malformed("%s[%d]: expected [price, quantity]", key, i)
		}
		price, perr := pair[0].StringBytes()
		qty, qerr := pair[1].StringBytes()
		if perr != nil || qerr != nil {
			return nil, malformed("%s[%d]: price and quantity must be strings", key, i)
		}
		level, err := domain.ParsePriceLevel(string(price), string(qty))
		if err != nil {
			return nil, fmt.Errorf("%w: %s[%d]: %w", ErrMalformedMessage, key, i, err)
		}
		levels = append(levels, level)
	}
	return levels, nil
}

// decodeDepthUpdate decodes the data of a <symbol>@depth event.
func decodeDepthUpdate(v *fastjson.Value, symbol *domain.MarketSymbol) (*domain.OrderBookUpdate, error) {
	first, err := uint64Field(v, "U")
	if err != nil {
		return nil, err
	}
	final, err := uint64Field(v, "u")
	if err != nil {
		return nil, err
	}
	if first == 0 || final < first {
		return nil, malformed("invalid update range [%d, %d]", first, final)
	}
	eventTime, err := millisField(v, "E")
	if err != nil {
		return nil, err
	}
	bids, err := levelsField(v, "b")
	if err != nil {
		return nil, err
	}
	asks, err := levelsField(v, "a")
	if err != nil {
		return nil, err
	}

	return &domain.OrderBookUpdate{
		Symbol:        symbol,
		EventTime:     eventTime,
		FirstUpdateID: first,
		FinalUpdateID: final,
		Bids:          bids,
		Asks:          asks,
	}, nil
}

// decodeTrade decodes the data of a <symbol>@aggTrade event.
func decodeTrade(v *fastjson.Value, symbol *domain.MarketSymbol) (*domain.Trade, error) {
	id, err := uint64Field(v, "a")
	if err != nil {
		return nil, err
	}
	price, err := stringField(v, "p")
	if err != nil {
		return nil, err
	}
	qty, err := stringField(v, "q")
	if err != nil {
		return nil, err
	}
	level, err := domain.ParsePriceLevel(price, qty)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	tradeTime, err := millisField(v, "T")
	if err != nil {
		return nil, err
	}
	maker, err := field(v, "m")
	if err != nil {
		return nil, err
	}
	isBuyerMaker, err := maker.Bool()
	if err != nil {
		return nil, malformed("field \"m\": %s", err)
	}

	return &domain.Trade{
		Symbol:             symbol,
		AggTradeID:         id,
		Price:              level.Price,
		Quantity:           level.Quantity,
		IsBuyerMarketMaker: isBuyerMaker,
		TradeTime:          tradeTime,
	}, nil
}

// decodeSnapshot decodes a depth result {"lastUpdateId","bids","asks"}.
func decodeSnapshot(v *fastjson.Value) (*domain.OrderBookSnapshot, error) {
	lastUpdateID, err := uint64Field(v, "lastUpdateId")
	if err != nil {
		return nil, err
	}
	bids, err := levelsField(v, "bids")
	if err != nil {
		return nil, err
	}
	asks, err := levelsField(v, "asks")
	if err != nil {
		return nil, err
	}

	return &domain.OrderBookSnapshot{
		Source:       domain.OrderBookSource_Provider,
		LastUpdateID: lastUpdateID,
		Bids:         bids,
		Asks:         asks,
	}, nil
}
