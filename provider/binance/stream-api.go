package binance

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/valyala/fastjson"

	"github.com/mferny/binance-md/domain"
)

const recordBufferSize = 256

type topicSubscriber interface {
	Subscribe(topic string) (*domain.Subscription[[]byte], error)
}

// StreamAPI turns raw stream frames into domain records.
type StreamAPI struct {
	streamClient topicSubscriber
	logger       zerolog.Logger
}

func NewStreamAPI(client topicSubscriber, logger zerolog.Logger) *StreamAPI {
	return &StreamAPI{
		streamClient: client,
		logger:       logger.With().Str("component", "binance-stream-api").Logger(),
	}
}

func DepthTopic(symbol *domain.MarketSymbol) string {
	return fmt.Sprintf("%s@depth", symbol.StreamName())
}

func TradeTopic(symbol *domain.MarketSymbol) string {
	return fmt.Sprintf("%s@aggTrade", symbol.StreamName())
}

func (bs *StreamAPI) DepthDiffStream(symbol *domain.MarketSymbol) (*domain.Subscription[*domain.OrderBookUpdate], error) {
	return subscribeDecoded(bs, DepthTopic(symbol), func(v *fastjson.Value) (*domain.OrderBookUpdate, error) {
		return decodeDepthUpdate(v, symbol)
	})
}

func (bs *StreamAPI) TradeStream(symbol *domain.MarketSymbol) (*domain.Subscription[*domain.Trade], error) {
	return subscribeDecoded(bs, TradeTopic(symbol), func(v *fastjson.Value) (*domain.Trade, error) {
		return decodeTrade(v, symbol)
	})
}

// subscribeDecoded decodes every frame of the topic. Malformed records are
// logged and dropped. The stream is closed after Unsubscribe.
func subscribeDecoded[T any](
	bs *StreamAPI, topic string, decode func(*fastjson.Value) (T, error),
) (*domain.Subscription[T], error) {
	raw, err := bs.streamClient.Subscribe(topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	logger := bs.logger.With().Str("topic", topic).Logger()
	out := make(chan T, recordBufferSize)

	go func() {
		defer close(out)

		var parser fastjson.Parser
		for {
			select {
			case <-raw.Done:
				return
			case msg := <-raw.Stream:
				v, err := parser.ParseBytes(msg)
				if err != nil {
					logger.Warn().Err(err).Msg("unparsable record dropped")
					continue
				}
				record, err := decode(v)
				if err != nil {
					logger.Warn().Err(err).Bytes("data", msg).Msg("malformed record dropped")
					continue
				}
				select {
				case out <- record:
				case <-raw.Done:
					return
				}
			}
		}
	}()

	return &domain.Subscription[T]{
		Stream:      out,
		Unsubscribe: raw.Unsubscribe,
		Done:        raw.Done,
		Topic:       topic,
	}, nil
}
