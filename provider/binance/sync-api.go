package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/valyala/fastjson"

	"github.com/mferny/binance-md/domain"
)

const DefaultWSAPIEndpoint = "wss://ws-api.binance.com:443/ws-api/v3"

var ErrTimeout = errors.New("timeout error")

// APIError is an error payload returned by the WebSocket API.
type APIError struct {
	Status int
	Code   int
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance api error: status=%d code=%d msg=%s", e.Status, e.Code, e.Msg)
}

// Temporary reports whether repeating the request may succeed.
func (e *APIError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests || e.Status == http.StatusTeapot
}

type SyncAPIConfig struct {
	Endpoint         string
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	// Attempts per snapshot request, the first one included.
	Retries              uint
	RetryInitialInterval time.Duration
}

type depthParams struct {
	Symbol string `json:"symbol"`
	Limit  int    `json:"limit"`
}

type depthRequest struct {
	ID     string      `json:"id"`
	Method string      `json:"method"`
	Params depthParams `json:"params"`
}

// SyncAPI requests order book snapshots over the Binance WebSocket API.
// The connection is dialed on first use and after every failure.
type SyncAPI struct {
	config SyncAPIConfig
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan []byte

	writeMutex sync.Mutex
}

func NewSyncAPI(config SyncAPIConfig, logger zerolog.Logger) *SyncAPI {
	if config.Endpoint == "" {
		config.Endpoint = DefaultWSAPIEndpoint
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 5 * time.Second
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 10 * time.Second
	}
	if config.Retries == 0 {
		config.Retries = 1
	}
	if config.RetryInitialInterval <= 0 {
		config.RetryInitialInterval = 500 * time.Millisecond
	}

	return &SyncAPI{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		logger:  logger.With().Str("component", "binance-sync-api").Logger(),
		pending: make(map[string]chan []byte),
	}
}

// OrderBookSnapshot requests the depth of the symbol, retrying transient
// failures with exponential backoff.
func (api *SyncAPI) OrderBookSnapshot(ctx context.Context, symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = api.config.RetryInitialInterval

	attempt := 0
	return backoff.Retry(ctx, func() (*domain.OrderBookSnapshot, error) {
		attempt++
		return api.requestDepth(ctx, symbol, limit)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(api.config.Retries),
		backoff.WithNotify(func(err error, next time.Duration) {
			api.logger.Warn().
				Err(err).
				Str("symbol", symbol.String()).
				Int("attempt", attempt).
				Dur("retry_in", next).
				Msg("snapshot request failed")
		}),
	)
}

func (api *SyncAPI) requestDepth(ctx context.Context, symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error) {
	conn, err := api.connection(ctx)
	if err != nil {
		return nil, err
	}

	req := depthRequest{
		ID:     uuid.NewString(),
		Method: "depth",
		Params: depthParams{Symbol: symbol.Pair(), Limit: limit},
	}
	reply := make(chan []byte, 1)

	api.mu.Lock()
	api.pending[req.ID] = reply
	api.mu.Unlock()
	defer api.forget(req.ID)

	api.writeMutex.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(api.config.RequestTimeout))
	err = conn.WriteJSON(req)
	api.writeMutex.Unlock()
	if err != nil {
		api.drop(conn, err)
		return nil, fmt.Errorf("send depth request: %w", err)
	}

	timer := time.NewTimer(api.config.RequestTimeout)
	defer timer.Stop()

	select {
	case msg, ok := <-reply:
		if !ok {
			return nil, ErrNotConnected
		}
		return decodeDepthResponse(msg)
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, backoff.Permanent(ctx.Err())
	}
}

func decodeDepthResponse(msg []byte) (*domain.OrderBookSnapshot, error) {
	v, err := fastjson.ParseBytes(msg)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrMalformedMessage, err))
	}

	if status := v.GetInt("status"); status != http.StatusOK {
		apiErr := &APIError{
			Status: status,
			Code:   v.GetInt("error", "code"),
			Msg:    string(v.GetStringBytes("error", "msg")),
		}
		if apiErr.Temporary() {
			return nil, apiErr
		}
		return nil, backoff.Permanent(apiErr)
	}

	result := v.Get("result")
	if result == nil {
		return nil, backoff.Permanent(malformed("missing field %q", "result"))
	}
	snapshot, err := decodeSnapshot(result)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return snapshot, nil
}

func (api *SyncAPI) connection(ctx context.Context) (*websocket.Conn, error) {
	api.mu.Lock()
	defer api.mu.Unlock()

	if api.conn != nil {
		return api.conn, nil
	}

	conn, _, err := api.dialer.DialContext(ctx, api.config.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", api.config.Endpoint, err)
	}
	api.logger.Info().Str("endpoint", api.config.Endpoint).Msg("connected")

	api.conn = conn
	go api.listener(conn)
	return conn, nil
}

func (api *SyncAPI) listener(conn *websocket.Conn) {
	var parser fastjson.Parser
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			api.drop(conn, err)
			return
		}

		v, err := parser.ParseBytes(message)
		if err != nil {
			api.logger.Warn().Err(err).Msg("unparsable response dropped")
			continue
		}
		id := string(v.GetStringBytes("id"))

		api.mu.Lock()
		reply, ok := api.pending[id]
		if ok {
			delete(api.pending, id)
		}
		api.mu.Unlock()

		if !ok {
			api.logger.Debug().Str("id", id).Msg("response without a pending request")
			continue
		}
		reply <- message
	}
}

// drop closes conn and fails the requests waiting on it.
func (api *SyncAPI) drop(conn *websocket.Conn, cause error) {
	api.mu.Lock()
	defer api.mu.Unlock()

	if api.conn != conn {
		return
	}
	api.logger.Warn().Err(cause).Msg("connection dropped")
	_ = conn.Close()
	api.conn = nil
	for id, reply := range api.pending {
		close(reply)
		delete(api.pending, id)
	}
}

func (api *SyncAPI) forget(id string) {
	api.mu.Lock()
	defer api.mu.Unlock()
	delete(api.pending, id)
}

func (api *SyncAPI) Close() error {
	api.mu.Lock()
	conn := api.conn
	api.mu.Unlock()

	if conn == nil {
		return nil
	}
	api.drop(conn, errors.New("closed"))
	return nil
}
