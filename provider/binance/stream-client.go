package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/recws-org/recws"
	"github.com/rs/zerolog"
	"github.com/valyala/fastjson"

	"github.com/mferny/binance-md/domain"
)

const (
	DefaultStreamEndpoint = "wss://stream.binance.com:9443/stream"
	pingDelay             = time.Minute * 9
	readRetryDelay        = 100 * time.Millisecond
	subscriberBufferSize  = 1024
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrClientClosed = errors.New("stream client closed")
)

type WebSocketRequestModel struct {
	ReqId  uint64   `json:"id"`
	Params []string `json:"params"`
	Method string   `json:"method"`
}

type StreamClientConfig struct {
	Endpoint         string
	HandshakeTimeout time.Duration
}

type subscriber struct {
	ch   chan []byte
	done chan struct{}
}

type SubscribtionEntry struct {
	subscribers map[uint64]*subscriber
}

// StreamClient multiplexes Binance market streams over one reconnecting
// combined-stream connection. Topics are reference counted; every
// subscriber of a topic receives every frame of it.
type StreamClient struct {
	config StreamClientConfig
	conn   *recws.RecConn
	logger zerolog.Logger

	mu            sync.RWMutex
	subscriptions map[string]*SubscribtionEntry
	closed        bool

	nextReqID        atomic.Uint64
	nextSubscriberID atomic.Uint64
	cancel           context.CancelFunc
}

func NewStreamClient(config StreamClientConfig, logger zerolog.Logger) *StreamClient {
	if config.Endpoint == "" {
		config.Endpoint = DefaultStreamEndpoint
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 5 * time.Second
	}
	return &StreamClient{
		config:        config,
		logger:        logger.With().Str("component", "binance-stream-client").Logger(),
		subscriptions: make(map[string]*SubscribtionEntry),
	}
}

// Connect dials the endpoint and starts the reader. The connection is
// re-established in the background; active topics are subscribed again on
// every reconnect.
func (c *StreamClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	conn := &recws.RecConn{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.config.HandshakeTimeout,
		KeepAliveTimeout: pingDelay,
		NonVerbose:       true,
	}
	conn.SubscribeHandler = c.resubscribe
	c.conn = conn
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	conn.Dial(c.config.Endpoint, nil)
	if !conn.IsConnected() {
		c.logger.Warn().Err(conn.GetDialError()).Str("endpoint", c.config.Endpoint).Msg("not connected yet, retrying in background")
	} else {
		c.logger.Info().Str("endpoint", c.config.Endpoint).Msg("connected")
	}

	go c.read(ctx)
	return nil
}

func (c *StreamClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Subscribe registers a subscriber for the topic. The returned stream is
// never closed; Done is closed on Unsubscribe.
func (c *StreamClient) Subscribe(topic string) (*domain.Subscription[[]byte], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}

	entry, ok := c.subscriptions[topic]
	if !ok {
		entry = &SubscribtionEntry{subscribers: make(map[uint64]*subscriber)}
		c.subscriptions[topic] = entry

		c.logger.Info().Str("topic", topic).Msg("subscribing")
		if err := c.send("SUBSCRIBE", topic); err != nil {
			// resubscribed by the connect handler
			c.logger.Warn().Err(err).Str("topic", topic).Msg("subscribe deferred")
		}
	}

	id := c.nextSubscriberID.Add(1)
	sub := &subscriber{
		ch:   make(chan []byte, subscriberBufferSize),
		done: make(chan struct{}),
	}
	entry.subscribers[id] = sub

	var once sync.Once
	return &domain.Subscription[[]byte]{
		Stream: sub.ch,
		Unsubscribe: func() {
			once.Do(func() { c.unSubscribe(topic, id) })
		},
		Done:  sub.done,
		Topic: topic,
	}, nil
}

func (c *StreamClient) unSubscribe(topic string, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.subscriptions[topic]
	if !ok {
		return
	}
	if sub, ok := entry.subscribers[id]; ok {
		close(sub.done)
		delete(entry.subscribers, id)
	}
	if len(entry.subscribers) > 0 {
		return
	}

	delete(c.subscriptions, topic)
	c.logger.Info().Str("topic", topic).Msg("unsubscribing")
	if err := c.send("UNSUBSCRIBE", topic); err != nil && !c.closed {
		c.logger.Warn().Err(err).Str("topic", topic).Msg("unsubscribe failed")
	}
}

// send must be called with c.mu held.
func (c *StreamClient) send(method string, topics ...string) error {
	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(WebSocketRequestModel{
		Method: method,
		ReqId:  c.nextReqID.Add(1),
		Params: topics,
	})
}

// resubscribe runs on every (re)connect. An error would stop the
// reconnecting connection, so failures are only logged.
func (c *StreamClient) resubscribe() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.subscriptions) == 0 {
		return nil
	}
	topics := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		topics = append(topics, topic)
	}
	if err := c.conn.WriteJSON(WebSocketRequestModel{
		Method: "SUBSCRIBE",
		ReqId:  c.nextReqID.Add(1),
		Params: topics,
	}); err != nil {
		c.logger.Error().Err(err).Strs("topics", topics).Msg("resubscribe failed")
		return nil
	}
	c.logger.Info().Strs("topics", topics).Msg("resubscribed")
	return nil
}

func (c *StreamClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	for topic, entry := range c.subscriptions {
		for id, sub := range entry.subscribers {
			close(sub.done)
			delete(entry.subscribers, id)
		}
		delete(c.subscriptions, topic)
	}
	if c.conn != nil {
		c.conn.Close()
	}
	return nil
}

func (c *StreamClient) read(ctx context.Context) {
	var parser fastjson.Parser

	for ctx.Err() == nil {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, recws.ErrNotConnected) {
				c.logger.Warn().Err(err).Msg("read failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(readRetryDelay):
			}
			continue
		}

		v, err := parser.ParseBytes(msg)
		if err != nil {
			c.logger.Warn().Err(err).Msg("unparsable frame dropped")
			continue
		}

		if v.Exists("id") {
			c.handleAck(v)
			continue
		}

		stream := v.GetStringBytes("stream")
		data := v.Get("data")
		if stream == nil || data == nil {
			c.logger.Debug().Bytes("frame", msg).Msg("unknown frame")
			continue
		}
		c.dispatch(ctx, string(stream), data.MarshalTo(nil))
	}
}

func (c *StreamClient) handleAck(v *fastjson.Value) {
	id := v.GetUint64("id")
	if e := v.Get("error"); e != nil {
		c.logger.Error().
			Uint64("id", id).
			Int("code", e.GetInt("code")).
			Str("msg", string(e.GetStringBytes("msg"))).
			Msg("request rejected")
		return
	}
	c.logger.Debug().Uint64("id", id).Msg("request acknowledged")
}

func (c *StreamClient) dispatch(ctx context.Context, topic string, data []byte) {
	c.mu.RLock()
	entry, ok := c.subscriptions[topic]
	var subs []*subscriber
	if ok {
		subs = make([]*subscriber, 0, len(entry.subscribers))
		for _, sub := range entry.subscribers {
			subs = append(subs, sub)
		}
	}
	c.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- data:
		case <-sub.done:
		case <-ctx.Done():
			return
		}
	}
}

func (c *StreamClient) String() string {
	return fmt.Sprintf("binance stream client (%s)", c.config.Endpoint)
}
