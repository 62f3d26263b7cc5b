package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"
)

// fakeStreamServer acknowledges SUBSCRIBE requests and then pushes one
// depth frame per subscribed topic.
type fakeStreamServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []WebSocketRequestModel
}

func newFakeStreamServer(t *testing.T) *fakeStreamServer {
	t.Helper()
	s := &fakeStreamServer{}
	upgrader := websocket.Upgrader{}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var req WebSocketRequestModel
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			s.mu.Lock()
			s.requests = append(s.requests, req)
			s.mu.Unlock()

			if err := conn.WriteJSON(map[string]any{"result": nil, "id": req.ReqId}); err != nil {
				return
			}
			if req.Method != "SUBSCRIBE" {
				continue
			}
			for _, topic := range req.Params {
				frame := `{"stream":"` + topic + `","data":{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":1,"u":2,"b":[],"a":[]}}`
				if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *fakeStreamServer) URL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

func (s *fakeStreamServer) Requests() []WebSocketRequestModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WebSocketRequestModel(nil), s.requests...)
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func TestStreamClient_SubscribeAndDispatch(t *testing.T) {
	server := newFakeStreamServer(t)
	client := NewStreamClient(StreamClientConfig{Endpoint: server.URL(), HandshakeTimeout: 200 * time.Millisecond}, zerolog.Nop())
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Close() })
	require.Eventually(t, client.IsConnected, 3*time.Second, 10*time.Millisecond)

	first, err := client.Subscribe("btcusdt@depth")
	require.NoError(t, err)

	data := receive(t, first.Stream)
	v, err := fastjson.ParseBytes(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v.GetUint64("u"), "subscribers receive the data object")

	// a second subscriber shares the topic without a new SUBSCRIBE
	second, err := client.Subscribe("btcusdt@depth")
	require.NoError(t, err)

	first.Unsubscribe()
	first.Unsubscribe()
	select {
	case <-first.Done:
	default:
		t.Fatal("done is closed on unsubscribe")
	}

	second.Unsubscribe()
	require.Eventually(t, func() bool { return len(server.Requests()) == 2 }, 3*time.Second, 10*time.Millisecond)

	requests := server.Requests()
	assert.Equal(t, "SUBSCRIBE", requests[0].Method)
	assert.Equal(t, []string{"btcusdt@depth"}, requests[0].Params)
	assert.Equal(t, "UNSUBSCRIBE", requests[1].Method)
	assert.NotEqual(t, requests[0].ReqId, requests[1].ReqId)
}

func TestStreamClient_SubscribesPendingTopicsOnConnect(t *testing.T) {
	server := newFakeStreamServer(t)
	client := NewStreamClient(StreamClientConfig{Endpoint: server.URL(), HandshakeTimeout: 200 * time.Millisecond}, zerolog.Nop())
	t.Cleanup(func() { _ = client.Close() })

	sub, err := client.Subscribe("ethbtc@depth")
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))
	receive(t, sub.Stream)

	requests := server.Requests()
	require.NotEmpty(t, requests)
	assert.Equal(t, []string{"ethbtc@depth"}, requests[0].Params)
}

func TestStreamClient_Closed(t *testing.T) {
	client := NewStreamClient(StreamClientConfig{}, zerolog.Nop())
	sub, err := client.Subscribe("btcusdt@depth")
	require.NoError(t, err)

	require.NoError(t, client.Close())
	<-sub.Done

	_, err = client.Subscribe("btcusdt@depth")
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.ErrorIs(t, client.Connect(context.Background()), ErrClientClosed)
}
