package promclient

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mferny/binance-md/domain"
)

func btcusdt(t *testing.T) *domain.MarketSymbol {
	t.Helper()
	symbol, err := domain.NewMarketSymbolFromString("btc_usdt")
	require.NoError(t, err)
	return symbol
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	symbol := btcusdt(t)

	m.ResyncRequested(symbol, domain.ResyncReason_Start)
	m.ResyncRequested(symbol, domain.ResyncReason_Gap)
	m.ResyncRequested(symbol, domain.ResyncReason_Gap)
	m.DiffApplied(symbol, 100)
	m.DiffApplied(symbol, 105)
	m.DiffsBuffered(symbol, 7)
	m.StatusChanged(symbol, domain.Synced)
	m.StaleSnapshotDropped(symbol)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.resyncs.WithLabelValues("btc_usdt", "gap")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.resyncs.WithLabelValues("btc_usdt", "start")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.diffsApplied.WithLabelValues("btc_usdt")))
	assert.Equal(t, float64(105), testutil.ToFloat64(m.lastUpdateID.WithLabelValues("btc_usdt")))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.diffsBuffered.WithLabelValues("btc_usdt")))
	assert.Equal(t, float64(domain.Synced), testutil.ToFloat64(m.syncStatus.WithLabelValues("btc_usdt")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.staleSnapshots.WithLabelValues("btc_usdt")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ResyncRequested(btcusdt(t), domain.ResyncReason_Overflow)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, `orderbook_resyncs_total{reason="overflow",symbol="btc_usdt"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestStartPromClientServer(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	m := NewMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.StartPromClientServer(ctx, addr, zerolog.Nop()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK && strings.Contains(string(body), "go_goroutines")
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
