package promclient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mferny/binance-md/domain"
)

// Metrics is the Prometheus implementation of domain.Metrics.
type Metrics struct {
	registry *prometheus.Registry

	resyncs        *prometheus.CounterVec
	diffsApplied   *prometheus.CounterVec
	diffsBuffered  *prometheus.GaugeVec
	lastUpdateID   *prometheus.GaugeVec
	syncStatus     *prometheus.GaugeVec
	staleSnapshots *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbook_resyncs_total",
			Help: "Order book resynchronizations by reason.",
		}, []string{"symbol", "reason"}),
		diffsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbook_diffs_applied_total",
			Help: "Depth diffs applied to the local order book.",
		}, []string{"symbol"}),
		diffsBuffered: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orderbook_diffs_buffered",
			Help: "Depth diffs waiting for a snapshot.",
		}, []string{"symbol"}),
		lastUpdateID: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orderbook_last_update_id",
			Help: "Last update id applied to the local order book.",
		}, []string{"symbol"}),
		syncStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orderbook_sync_status",
			Help: "0 unsynced, 1 syncing, 2 synced.",
		}, []string{"symbol"}),
		staleSnapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbook_stale_snapshots_total",
			Help: "Snapshots dropped because a newer sync attempt superseded them.",
		}, []string{"symbol"}),
	}

	m.registry.MustRegister(
		m.resyncs,
		m.diffsApplied,
		m.diffsBuffered,
		m.lastUpdateID,
		m.syncStatus,
		m.staleSnapshots,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) ResyncRequested(symbol *domain.MarketSymbol, reason domain.ResyncReason) {
	m.resyncs.WithLabelValues(symbol.String(), string(reason)).Inc()
}

func (m *Metrics) DiffApplied(symbol *domain.MarketSymbol, lastUpdateID uint64) {
	m.diffsApplied.WithLabelValues(symbol.String()).Inc()
	m.lastUpdateID.WithLabelValues(symbol.String()).Set(float64(lastUpdateID))
}

func (m *Metrics) DiffsBuffered(symbol *domain.MarketSymbol, n int) {
	m.diffsBuffered.WithLabelValues(symbol.String()).Set(float64(n))
}

func (m *Metrics) StatusChanged(symbol *domain.MarketSymbol, status domain.SyncStatus) {
	m.syncStatus.WithLabelValues(symbol.String()).Set(float64(status))
}

func (m *Metrics) StaleSnapshotDropped(symbol *domain.MarketSymbol) {
	m.staleSnapshots.WithLabelValues(symbol.String()).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartPromClientServer serves /metrics on addr until ctx is done.
func (m *Metrics) StartPromClientServer(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("prometheus server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
