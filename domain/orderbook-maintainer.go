package domain

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

var (
	ErrStreamClosed      = errors.New("depth update stream closed")
	ErrMaintainerStopped = errors.New("orderbook maintainer stopped")
)

type MaintainerConfig struct {
	DepthLevels      int
	BufferCapacity   int
	WatchdogInterval time.Duration
	SnapshotLimit    int

	// Pacing of consecutive failed sync attempts.
	ResyncInitialInterval time.Duration
	ResyncMaxInterval     time.Duration
}

func DefaultMaintainerConfig() MaintainerConfig {
	return MaintainerConfig{
		DepthLevels:           5,
		BufferCapacity:        10000,
		WatchdogInterval:      5 * time.Second,
		SnapshotLimit:         1000,
		ResyncInitialInterval: 500 * time.Millisecond,
		ResyncMaxInterval:     30 * time.Second,
	}
}

func (c MaintainerConfig) withDefaults() MaintainerConfig {
	d := DefaultMaintainerConfig()
	if c.DepthLevels <= 0 {
		c.DepthLevels = d.DepthLevels
	}
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = d.BufferCapacity
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = d.WatchdogInterval
	}
	if c.SnapshotLimit <= 0 {
		c.SnapshotLimit = d.SnapshotLimit
	}
	if c.ResyncInitialInterval <= 0 {
		c.ResyncInitialInterval = d.ResyncInitialInterval
	}
	if c.ResyncMaxInterval < c.ResyncInitialInterval {
		c.ResyncMaxInterval = max(d.ResyncMaxInterval, c.ResyncInitialInterval)
	}
	return c
}

type snapshotResult struct {
	generation uint64
	snapshot   *OrderBookSnapshot
	err        error
}

type viewQuery struct {
	depth int
	reply chan *BookView
}

// OrderbookMaintainer keeps the local book of one symbol in sync with the
// provider. Every state transition happens inside Run's loop; the book is
// never touched from another goroutine.
type OrderbookMaintainer struct {
	symbol    *MarketSymbol
	config    MaintainerConfig
	streamAPI ProviderStreamAPI
	syncAPI   ProviderSyncAPI
	publisher Publisher
	metrics   Metrics
	logger    zerolog.Logger
	clock     func() time.Time

	orderBook *OrderBook
	buffer    *DiffBuffer
	validator DepthUpdateValidator
	watchdog  *Watchdog

	// Loop-owned state.
	status       SyncStatus
	expectFirst  bool
	generation   uint64
	cancelFetch  context.CancelFunc
	retry        <-chan time.Time
	pacing       *backoff.ExponentialBackOff
	lastBestDeal *BestDeal
	lastDepth    *DepthView

	snapshots    chan snapshotResult
	queries      chan viewQuery
	done         chan struct{}
	publicStatus atomic.Int32
}

func NewOrderBookMaintainer(
	symbol *MarketSymbol,
	config MaintainerConfig,
	streamAPI ProviderStreamAPI,
	syncAPI ProviderSyncAPI,
	publisher Publisher,
	metrics Metrics,
	logger zerolog.Logger,
) *OrderbookMaintainer {
	config = config.withDefaults()
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}

	pacing := backoff.NewExponentialBackOff()
	pacing.InitialInterval = config.ResyncInitialInterval
	pacing.MaxInterval = config.ResyncMaxInterval
	pacing.Reset()

	return &OrderbookMaintainer{
		symbol:    symbol,
		config:    config,
		streamAPI: streamAPI,
		syncAPI:   syncAPI,
		publisher: publisher,
		metrics:   metrics,
		logger: logger.With().
			Str("component", "orderbook-maintainer").
			Str("symbol", symbol.String()).
			Logger(),
		clock: time.Now,

		orderBook: NewOrderBook(symbol),
		buffer:    NewDiffBuffer(config.BufferCapacity),
		watchdog:  NewWatchdog(config.WatchdogInterval, time.Now),
		pacing:    pacing,

		snapshots: make(chan snapshotResult),
		queries:   make(chan viewQuery),
		done:      make(chan struct{}),
	}
}

func (m *OrderbookMaintainer) Symbol() *MarketSymbol {
	return m.symbol
}

// Status can be called from any goroutine.
func (m *OrderbookMaintainer) Status() SyncStatus {
	return SyncStatus(m.publicStatus.Load())
}

// Run subscribes to the provider streams and maintains the book until ctx
// is cancelled or the depth stream ends.
func (m *OrderbookMaintainer) Run(ctx context.Context) error {
	defer close(m.done)

	depth, err := m.streamAPI.DepthDiffStream(m.symbol)
	if err != nil {
		return fmt.Errorf("subscribe depth stream for %s: %w", m.symbol, err)
	}
	defer depth.Unsubscribe()

	trades, err := m.streamAPI.TradeStream(m.symbol)
	if err != nil {
		return fmt.Errorf("subscribe trade stream for %s: %w", m.symbol, err)
	}
	defer trades.Unsubscribe()

	m.logger.Info().Str("depth_topic", depth.Topic).Str("trade_topic", trades.Topic).Msg("subscribed")

	m.watchdog.Stamp(m.clock())
	resets := m.watchdog.Run(ctx)
	defer m.abortFetch()

	m.resync(ctx, ResyncReason_Start)

	tradeStream := trades.Stream
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("stopped")
			return nil

		case update, ok := <-depth.Stream:
			if !ok {
				return ErrStreamClosed
			}
			m.handleDiff(ctx, update)

		case trade, ok := <-tradeStream:
			if !ok {
				m.logger.Warn().Msg("trade stream closed")
				tradeStream = nil
				continue
			}
			m.publisher.OnTrade(NewTradeView(trade))

		case res := <-m.snapshots:
			m.handleSnapshot(ctx, res)

		case <-resets:
			if m.status == Synced && m.watchdog.Expired(m.clock()) {
				m.logger.Warn().
					Dur("interval", m.watchdog.Interval()).
					Time("last_update", m.watchdog.Last()).
					Msg("no book updates within the interval")
				m.resync(ctx, ResyncReason_Timeout)
			}

		case <-m.retry:
			m.requestSnapshot(ctx)

		case q := <-m.queries:
			q.reply <- m.view(q.depth)
		}
	}
}

// Query returns a consistent view with up to depth levels per side.
// A non-positive depth means the configured depth.
func (m *OrderbookMaintainer) Query(ctx context.Context, depth int) (*BookView, error) {
	q := viewQuery{depth: depth, reply: make(chan *BookView, 1)}

	select {
	case m.queries <- q:
	case <-m.done:
		return nil, ErrMaintainerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case view := <-q.reply:
		return view, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *OrderbookMaintainer) handleDiff(ctx context.Context, update *OrderBookUpdate) {
	if m.status != Synced {
		if err := m.buffer.Push(update); err != nil {
			m.logger.Warn().Err(err).Int("capacity", m.buffer.Cap()).Msg("buffered diffs dropped")
			m.resync(ctx, ResyncReason_Overflow)
			return
		}
		m.metrics.DiffsBuffered(m.symbol, m.buffer.Len())
		return
	}

	err := m.validate(update)
	if m.validator.IsErrOutdated(err) {
		m.logger.Debug().Uint64("final_update_id", update.FinalUpdateID).Msg("outdated diff skipped")
		return
	}
	if err != nil {
		m.logger.Warn().
			Uint64("last_update_id", m.orderBook.LastUpdateID).
			Uint64("first_update_id", update.FirstUpdateID).
			Uint64("final_update_id", update.FinalUpdateID).
			Msg("sequence gap")
		m.resync(ctx, ResyncReason_Gap)
		return
	}

	m.apply(update)
	m.publishViews()
}

func (m *OrderbookMaintainer) handleSnapshot(ctx context.Context, res snapshotResult) {
	if res.generation != m.generation || m.status != Syncing {
		m.logger.Debug().Uint64("generation", res.generation).Msg("superseded snapshot dropped")
		m.metrics.StaleSnapshotDropped(m.symbol)
		return
	}
	m.abortFetch()

	if res.err != nil {
		m.logger.Error().Err(res.err).Msg("snapshot fetch failed")
		m.resync(ctx, ResyncReason_SnapshotError)
		return
	}

	snapshot := res.snapshot
	if len(snapshot.Bids) == 0 && len(snapshot.Asks) == 0 {
		m.logger.Warn().Uint64("last_update_id", snapshot.LastUpdateID).Msg("empty snapshot")
		m.resync(ctx, ResyncReason_EmptySnapshot)
		return
	}

	m.orderBook.ResetFromSnapshot(snapshot)
	m.expectFirst = true

	pending := m.buffer.DrainApplicable(snapshot.LastUpdateID)
	m.metrics.DiffsBuffered(m.symbol, 0)
	for _, update := range pending {
		if err := m.validate(update); err != nil {
			m.logger.Warn().
				Uint64("snapshot_update_id", snapshot.LastUpdateID).
				Uint64("first_update_id", update.FirstUpdateID).
				Msg("snapshot does not connect to buffered diffs")
			m.resync(ctx, ResyncReason_SnapshotLagged)
			return
		}
		m.apply(update)
	}

	m.pacing.Reset()
	m.watchdog.Stamp(m.clock())
	m.setStatus(Synced)
	m.logger.Info().
		Uint64("last_update_id", m.orderBook.LastUpdateID).
		Int("replayed", len(pending)).
		Msg("order book synced")
	m.publishViews()
}

func (m *OrderbookMaintainer) validate(update *OrderBookUpdate) error {
	if m.expectFirst {
		return m.validator.ValidateFirst(update, m.orderBook.LastUpdateID)
	}
	return m.validator.ValidateNext(update, m.orderBook.LastUpdateID)
}

func (m *OrderbookMaintainer) apply(update *OrderBookUpdate) {
	m.orderBook.ApplyUpdate(update)
	m.expectFirst = false
	m.watchdog.Stamp(m.clock())
	m.metrics.DiffApplied(m.symbol, m.orderBook.LastUpdateID)
}

// resync drops the book and the buffer and starts a new sync attempt.
// Attempts following a failed one are paced.
func (m *OrderbookMaintainer) resync(ctx context.Context, reason ResyncReason) {
	paced := reason != ResyncReason_Start && m.status != Synced

	m.metrics.ResyncRequested(m.symbol, reason)
	m.abortFetch()
	m.buffer.Clear()
	m.metrics.DiffsBuffered(m.symbol, 0)
	m.orderBook.Clear()
	m.lastBestDeal, m.lastDepth = nil, nil
	m.setStatus(Unsynced)

	if !paced {
		m.requestSnapshot(ctx)
		return
	}

	delay := m.pacing.NextBackOff()
	if delay == backoff.Stop {
		delay = m.pacing.MaxInterval
	}
	m.logger.Info().Str("reason", string(reason)).Dur("delay", delay).Msg("resync scheduled")
	m.retry = time.After(delay)
}

func (m *OrderbookMaintainer) requestSnapshot(ctx context.Context) {
	m.retry = nil
	m.generation++
	generation := m.generation

	fetchCtx, cancel := context.WithCancel(ctx)
	m.cancelFetch = cancel
	m.setStatus(Syncing)

	go func() {
		snapshot, err := m.syncAPI.OrderBookSnapshot(fetchCtx, m.symbol, m.config.SnapshotLimit)
		select {
		case m.snapshots <- snapshotResult{generation: generation, snapshot: snapshot, err: err}:
		case <-fetchCtx.Done():
		}
	}()
}

func (m *OrderbookMaintainer) abortFetch() {
	if m.cancelFetch != nil {
		m.cancelFetch()
		m.cancelFetch = nil
	}
}

func (m *OrderbookMaintainer) setStatus(status SyncStatus) {
	if m.status == status {
		return
	}
	m.logger.Debug().Stringer("from", m.status).Stringer("to", status).Msg("status changed")
	m.status = status
	m.publicStatus.Store(int32(status))
	m.metrics.StatusChanged(m.symbol, status)
}

func (m *OrderbookMaintainer) publishViews() {
	if deal, err := BestDealOf(m.orderBook); err == nil && !deal.SamePrices(m.lastBestDeal) {
		m.lastBestDeal = deal
		m.publisher.OnBestDeal(deal)
	}

	depth := LevelsOf(m.orderBook, m.config.DepthLevels)
	if !depth.SameLevels(m.lastDepth) {
		m.lastDepth = depth
		m.publisher.OnDepthView(depth)
	}
}

func (m *OrderbookMaintainer) view(depth int) *BookView {
	if depth <= 0 {
		depth = m.config.DepthLevels
	}
	deal, _ := BestDealOf(m.orderBook)
	return &BookView{
		Symbol:        m.symbol,
		Status:        m.status,
		LastUpdateID:  m.orderBook.LastUpdateID,
		Depth:         LevelsOf(m.orderBook, depth),
		BestDeal:      deal,
		BufferedDiffs: m.buffer.Len(),
	}
}
