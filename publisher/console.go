package publisher

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mferny/binance-md/domain"
)

// Console prints one line per published view:
//
//	D <symbol> <lastUpdateId> bid=<p>x<q> ask=<p>x<q>
//	L <symbol> <lastUpdateId> bids=<p>x<q>,... asks=<p>x<q>,...
//	T <symbol> <time> <BUY|SELL> <p>x<q>
type Console struct {
	mu     sync.Mutex
	out    *bufio.Writer
	logger zerolog.Logger
}

func NewConsole(out io.Writer, logger zerolog.Logger) *Console {
	return &Console{
		out:    bufio.NewWriter(out),
		logger: logger.With().Str("component", "console-publisher").Logger(),
	}
}

func (c *Console) OnBestDeal(deal *domain.BestDeal) {
	c.writeLine("D", deal.Symbol.String(), strconv.FormatUint(deal.LastUpdateID, 10),
		"bid="+deal.Bid.String(), "ask="+deal.Ask.String())
}

func (c *Console) OnDepthView(view *domain.DepthView) {
	c.writeLine("L", view.Symbol.String(), strconv.FormatUint(view.LastUpdateID, 10),
		"bids="+joinLevels(view.Bids), "asks="+joinLevels(view.Asks))
}

func (c *Console) OnTrade(trade domain.TradeView) {
	c.writeLine("T", trade.Symbol.String(), trade.TradeTime.UTC().Format(time.RFC3339Nano),
		string(trade.Side), trade.Price.String()+"x"+trade.Quantity.String())
}

func (c *Console) writeLine(fields ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, _ = c.out.WriteString(strings.Join(fields, " "))
	_ = c.out.WriteByte('\n')
	if err := c.out.Flush(); err != nil {
		c.logger.Warn().Err(err).Msg("write failed")
	}
}

func joinLevels(levels []domain.PriceLevel) string {
	if len(levels) == 0 {
		return "-"
	}
	parts := make([]string, len(levels))
	for i, level := range levels {
		parts[i] = level.String()
	}
	return strings.Join(parts, ",")
}
