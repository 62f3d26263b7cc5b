package domain

import (
	"context"
	"sync/atomic"
	"time"
)

const minWatchdogTick = 10 * time.Millisecond

// Watchdog tracks the time of the last successful book update and signals
// when it is older than the interval. It never touches the book itself.
type Watchdog struct {
	interval time.Duration
	clock    func() time.Time
	last     atomic.Int64
}

func NewWatchdog(interval time.Duration, clock func() time.Time) *Watchdog {
	if clock == nil {
		clock = time.Now
	}
	w := &Watchdog{interval: interval, clock: clock}
	w.Stamp(clock())
	return w
}

func (w *Watchdog) Stamp(t time.Time) {
	w.last.Store(t.UnixNano())
}

func (w *Watchdog) Last() time.Time {
	return time.Unix(0, w.last.Load())
}

func (w *Watchdog) Expired(now time.Time) bool {
	return now.Sub(w.Last()) > w.interval
}

func (w *Watchdog) Interval() time.Duration {
	return w.interval
}

// Run checks the stamp several times per interval and posts a signal on the
// returned channel whenever it is expired. A signal is dropped if the
// previous one has not been consumed yet.
func (w *Watchdog) Run(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)

	tick := w.interval / 5
	if tick < minWatchdogTick {
		tick = minWatchdogTick
	}

	go func() {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !w.Expired(w.clock()) {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	return out
}
