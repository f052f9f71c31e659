// Package rsi maintains Wilder's RSI(period) over closed candles plus the
// currently forming one, for a (symbol, interval) pair.
package rsi

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"swing-core/internal/broadcast"
	"swing-core/internal/clock"
	"swing-core/pkg/types"
)

const defaultBootstrapLimit = 500

// Feed is the wire-level collaborator: REST kline seeding plus a live kline
// stream. Implemented by an exchange adapter.
type Feed interface {
	FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error)
	Dial(ctx context.Context, symbol, interval string) (candles <-chan types.Candle, closed <-chan struct{}, err error)
}

// Config configures one Tracker.
type Config struct {
	Symbol         string
	Interval       string
	Period         int
	BootstrapLimit int
}

func (c *Config) applyDefaults() {
	if c.Period == 0 {
		c.Period = 14
	}
	if c.BootstrapLimit == 0 {
		c.BootstrapLimit = defaultBootstrapLimit
	}
}

// wilder implements Wilder's RSI with O(1) replace: the forming bar's
// contribution to the running averages can be undone and re-applied without
// re-scanning history.
//
// count is the number of bars fed so far (the forming bar counts). Deltas
// are computed starting from the second bar, so the number of deltas
// applied is always count-1; isStable is count >= period+1, i.e. period
// deltas accumulated.
type wilder struct {
	period int

	seeded      bool
	count       int
	prevClose   float64 // close of the bar preceding the current (forming) one
	formingClose float64
	avgGain     float64
	avgLoss     float64
	lastGain    float64 // delta contributed by the most recent add/replace, for O(1) undo
	lastLoss    float64
	haveDelta   bool
}

func newWilder(period int) *wilder {
	return &wilder{period: period}
}

func (w *wilder) isStable() bool {
	return w.count >= w.period+1
}

func (w *wilder) value() (float64, bool) {
	if !w.isStable() {
		return 0, false
	}
	if w.avgLoss == 0 {
		return 100, true
	}
	rs := w.avgGain / w.avgLoss
	return 100 - (100 / (1 + rs)), true
}

// add feeds a brand-new bar: the previously forming bar rolls over to
// committed and a new forming bar begins at close.
func (w *wilder) add(close float64) {
	if !w.seeded {
		w.prevClose = close
		w.formingClose = close
		w.seeded = true
		w.count = 1
		w.haveDelta = false
		return
	}

	w.prevClose = w.formingClose
	gain, loss := gainLoss(w.prevClose, close)
	dBefore := w.count - 1
	w.avgGain, w.avgLoss = accumulate(w.avgGain, w.avgLoss, dBefore, gain, loss, w.period)
	w.count++
	w.lastGain, w.lastLoss = gain, loss
	w.haveDelta = true
	w.formingClose = close
}

// replace undoes the forming bar's last contribution and re-applies it with
// a new close — O(1), no history re-scan.
func (w *wilder) replace(close float64) {
	if !w.haveDelta {
		// replacing the very first bar: no delta involved yet.
		w.prevClose = close
		w.formingClose = close
		return
	}

	dAfter := w.count - 1
	w.avgGain, w.avgLoss = undo(w.avgGain, w.avgLoss, dAfter, w.lastGain, w.lastLoss, w.period)

	gain, loss := gainLoss(w.prevClose, close)
	dBefore := dAfter - 1
	w.avgGain, w.avgLoss = accumulate(w.avgGain, w.avgLoss, dBefore, gain, loss, w.period)

	w.lastGain, w.lastLoss = gain, loss
	w.formingClose = close
}

// accumulate folds one more (gain, loss) delta into the running averages.
// dBefore is the number of deltas already applied before this one.
func accumulate(avgGain, avgLoss float64, dBefore int, gain, loss float64, period int) (float64, float64) {
	d := dBefore + 1
	switch {
	case d < period:
		return avgGain + gain, avgLoss + loss
	case d == period:
		return (avgGain + gain) / float64(period), (avgLoss + loss) / float64(period)
	default:
		return (avgGain*float64(period-1) + gain) / float64(period), (avgLoss*float64(period-1) + loss) / float64(period)
	}
}

// undo is the exact inverse of accumulate: given averages that include
// dAfter deltas, recover the averages with dAfter-1 deltas.
func undo(avgGain, avgLoss float64, dAfter int, gain, loss float64, period int) (float64, float64) {
	switch {
	case dAfter < period:
		return avgGain - gain, avgLoss - loss
	case dAfter == period:
		return avgGain*float64(period) - gain, avgLoss*float64(period) - loss
	default:
		return (avgGain*float64(period) - gain) / float64(period-1), (avgLoss*float64(period) - loss) / float64(period-1)
	}
}

func gainLoss(prev, cur float64) (gain, loss float64) {
	delta := cur - prev
	if delta >= 0 {
		return delta, 0
	}
	return 0, -delta
}

// Tracker is the RSI tracker (§4.2).
type Tracker struct {
	cfg    Config
	feed   Feed
	clock  clock.Clock
	logger *slog.Logger

	mu              sync.Mutex
	w               *wilder
	haveBar         bool
	currentOpenTime time.Time
	lastClose       float64
	candleClosed    bool
	connState       types.ConnState

	snapshots *broadcast.Bus[types.RSISnapshot]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, feed Feed, clk clock.Clock, logger *slog.Logger) *Tracker {
	cfg.applyDefaults()
	return &Tracker{
		cfg:       cfg,
		feed:      feed,
		clock:     clk,
		logger:    logger.With("component", "rsi", "symbol", cfg.Symbol, "interval", cfg.Interval),
		w:         newWilder(cfg.Period),
		snapshots: broadcast.New[types.RSISnapshot](logger, "rsi.snapshot"),
	}
}

func (t *Tracker) Subscribe(buffer int) (<-chan types.RSISnapshot, func()) {
	return t.snapshots.Subscribe(buffer)
}

func (t *Tracker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(ctx)
	}()
}

func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}

func (t *Tracker) run(ctx context.Context) {
	backoff := 3 * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := t.bootstrap(ctx); err != nil {
			t.setConnState(types.ConnDisconnected)
			t.logger.Warn("bootstrap failed, retrying", "error", err)
			if !t.sleep(ctx, backoff) {
				return
			}
			continue
		}

		candles, closed, err := t.feed.Dial(ctx, t.cfg.Symbol, t.cfg.Interval)
		if err != nil {
			t.setConnState(types.ConnDisconnected)
			t.logger.Warn("dial failed, reseeding before retry", "error", err)
			if !t.sleep(ctx, backoff) {
				return
			}
			continue
		}
		t.setConnState(types.ConnConnected)

	loop:
		for {
			select {
			case <-ctx.Done():
				return
			case <-closed:
				break loop
			case c, ok := <-candles:
				if !ok {
					break loop
				}
				t.onCandle(c)
			}
		}
		t.setConnState(types.ConnDisconnected)
		t.logger.Warn("stream closed, reseeding from REST before reconnect")
	}
}

func (t *Tracker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-t.clock.After(d):
		return true
	}
}

func (t *Tracker) setConnState(s types.ConnState) {
	t.mu.Lock()
	t.connState = s
	t.mu.Unlock()
}

// bootstrap seeds from the last BootstrapLimit closed klines, feeding each
// via add(), then marks the last as forming.
func (t *Tracker) bootstrap(ctx context.Context) error {
	candles, err := t.feed.FetchKlines(ctx, t.cfg.Symbol, t.cfg.Interval, t.cfg.BootstrapLimit)
	if err != nil {
		return err
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime.Before(candles[j].OpenTime) })

	t.mu.Lock()
	t.w = newWilder(t.cfg.Period)
	t.haveBar = false
	for _, c := range candles {
		t.w.add(c.Close)
		t.lastClose = c.Close
		t.currentOpenTime = c.OpenTime
		t.haveBar = true
	}
	t.candleClosed = false // the seeded last bar is treated as forming
	t.mu.Unlock()

	t.publish()
	return nil
}

// onCandle implements §4.2's live-handling state machine.
func (t *Tracker) onCandle(c types.Candle) {
	t.mu.Lock()
	switch {
	case !t.haveBar:
		t.w.add(c.Close)
		t.currentOpenTime = c.OpenTime
		t.haveBar = true
	case c.OpenTime.Before(t.currentOpenTime):
		t.mu.Unlock()
		return // out of order, ignored
	case c.OpenTime.Equal(t.currentOpenTime):
		t.w.replace(c.Close)
	default:
		t.w.add(c.Close)
		t.currentOpenTime = c.OpenTime
	}
	t.lastClose = c.Close
	t.candleClosed = c.IsClosed
	t.mu.Unlock()

	t.publish()
}

func (t *Tracker) publish() {
	t.mu.Lock()
	rsi, stable := t.w.value()
	snap := types.RSISnapshot{
		RSI:             rsi,
		IsStable:        stable,
		LastClose:       t.lastClose,
		CandleOpenTime:  t.currentOpenTime,
		CandleClosed:    t.candleClosed,
		ConnectionState: t.connState,
		UpdatedAt:       t.clock.Now(),
	}
	t.mu.Unlock()
	t.snapshots.Publish(snap)
}

// IsStable reports whether the RSI value is currently defined (§3: true
// once at least period+1 closes have been fed).
func (t *Tracker) IsStable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w.isStable()
}

// Value returns the current RSI value, if stable.
func (t *Tracker) Value() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w.value()
}
