// Package depth maintains an incremental order book for a single symbol
// from a diff-update stream reconciled against periodic REST snapshots, and
// derives a near-touch imbalance summary plus a health signal.
package depth

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"swing-core/internal/broadcast"
	"swing-core/internal/clock"
	"swing-core/pkg/types"
)

const (
	// StaleAfter is the no-message threshold after which connection state
	// flips to stale.
	StaleAfter = 5 * time.Second
	// HeartbeatTimeout is the no-message threshold after which the tracker
	// forces a reconnect.
	HeartbeatTimeout = 5 * time.Minute
	// MaxConnDuration is the proactive-reconnect ceiling for one connection.
	MaxConnDuration = 23 * time.Hour
	// ReconnectInitial is the first reconnect backoff delay.
	ReconnectInitial = 3 * time.Second
	// ReconnectMax is the backoff ceiling.
	ReconnectMax = 60 * time.Second
	// BootstrapMaxRetries bounds snapshot/buffer reconciliation attempts.
	BootstrapMaxRetries = 5
	// BufferCap is the maximum number of diff events buffered pre-ready.
	BufferCap = 5000

	defaultWindowBps       = 9
	defaultRatio           = 2.0
	minRatio               = 1.01
	defaultRefreshSync     = 30 * time.Second
	defaultSpeedMs         = 100
)

// Feed is the wire-level collaborator the tracker drives: a WebSocket diff
// stream plus REST snapshot/fetch calls. Implemented by an exchange adapter
// package (e.g. binancefutures) against the signal-feed wire protocol.
type Feed interface {
	// Dial opens the diff stream and returns a channel of decoded events
	// plus a channel that closes when the connection drops.
	Dial(ctx context.Context, symbol string, speedMs int) (events <-chan types.DepthEvent, closed <-chan struct{}, err error)
	// FetchSnapshot fetches a REST depth snapshot (limit 5000).
	FetchSnapshot(ctx context.Context, symbol string) (types.DepthSnapshot, error)
}

// Config configures one Tracker instance.
type Config struct {
	Symbol        string
	SpeedMs       int
	WindowBps     float64
	Ratio         float64
	RefreshSync   time.Duration
}

func (c *Config) applyDefaults() {
	if c.SpeedMs == 0 {
		c.SpeedMs = defaultSpeedMs
	}
	if c.WindowBps == 0 {
		c.WindowBps = defaultWindowBps
	}
	if c.Ratio == 0 {
		c.Ratio = defaultRatio
	}
	if c.Ratio < minRatio {
		c.Ratio = minRatio
	}
	if c.RefreshSync == 0 {
		c.RefreshSync = defaultRefreshSync
	}
}

// book holds the mutable order-book state. Mutated only from the tracker's
// owning goroutine.
type book struct {
	bids map[string]float64
	asks map[string]float64
}

func newBook() *book {
	return &book{bids: make(map[string]float64), asks: make(map[string]float64)}
}

func (b *book) apply(levels []types.PriceLevel, side map[string]float64) {
	for _, lvl := range levels {
		if lvl.Quantity <= 0 {
			delete(side, lvl.Price)
			continue
		}
		side[lvl.Price] = lvl.Quantity
	}
}

func (b *book) reset(bids, asks []types.PriceLevel) {
	b.bids = make(map[string]float64, len(bids))
	b.asks = make(map[string]float64, len(asks))
	b.apply(bids, b.bids)
	b.apply(asks, b.asks)
}

func (b *book) applyEvent(ev types.DepthEvent) {
	b.apply(ev.Bids, b.bids)
	b.apply(ev.Asks, b.asks)
}

func (b *book) bestBidAsk() (bid, ask float64, ok bool) {
	bid, bidOK := bestPrice(b.bids, true)
	ask, askOK := bestPrice(b.asks, false)
	return bid, ask, bidOK && askOK
}

func bestPrice(side map[string]float64, wantMax bool) (float64, bool) {
	var best float64
	found := false
	for p := range side {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			continue
		}
		if !found || (wantMax && f > best) || (!wantMax && f < best) {
			best = f
			found = true
		}
	}
	return best, found
}

// Tracker is the depth tracker (§4.1). One instance per symbol.
type Tracker struct {
	cfg    Config
	feed   Feed
	clock  clock.Clock
	logger *slog.Logger

	mu             sync.Mutex
	book           *book
	localLastID    int64
	ready          bool
	connected      bool
	started        bool
	restHealthy    bool
	lastMsgAt      time.Time
	buffer         []types.DepthEvent

	imbalance *broadcast.Bus[types.ImbalanceSummary]

	// resyncNeeded is signaled by onEvent on a sequencing gap so run()'s
	// readLoop breaks out and re-bootstraps immediately, instead of running
	// on with a stale, not-ready book until the connection happens to drop.
	resyncNeeded chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Tracker. feed supplies the wire-level REST/WS calls.
func New(cfg Config, feed Feed, clk clock.Clock, logger *slog.Logger) *Tracker {
	cfg.applyDefaults()
	return &Tracker{
		cfg:          cfg,
		feed:         feed,
		clock:        clk,
		logger:       logger.With("component", "depth", "symbol", cfg.Symbol),
		book:         newBook(),
		imbalance:    broadcast.New[types.ImbalanceSummary](logger, "depth.imbalance"),
		resyncNeeded: make(chan struct{}, 1),
	}
}

// Subscribe returns a channel of imbalance summaries published after every
// successfully applied event while the book is ready.
func (t *Tracker) Subscribe(buffer int) (<-chan types.ImbalanceSummary, func()) {
	return t.imbalance.Subscribe(buffer)
}

// Start launches the bootstrap + run loop in a background goroutine.
func (t *Tracker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.started = true
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(ctx)
	}()
}

// Stop cancels the run loop and waits for it to exit.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
}

func (t *Tracker) run(ctx context.Context) {
	backoff := ReconnectInitial
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		connCtx, connCancel := context.WithCancel(ctx)
		events, closed, err := t.feed.Dial(connCtx, t.cfg.Symbol, t.cfg.SpeedMs)
		if err != nil {
			t.logger.Warn("dial failed, retrying", "error", err, "backoff", backoff)
			t.setConnected(false)
			connCancel()
			if !t.sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		t.setConnected(true)
		backoff = ReconnectInitial

		connDeadline := t.clock.After(MaxConnDuration)
		heartbeat := t.clock.NewTicker(StaleAfter)
		resync := t.clock.NewTicker(t.cfg.RefreshSync)

		redial := t.serveConnection(ctx, connCtx, events, closed, connDeadline, heartbeat, resync)

		heartbeat.Stop()
		resync.Stop()
		connCancel()
		t.setConnected(false)

		if !redial {
			return
		}

		if !t.sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

// serveConnection bootstraps and reads from one dialed connection. A
// sequencing gap re-bootstraps on the same connection (no redial needed);
// a connection-level problem (close, stale heartbeat, max duration, dial-
// level failure) returns true so run() tears the connection down and
// redials. Returns false only when ctx was cancelled.
func (t *Tracker) serveConnection(ctx, connCtx context.Context, events <-chan types.DepthEvent, closed <-chan struct{}, connDeadline <-chan time.Time, heartbeat, resync clock.Ticker) bool {
	for {
		if !t.bootstrap(connCtx, events) {
			return true
		}

	readLoop:
		for {
			select {
			case <-ctx.Done():
				return false
			case <-closed:
				return true
			case <-connDeadline:
				t.logger.Info("proactive reconnect after max connection duration")
				return true
			case <-heartbeat.C():
				if t.clock.Now().Sub(t.lastMsgSince()) >= HeartbeatTimeout {
					t.logger.Warn("heartbeat timeout, forcing reconnect")
					return true
				}
			case <-resync.C():
				t.periodicResync(connCtx)
			case <-t.resyncNeeded:
				t.logger.Info("re-bootstrapping after sequence gap")
				break readLoop
			case ev, ok := <-events:
				if !ok {
					return true
				}
				t.onEvent(ev)
			}
		}
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > ReconnectMax {
		next = ReconnectMax
	}
	return next
}

func (t *Tracker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-t.clock.After(d):
		return true
	}
}

func (t *Tracker) setConnected(v bool) {
	t.mu.Lock()
	t.connected = v
	t.mu.Unlock()
}

func (t *Tracker) lastMsgSince() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastMsgAt
}

func (t *Tracker) touch() {
	t.lastMsgAt = t.clock.Now()
}

// bootstrap implements §4.1 steps 2-7: buffer diffs, fetch a snapshot,
// reconcile, and flip ready.
func (t *Tracker) bootstrap(ctx context.Context, events <-chan types.DepthEvent) bool {
	t.mu.Lock()
	t.ready = false
	t.mu.Unlock()

	bufferDeadline := t.clock.After(2 * time.Second)
	buffering := true
	for buffering {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			t.bufferEvent(ev)
		case <-bufferDeadline:
			buffering = false
		case <-ctx.Done():
			return false
		}
	}

	for attempt := 0; attempt < BootstrapMaxRetries; attempt++ {
		snap, err := t.feed.FetchSnapshot(ctx, t.cfg.Symbol)
		if err != nil {
			t.markRESTFailure()
			t.logger.Warn("snapshot fetch failed", "error", err, "attempt", attempt)
			continue
		}
		t.markRESTSuccess()

		t.mu.Lock()
		buf := t.buffer
		t.mu.Unlock()

		if len(buf) == 0 || snap.LastUpdateID < buf[0].FirstUpdateID {
			// discard and retry: need a newer/older buffered range
			continue
		}

		idx := -1
		for i, ev := range buf {
			if ev.FinalUpdateID > snap.LastUpdateID {
				idx = i
				break
			}
		}
		if idx == -1 {
			continue
		}

		first := buf[idx]
		if !(first.FirstUpdateID <= snap.LastUpdateID+1 && snap.LastUpdateID+1 <= first.FinalUpdateID) {
			continue
		}

		t.mu.Lock()
		t.book.reset(snap.Bids, snap.Asks)
		t.localLastID = snap.LastUpdateID
		t.mu.Unlock()

		for _, ev := range buf[idx:] {
			t.applyEventLocked(ev)
		}

		// drain any events that arrived while we were fetching/reconciling
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					t.mu.Lock()
					t.ready = true
					t.buffer = nil
					t.mu.Unlock()
					return true
				}
				t.applyEventLocked(ev)
			default:
				t.mu.Lock()
				t.ready = true
				t.buffer = nil
				t.mu.Unlock()
				return true
			}
		}
	}

	t.logger.Error("bootstrap exhausted retries, will restart")
	return false
}

func (t *Tracker) bufferEvent(ev types.DepthEvent) {
	t.touch()
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.buffer) >= BufferCap {
		t.buffer = t.buffer[1:]
	}
	t.buffer = append(t.buffer, ev)
}

func (t *Tracker) onEvent(ev types.DepthEvent) {
	t.touch()
	t.mu.Lock()
	ready := t.ready
	localID := t.localLastID
	t.mu.Unlock()

	if !ready {
		t.bufferEvent(ev)
		return
	}

	if ev.FinalUpdateID < localID {
		return // duplicate/stale, silently dropped
	}
	if !(ev.FirstUpdateID <= localID+1) {
		t.logger.Warn("sequence gap detected, resyncing", "expected", localID+1, "got_first", ev.FirstUpdateID)
		t.mu.Lock()
		t.ready = false
		t.buffer = []types.DepthEvent{ev}
		t.mu.Unlock()
		select {
		case t.resyncNeeded <- struct{}{}:
		default:
		}
		return
	}

	t.applyEventLocked(ev)
	t.publishImbalance()
}

func (t *Tracker) applyEventLocked(ev types.DepthEvent) {
	t.mu.Lock()
	if ev.FinalUpdateID < t.localLastID {
		t.mu.Unlock()
		return
	}
	t.book.applyEvent(ev)
	t.localLastID = ev.FinalUpdateID
	t.mu.Unlock()
}

func (t *Tracker) periodicResync(ctx context.Context) {
	snap, err := t.feed.FetchSnapshot(ctx, t.cfg.Symbol)
	if err != nil {
		t.markRESTFailure()
		t.logger.Warn("periodic resync fetch failed", "error", err)
		return
	}
	t.markRESTSuccess()

	t.mu.Lock()
	defer t.mu.Unlock()
	if snap.LastUpdateID < t.localLastID {
		return // stale snapshot, keep current book
	}
	t.book.reset(snap.Bids, snap.Asks)
	t.localLastID = snap.LastUpdateID
}

func (t *Tracker) markRESTFailure() {
	t.mu.Lock()
	t.restHealthy = false
	t.mu.Unlock()
}

func (t *Tracker) markRESTSuccess() {
	t.mu.Lock()
	t.restHealthy = true
	t.mu.Unlock()
}

// publishImbalance computes and emits the near-touch imbalance summary.
func (t *Tracker) publishImbalance() {
	t.mu.Lock()
	bid, ask, ok := t.book.bestBidAsk()
	if !ok {
		t.mu.Unlock()
		return
	}
	buySum := sumSide(t.book.bids, bid*(1-t.cfg.WindowBps/10000), true)
	sellSum := sumSide(t.book.asks, ask*(1+t.cfg.WindowBps/10000), false)
	ratio := t.cfg.Ratio
	t.mu.Unlock()

	summary := types.ImbalanceSummary{
		BestBid: bid,
		BestAsk: ask,
		BuySum:  buySum,
		SellSum: sellSum,
	}
	summary.SkipSellSide = sellSum == 0 || buySum > sellSum*ratio
	summary.SkipBuySide = buySum == 0 || sellSum > buySum*ratio
	switch {
	case buySum > sellSum:
		summary.Imbalance = types.ImbalanceBuyDominant
	case sellSum > buySum:
		summary.Imbalance = types.ImbalanceSellDominant
	default:
		summary.Imbalance = types.ImbalanceBalanced
	}

	t.imbalance.Publish(summary)
}

func sumSide(side map[string]float64, bound float64, isBid bool) float64 {
	var sum float64
	for p, qty := range side {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			continue
		}
		if isBid && f >= bound {
			sum += qty
		} else if !isBid && f <= bound {
			sum += qty
		}
	}
	return sum
}

// Health returns the current health signal per §4.1.
func (t *Tracker) Health() types.DepthHealth {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := types.DepthHealth{
		Started:        t.started,
		Connected:      t.connected,
		OrderBookReady: t.ready,
		RESTHealthy:    t.restHealthy,
	}

	reason := ""
	switch {
	case !t.connected:
		reason = "websocket disconnected"
	case !t.ready:
		reason = "order book not ready"
	case t.clock.Now().Sub(t.lastMsgAt) >= StaleAfter:
		reason = "no messages received recently"
	case !t.restHealthy:
		reason = "rest snapshot fetch failing"
	}
	h.Reason = reason
	h.Healthy = reason == ""
	return h
}

// BestBidAsk returns the current best bid/ask, if the book is ready.
func (t *Tracker) BestBidAsk() (bid, ask float64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ready {
		return 0, 0, false
	}
	return t.book.bestBidAsk()
}

// MidPrice is the midpoint of the best bid/ask, if available.
func (t *Tracker) MidPrice() (float64, bool) {
	bid, ask, ok := t.BestBidAsk()
	if !ok {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// LocalLastUpdateID exposes the tracker's sequencing cursor (tests, §8).
func (t *Tracker) LocalLastUpdateID() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.localLastID
}

// Ready reports whether the book is currently reconciled and ready.
func (t *Tracker) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready
}

// sortedPrices returns the price keys of one book side in lexical string
// order.
func sortedPrices(side map[string]float64) []string {
	out := make([]string, 0, len(side))
	for p := range side {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
