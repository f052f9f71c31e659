package depth

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"swing-core/internal/clock"
	"swing-core/pkg/types"
)

// fakeFeed lets tests drive Dial/FetchSnapshot deterministically.
type fakeFeed struct {
	mu       sync.Mutex
	events   chan types.DepthEvent
	closed   chan struct{}
	snapshot types.DepthSnapshot
	snapErr  error
	dialErr  error
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		events: make(chan types.DepthEvent, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeFeed) Dial(ctx context.Context, symbol string, speedMs int) (<-chan types.DepthEvent, <-chan struct{}, error) {
	if f.dialErr != nil {
		return nil, nil, f.dialErr
	}
	return f.events, f.closed, nil
}

func (f *fakeFeed) FetchSnapshot(ctx context.Context, symbol string) (types.DepthSnapshot, error) {
	if f.snapErr != nil {
		return types.DepthSnapshot{}, f.snapErr
	}
	return f.snapshot, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func lvl(price string, qty float64) types.PriceLevel {
	return types.PriceLevel{Price: price, Quantity: qty}
}

// TestBootstrapReconciliation covers scenario 5: buffer events, snapshot
// last_update_id=8, skip event with u=7, apply from (8,9) onward.
func TestBootstrapReconciliation(t *testing.T) {
	t.Parallel()
	feed := newFakeFeed()
	feed.snapshot = types.DepthSnapshot{
		LastUpdateID: 8,
		Bids:         []types.PriceLevel{lvl("100.00", 1)},
		Asks:         []types.PriceLevel{lvl("100.10", 1)},
	}

	fc := clock.NewFake(time.Unix(0, 0))
	tr := New(Config{Symbol: "ETHUSDT"}, feed, fc, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.Start(ctx)
	defer tr.Stop()

	feed.events <- types.DepthEvent{FirstUpdateID: 5, FinalUpdateID: 7}
	feed.events <- types.DepthEvent{FirstUpdateID: 8, FinalUpdateID: 9}
	feed.events <- types.DepthEvent{FirstUpdateID: 10, FinalUpdateID: 11}

	// The run goroutine registers the 2s buffering timer on its own
	// schedule, so keep advancing until the window has been released.
	deadline := time.Now().Add(2 * time.Second)
	for !tr.Ready() && time.Now().Before(deadline) {
		fc.Advance(2 * time.Second)
		time.Sleep(10 * time.Millisecond)
	}

	if !tr.Ready() {
		t.Fatal("expected tracker to become ready")
	}
	if got := tr.LocalLastUpdateID(); got != 11 {
		t.Errorf("LocalLastUpdateID() = %d, want 11", got)
	}
}

func TestInvariantNoZeroOrNegativeQuantity(t *testing.T) {
	t.Parallel()
	b := newBook()
	b.reset(
		[]types.PriceLevel{lvl("100.00", 2), lvl("99.00", 0)},
		[]types.PriceLevel{lvl("101.00", 3)},
	)
	for p, q := range b.bids {
		if q <= 0 {
			t.Errorf("bid at %s has non-positive quantity %v", p, q)
		}
	}
	if _, ok := b.bids["99.00"]; ok {
		t.Error("zero-quantity level should have been deleted, not stored")
	}
}

func TestInvariantBestBidLessThanBestAsk(t *testing.T) {
	t.Parallel()
	b := newBook()
	b.reset(
		[]types.PriceLevel{lvl("100.00", 1), lvl("99.50", 1)},
		[]types.PriceLevel{lvl("100.50", 1), lvl("101.00", 1)},
	)
	bid, ask, ok := b.bestBidAsk()
	if !ok {
		t.Fatal("expected both sides present")
	}
	if !(bid < ask) {
		t.Errorf("best_bid %v should be < best_ask %v", bid, ask)
	}
}

func TestImbalanceSymmetricUnderSwap(t *testing.T) {
	t.Parallel()
	feed := newFakeFeed()
	fc := clock.NewFake(time.Unix(0, 0))
	tr := New(Config{Symbol: "ETHUSDT", Ratio: 2}, feed, fc, testLogger())

	tr.mu.Lock()
	tr.book.reset(
		[]types.PriceLevel{lvl("100.00", 10)},
		[]types.PriceLevel{lvl("101.00", 3)},
	)
	tr.localLastID = 1
	tr.ready = true
	tr.mu.Unlock()
	tr.publishImbalance()

	ch, unsub := tr.Subscribe(1)
	defer unsub()
	tr.publishImbalance()
	summary := <-ch

	if !summary.SkipSellSide {
		t.Error("expected skip_sell_side when buy_sum dominates sell_sum beyond ratio")
	}

	// Swap sides: now ask dominates.
	tr2 := New(Config{Symbol: "ETHUSDT", Ratio: 2}, feed, fc, testLogger())
	tr2.mu.Lock()
	tr2.book.reset(
		[]types.PriceLevel{lvl("100.00", 3)},
		[]types.PriceLevel{lvl("101.00", 10)},
	)
	tr2.localLastID = 1
	tr2.ready = true
	tr2.mu.Unlock()
	ch2, unsub2 := tr2.Subscribe(1)
	defer unsub2()
	tr2.publishImbalance()
	summary2 := <-ch2

	if !summary2.SkipBuySide {
		t.Error("expected skip_buy_side when sell_sum dominates buy_sum beyond ratio (swapped case)")
	}
}

// TestGapDetectionMarksNotReady covers the onEvent half of scenario 6: a
// sequencing gap immediately flips ready off and re-buffers the offending
// event for the next bootstrap.
func TestGapDetectionMarksNotReady(t *testing.T) {
	t.Parallel()
	feed := newFakeFeed()
	fc := clock.NewFake(time.Unix(0, 0))
	tr := New(Config{Symbol: "ETHUSDT"}, feed, fc, testLogger())

	tr.mu.Lock()
	tr.ready = true
	tr.localLastID = 100
	tr.mu.Unlock()

	tr.onEvent(types.DepthEvent{FirstUpdateID: 110, FinalUpdateID: 120})

	tr.mu.Lock()
	ready := tr.ready
	bufLen := len(tr.buffer)
	tr.mu.Unlock()

	if ready {
		t.Error("expected book to be marked not ready after gap")
	}
	if bufLen != 1 {
		t.Errorf("expected the gap event to be re-buffered, got buffer len %d", bufLen)
	}

	select {
	case <-tr.resyncNeeded:
	default:
		t.Error("expected onEvent to signal resyncNeeded on a sequencing gap")
	}
}

// TestGapDetectionRestartsBootstrap covers scenario 6 end to end: a live
// sequencing gap must drive run() back through bootstrap() on the same
// connection and fetch a fresh snapshot, rather than leaving the tracker
// wedged not-ready while still consuming (and ignoring) the connection's
// events.
func TestGapDetectionRestartsBootstrap(t *testing.T) {
	t.Parallel()
	feed := newFakeFeed()
	feed.snapshot = types.DepthSnapshot{
		LastUpdateID: 10,
		Bids:         []types.PriceLevel{lvl("100.00", 1)},
		Asks:         []types.PriceLevel{lvl("100.10", 1)},
	}

	fc := clock.NewFake(time.Unix(0, 0))
	tr := New(Config{Symbol: "ETHUSDT"}, feed, fc, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.Start(ctx)
	defer tr.Stop()

	// Initial bootstrap reconciliation: snapshot last_update_id=10, buffered
	// event spans it.
	feed.events <- types.DepthEvent{FirstUpdateID: 9, FinalUpdateID: 11}

	// Keep advancing: the 2s buffering timer is registered by the run
	// goroutine on its own schedule.
	deadline := time.Now().Add(2 * time.Second)
	for !tr.Ready() && time.Now().Before(deadline) {
		fc.Advance(2 * time.Second)
		time.Sleep(10 * time.Millisecond)
	}
	if !tr.Ready() {
		t.Fatal("expected tracker to become ready after initial bootstrap")
	}
	if got := tr.LocalLastUpdateID(); got != 11 {
		t.Fatalf("LocalLastUpdateID() = %d, want 11 after initial bootstrap", got)
	}

	// A live sequencing gap: localLastID is 11, next event jumps to 20.
	feed.events <- types.DepthEvent{FirstUpdateID: 20, FinalUpdateID: 25}

	deadline = time.Now().Add(2 * time.Second)
	for tr.Ready() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if tr.Ready() {
		t.Fatal("expected tracker to drop to not-ready after the gap")
	}

	// Drive the resulting re-bootstrap on the same connection: a fresh
	// snapshot plus a buffered event spanning its last_update_id.
	feed.snapshot = types.DepthSnapshot{
		LastUpdateID: 24,
		Bids:         []types.PriceLevel{lvl("101.00", 1)},
		Asks:         []types.PriceLevel{lvl("101.10", 1)},
	}
	feed.events <- types.DepthEvent{FirstUpdateID: 24, FinalUpdateID: 30}

	deadline = time.Now().Add(2 * time.Second)
	for !tr.Ready() && time.Now().Before(deadline) {
		fc.Advance(2 * time.Second)
		time.Sleep(10 * time.Millisecond)
	}
	if !tr.Ready() {
		t.Fatal("expected tracker to re-bootstrap and become ready again after the gap")
	}
	if got := tr.LocalLastUpdateID(); got != 30 {
		t.Errorf("LocalLastUpdateID() = %d, want 30 after re-bootstrap", got)
	}
}

func TestDuplicateEventIsNoOp(t *testing.T) {
	t.Parallel()
	feed := newFakeFeed()
	fc := clock.NewFake(time.Unix(0, 0))
	tr := New(Config{Symbol: "ETHUSDT"}, feed, fc, testLogger())

	tr.mu.Lock()
	tr.ready = true
	tr.localLastID = 100
	tr.mu.Unlock()

	tr.onEvent(types.DepthEvent{FirstUpdateID: 90, FinalUpdateID: 95})

	if tr.LocalLastUpdateID() != 100 {
		t.Errorf("duplicate event should be a no-op, local id changed to %d", tr.LocalLastUpdateID())
	}
}
