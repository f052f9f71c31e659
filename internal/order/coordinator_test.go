package order

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"swing-core/internal/clock"
	"swing-core/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeAdapter struct {
	nextID  int
	err     error
	created []types.OrderRequest
}

func (a *fakeAdapter) CreateOrder(ctx context.Context, req types.OrderRequest) (types.Order, error) {
	a.created = append(a.created, req)
	if a.err != nil {
		return types.Order{}, a.err
	}
	a.nextID++
	return types.Order{OrderID: "ord-" + string(rune('0'+a.nextID)), Symbol: req.Symbol, Side: req.Side, Status: types.OrderStatusNew}, nil
}

func TestPlaceMarketOrderLocksSlot(t *testing.T) {
	t.Parallel()
	fc := clock.NewFake(time.Unix(0, 0))
	a := &fakeAdapter{}
	c := New(Config{QtyStep: 0.001}, a, fc, testLogger())

	_, err := c.PlaceMarketOrder(context.Background(), "ETHUSDT", types.BUY, 1.0, SlotEntry, SlippageGuard{})
	if err != nil {
		t.Fatalf("PlaceMarketOrder: %v", err)
	}
	if !c.Locked(SlotEntry) {
		t.Error("expected entry slot to be locked after submission")
	}

	_, err = c.PlaceMarketOrder(context.Background(), "ETHUSDT", types.BUY, 1.0, SlotEntry, SlippageGuard{})
	if !errors.Is(err, ErrSlotLocked) {
		t.Errorf("expected ErrSlotLocked on second submission, got %v", err)
	}
}

func TestSlippageGuardRejects(t *testing.T) {
	t.Parallel()
	fc := clock.NewFake(time.Unix(0, 0))
	a := &fakeAdapter{}
	c := New(Config{}, a, fc, testLogger())

	guard := SlippageGuard{MarkPrice: 110, ExpectedPrice: 100, MaxPct: 0.05}
	_, err := c.PlaceMarketOrder(context.Background(), "ETHUSDT", types.BUY, 1.0, SlotEntry, guard)

	var slipErr *ErrSlippageExceeded
	if !errors.As(err, &slipErr) {
		t.Fatalf("expected ErrSlippageExceeded, got %v", err)
	}
	if c.Locked(SlotEntry) {
		t.Error("slot should be released after slippage rejection")
	}
	if len(a.created) != 0 {
		t.Error("adapter should not have been called when slippage guard rejects")
	}
}

func TestMarketCloseSwallowsUnknownOrder(t *testing.T) {
	t.Parallel()
	fc := clock.NewFake(time.Unix(0, 0))
	a := &fakeAdapter{err: WrapUnknownOrder(errors.New("order not found"))}
	c := New(Config{}, a, fc, testLogger())

	ord, err := c.MarketClose(context.Background(), "ETHUSDT", types.SELL, 1.0, SlippageGuard{})
	if err != nil {
		t.Fatalf("MarketClose should swallow unknown-order, got %v", err)
	}
	if ord.Status != types.OrderStatusFilled {
		t.Errorf("expected synthesized filled status, got %v", ord.Status)
	}
}

func TestReconcileLocksReleasesOnTerminalStatus(t *testing.T) {
	t.Parallel()
	fc := clock.NewFake(time.Unix(0, 0))
	a := &fakeAdapter{}
	c := New(Config{}, a, fc, testLogger())

	ord, err := c.PlaceMarketOrder(context.Background(), "ETHUSDT", types.BUY, 1.0, SlotEntry, SlippageGuard{})
	if err != nil {
		t.Fatalf("PlaceMarketOrder: %v", err)
	}

	c.ReconcileLocks([]types.Order{{OrderID: ord.OrderID, Status: types.OrderStatusFilled}})

	if c.Locked(SlotEntry) {
		t.Error("expected lock to be released once order is terminal")
	}
}

func TestReconcileLocksReleasesWhenOrderNotFound(t *testing.T) {
	t.Parallel()
	fc := clock.NewFake(time.Unix(0, 0))
	a := &fakeAdapter{}
	c := New(Config{}, a, fc, testLogger())

	_, err := c.PlaceMarketOrder(context.Background(), "ETHUSDT", types.BUY, 1.0, SlotEntry, SlippageGuard{})
	if err != nil {
		t.Fatalf("PlaceMarketOrder: %v", err)
	}

	c.ReconcileLocks(nil)

	if c.Locked(SlotEntry) {
		t.Error("expected lock to be released when order is absent from the feed")
	}
}

func TestPlaceStopLossDebouncesIdenticalSubmissions(t *testing.T) {
	t.Parallel()
	fc := clock.NewFake(time.Unix(0, 0))
	a := &fakeAdapter{}
	c := New(Config{PriceTick: 0.1}, a, fc, testLogger())

	_, err := c.PlaceStopLossOrder(context.Background(), "ETHUSDT", types.SELL, 95.0, 1.0, 100.0, SlippageGuard{}, 5*time.Second)
	if err != nil {
		t.Fatalf("first stop submission: %v", err)
	}
	c.ReconcileLocks(nil) // release so a second attempt isn't blocked purely by the lock

	_, err = c.PlaceStopLossOrder(context.Background(), "ETHUSDT", types.SELL, 95.0, 1.0, 100.0, SlippageGuard{}, 5*time.Second)
	if !errors.Is(err, ErrSlotLocked) {
		t.Errorf("expected debounce to reject identical resubmission, got %v", err)
	}

	if len(a.created) != 1 {
		t.Errorf("expected exactly one order submitted to the adapter, got %d", len(a.created))
	}
}
