package engine

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"swing-core/internal/clock"
	"swing-core/internal/depth"
	"swing-core/internal/killswitch"
	"swing-core/internal/order"
	"swing-core/internal/ratelimit"
	"swing-core/internal/rsi"
	"swing-core/internal/swing"
	"swing-core/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestDerivePhase(t *testing.T) {
	t.Parallel()
	flat := types.PositionSnapshot{}
	short := types.PositionSnapshot{PositionAmt: -1}
	long := types.PositionSnapshot{PositionAmt: 1}

	cases := []struct {
		name     string
		disabled bool
		ready    bool
		pos      types.PositionSnapshot
		state    swing.State
		want     Phase
	}{
		{"disabled wins", true, true, flat, swing.State{}, PhaseDisabled},
		{"not ready", false, false, flat, swing.State{}, PhaseInitializing},
		{"flat armed short entry", false, true, flat, swing.State{ArmedShortEntry: true}, PhaseWaitingOpenShort},
		{"flat armed long entry", false, true, flat, swing.State{ArmedLongEntry: true}, PhaseWaitingOpenLong},
		{"short armed exit", false, true, short, swing.State{ArmedShortExit: true}, PhaseWaitingCloseShort},
		{"long armed exit", false, true, long, swing.State{ArmedLongExit: true}, PhaseWaitingCloseLong},
		{"flat no arms", false, true, flat, swing.State{}, PhaseObserving},
		{"short no matching arm", false, true, short, swing.State{}, PhaseObserving},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			got := derivePhase(c.disabled, c.ready, c.pos, c.state)
			if got != c.want {
				t.Errorf("derivePhase() = %q, want %q", got, c.want)
			}
		})
	}
}

func TestRSIZone(t *testing.T) {
	t.Parallel()
	cases := []struct {
		rsi  float64
		ok   bool
		want types.RSIZone
	}{
		{0, false, types.RSIZoneUnknown},
		{75, true, types.RSIZoneOverbought},
		{70, true, types.RSIZoneOverbought},
		{25, true, types.RSIZoneOversold},
		{30, true, types.RSIZoneOversold},
		{50, true, types.RSIZoneNeutral},
	}
	for _, c := range cases {
		if got := rsiZone(c.rsi, c.ok, 70, 30); got != c.want {
			t.Errorf("rsiZone(%v, %v) = %q, want %q", c.rsi, c.ok, got, c.want)
		}
	}
}

func TestPositionPnL(t *testing.T) {
	t.Parallel()

	if pnl := positionPnL(types.PositionSnapshot{}, 100); pnl != 0 {
		t.Errorf("flat pnl = %v, want 0", pnl)
	}

	short := types.PositionSnapshot{PositionAmt: -2, EntryPrice: 100}
	if pnl := positionPnL(short, 90); pnl != 20 {
		t.Errorf("short pnl = %v, want 20", pnl)
	}

	long := types.PositionSnapshot{PositionAmt: 2, EntryPrice: 100}
	if pnl := positionPnL(long, 110); pnl != 20 {
		t.Errorf("long pnl = %v, want 20", pnl)
	}
}

// fakeOrderAdapter records CreateOrder calls for the order coordinator.
type fakeOrderAdapter struct {
	mu    sync.Mutex
	calls []types.OrderRequest
}

func (f *fakeOrderAdapter) CreateOrder(ctx context.Context, req types.OrderRequest) (types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return types.Order{OrderID: "1", Symbol: req.Symbol, Side: req.Side, Status: types.OrderStatusNew, OrigQty: req.Quantity}, nil
}

func (f *fakeOrderAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestEngine(t *testing.T, adapter *fakeOrderAdapter, fc *clock.Fake) *Engine {
	t.Helper()
	logger := testLogger()
	coordinator := order.New(order.Config{PriceTick: 0.1, QtyStep: 0.01}, adapter, fc, logger)
	rl := ratelimit.New(ratelimit.Config{}, fc)
	ks := killswitch.New(10*time.Second, fc)

	var depthTrk *depth.Tracker
	var rsiTrk *rsi.Tracker

	e := &Engine{
		cfg:         Config{Symbol: "ETHUSDT", Direction: types.DirectionShort, TradeAmount: 1, StopLossPct: 0.05, MaxCloseSlippagePct: 0.05, StopDebounceWindow: 5 * time.Second},
		depthTrk:    depthTrk,
		rsiTrk:      rsiTrk,
		coordinator: coordinator,
		rateLimiter: rl,
		killSwitch:  ks,
		clock:       fc,
		logger:      logger,
		priceTick:   0.1,
		qtyStep:     0.01,
	}
	return e
}

func TestHandleStopLossKillSwitchTriggersMarketClose(t *testing.T) {
	t.Parallel()
	adapter := &fakeOrderAdapter{}
	fc := clock.NewFake(time.Unix(0, 0))
	e := newTestEngine(t, adapter, fc)

	// Short entry at 100, stop_loss_pct=0.05 => stop_price = 105.
	// Reference 105.2 >= stop - tick(0.1) => kill switch fires.
	position := types.PositionSnapshot{Symbol: "ETHUSDT", PositionAmt: -1, EntryPrice: 100}
	e.handleStopLoss(context.Background(), position, 105.2)

	if adapter.callCount() != 1 {
		t.Fatalf("expected 1 CreateOrder call, got %d", adapter.callCount())
	}
	req := adapter.calls[0]
	if req.Type != types.OrderTypeMarket || !req.ReduceOnly {
		t.Errorf("expected reduce-only market close, got %+v", req)
	}
	if !e.killSwitch.Active() {
		t.Error("expected kill switch active after trigger")
	}

	// A second tick while cooldown is active must not resubmit.
	e.handleStopLoss(context.Background(), position, 105.2)
	if adapter.callCount() != 1 {
		t.Errorf("expected no additional CreateOrder call during cooldown, got %d total", adapter.callCount())
	}
}

func TestHandleStopLossPlacesStopOrderWhenNotCrossed(t *testing.T) {
	t.Parallel()
	adapter := &fakeOrderAdapter{}
	fc := clock.NewFake(time.Unix(0, 0))
	e := newTestEngine(t, adapter, fc)

	// Short entry at 100, stop_price = 105; reference 101 hasn't crossed.
	position := types.PositionSnapshot{Symbol: "ETHUSDT", PositionAmt: -1, EntryPrice: 100}
	e.handleStopLoss(context.Background(), position, 101)

	if adapter.callCount() != 1 {
		t.Fatalf("expected 1 CreateOrder call (stop placement), got %d", adapter.callCount())
	}
	req := adapter.calls[0]
	if req.Type != types.OrderTypeStopMarket {
		t.Errorf("expected STOP_MARKET order, got %q", req.Type)
	}
	if e.killSwitch.Active() {
		t.Error("expected kill switch inactive when price hasn't crossed stop")
	}
}

func TestHandleStopLossIgnoresFlatPosition(t *testing.T) {
	t.Parallel()
	adapter := &fakeOrderAdapter{}
	fc := clock.NewFake(time.Unix(0, 0))
	e := newTestEngine(t, adapter, fc)

	e.handleStopLoss(context.Background(), types.PositionSnapshot{Symbol: "ETHUSDT"}, 100)
	if adapter.callCount() != 0 {
		t.Errorf("expected no order submission for a flat position, got %d calls", adapter.callCount())
	}
}
