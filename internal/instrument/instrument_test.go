package instrument

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

type fakeAdapter struct {
	precision types.Precision
	supported bool
	err       error
}

func (f *fakeAdapter) GetPrecision(ctx context.Context, symbol string) (types.Precision, bool, error) {
	return f.precision, f.supported, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRunPublishesImmediateSnapshot(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{precision: types.Precision{PriceTick: 0.1, QtyStep: 0.001}, supported: true}
	fc := clock.NewFake(time.Unix(0, 0))
	p := New(adapter, "ETHUSDT", time.Minute, fc, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	select {
	case snap := <-p.Results():
		if !snap.Supported || snap.TradingHalted {
			t.Errorf("unexpected snapshot: %+v", snap)
		}
		if snap.Precision.PriceTick != 0.1 {
			t.Errorf("PriceTick = %v, want 0.1", snap.Precision.PriceTick)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial poll")
	}
}

func TestPollFailureHaltsTrading(t *testing.T) {
	t.Parallel()
	adapter := &fakeAdapter{err: errors.New("boom")}
	fc := clock.NewFake(time.Unix(0, 0))
	p := New(adapter, "ETHUSDT", time.Minute, fc, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	select {
	case snap := <-p.Results():
		if !snap.TradingHalted {
			t.Error("expected TradingHalted=true on fetch error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for poll result")
	}
}

func TestPublishKeepsOnlyFreshestPending(t *testing.T) {
	t.Parallel()
	p := &Poller{resultCh: make(chan Snapshot, 1)}

	p.publish(Snapshot{Precision: types.Precision{PriceTick: 1}})
	p.publish(Snapshot{Precision: types.Precision{PriceTick: 2}})

	got := <-p.Results()
	if got.Precision.PriceTick != 2 {
		t.Errorf("PriceTick = %v, want 2 (freshest)", got.Precision.PriceTick)
	}
	select {
	case <-p.Results():
		t.Fatal("expected only one buffered snapshot")
	default:
	}
}
