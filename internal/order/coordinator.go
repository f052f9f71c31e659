// Package order implements the order coordinator (§4.4): de-duplicates
// in-flight submissions per logical slot, enforces slippage guards, and
// reconciles local pending state against the exchange's order-update feed.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"swing-core/internal/clock"
	"swing-core/pkg/types"
)

// Slot names the logical submission channel a lock protects.
type Slot string

const (
	SlotEntry Slot = "entry"
	SlotStop  Slot = "stop"
)

const defaultSlippagePct = 0.05

// ErrSlotLocked is returned when a slot already has an in-flight order.
var ErrSlotLocked = errors.New("order: slot is locked")

// ErrSlippageExceeded is returned when the reference price moved beyond the
// configured tolerance before submission.
type ErrSlippageExceeded struct {
	Slot    Slot
	Pct     float64
	MaxPct  float64
}

func (e *ErrSlippageExceeded) Error() string {
	return fmt.Sprintf("order: slippage %.4f%% exceeds max %.4f%% for slot %s", e.Pct*100, e.MaxPct*100, e.Slot)
}

// SlippageGuard bounds how far the reference price may have moved from the
// price the decision was made at.
type SlippageGuard struct {
	MarkPrice     float64
	ExpectedPrice float64
	MaxPct        float64
}

func (g SlippageGuard) check(slot Slot) error {
	maxPct := g.MaxPct
	if maxPct == 0 {
		maxPct = defaultSlippagePct
	}
	if g.ExpectedPrice == 0 {
		return nil
	}
	pct := math.Abs(g.MarkPrice-g.ExpectedPrice) / g.ExpectedPrice
	if pct > maxPct {
		return &ErrSlippageExceeded{Slot: slot, Pct: pct, MaxPct: maxPct}
	}
	return nil
}

// Adapter is the subset of the exchange adapter contract the coordinator
// drives.
type Adapter interface {
	CreateOrder(ctx context.Context, req types.OrderRequest) (types.Order, error)
}

// lock is the per-slot submission state (§3 "order locks").
type lock struct {
	locked        bool
	pendingID     string
	expiresAt     time.Time
	lastStopPrice float64
	lastStopAt    time.Time
}

// Coordinator is the order coordinator.
type Coordinator struct {
	adapter    Adapter
	clock      clock.Clock
	priceTick  float64
	qtyStep    float64
	lockExpiry time.Duration
	logger     *slog.Logger

	mu    sync.Mutex
	locks map[Slot]*lock
}

// Config configures quantization and lock expiry.
type Config struct {
	PriceTick  float64
	QtyStep    float64
	LockExpiry time.Duration
}

func New(cfg Config, adapter Adapter, clk clock.Clock, logger *slog.Logger) *Coordinator {
	lockExpiry := cfg.LockExpiry
	if lockExpiry == 0 {
		lockExpiry = 30 * time.Second
	}
	return &Coordinator{
		adapter:    adapter,
		clock:      clk,
		priceTick:  cfg.PriceTick,
		qtyStep:    cfg.QtyStep,
		lockExpiry: lockExpiry,
		logger:     logger.With("component", "order"),
		locks:      map[Slot]*lock{SlotEntry: {}, SlotStop: {}},
	}
}

// quantize snaps v to the nearest multiple of step. Done in decimal rather
// than float64 division/multiplication, since binary floats can't represent
// ticks like 0.001 exactly and the rounding error compounds into rejected
// orders at the exchange.
func quantize(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	dv := decimal.NewFromFloat(v)
	dstep := decimal.NewFromFloat(step)
	result, _ := dv.DivRound(dstep, 0).Mul(dstep).Float64()
	return result
}

func (c *Coordinator) acquire(slot Slot) (*lock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l := c.locks[slot]
	if l.locked && c.clock.Now().Before(l.expiresAt) {
		return nil, ErrSlotLocked
	}
	if l.locked {
		c.logger.Warn("lock expired without reconciliation, reclaiming", "slot", slot)
	}
	l.locked = true
	l.expiresAt = c.clock.Now().Add(c.lockExpiry)
	return l, nil
}

func (c *Coordinator) release(slot Slot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.locks[slot]
	l.locked = false
	l.pendingID = ""
}

// PlaceMarketOrder implements §4.4's placeMarketOrder.
func (c *Coordinator) PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, qty float64, slot Slot, guard SlippageGuard) (types.Order, error) {
	if _, err := c.acquire(slot); err != nil {
		return types.Order{}, err
	}

	if err := guard.check(slot); err != nil {
		c.release(slot)
		c.logger.Warn("slippage guard rejected order", "error", err, "slot", slot)
		return types.Order{}, err
	}

	qty = quantize(qty, c.qtyStep)
	req := types.OrderRequest{Symbol: symbol, Side: side, Type: types.OrderTypeMarket, Quantity: qty}

	ord, err := c.adapter.CreateOrder(ctx, req)
	if err != nil {
		c.release(slot)
		c.logger.Error("order submission failed", "error", err, "slot", slot)
		return types.Order{}, err
	}

	c.mu.Lock()
	c.locks[slot].pendingID = ord.OrderID
	c.mu.Unlock()

	return ord, nil
}

// MarketClose implements §4.4's marketClose: reduce-only, close-position,
// and swallows "unknown order" as success.
func (c *Coordinator) MarketClose(ctx context.Context, symbol string, side types.Side, qty float64, guard SlippageGuard) (types.Order, error) {
	slot := SlotEntry
	if _, err := c.acquire(slot); err != nil {
		return types.Order{}, err
	}

	if err := guard.check(slot); err != nil {
		c.release(slot)
		return types.Order{}, err
	}

	qty = quantize(qty, c.qtyStep)
	req := types.OrderRequest{
		Symbol: symbol, Side: side, Type: types.OrderTypeMarket,
		Quantity: qty, ReduceOnly: true, ClosePosition: true,
	}

	ord, err := c.adapter.CreateOrder(ctx, req)
	if err != nil {
		if isUnknownOrder(err) {
			c.logger.Warn("market close hit unknown-order, treating as already closed", "error", err)
			c.release(slot)
			return types.Order{Symbol: symbol, Side: side, Status: types.OrderStatusFilled}, nil
		}
		c.release(slot)
		c.logger.Error("market close failed", "error", err)
		return types.Order{}, err
	}

	c.mu.Lock()
	c.locks[slot].pendingID = ord.OrderID
	c.mu.Unlock()
	return ord, nil
}

// PlaceStopLossOrder implements §4.4's placeStopLossOrder, rejecting a
// submission whose quantized stop price equals the last one submitted less
// than debounce ago.
func (c *Coordinator) PlaceStopLossOrder(ctx context.Context, symbol string, side types.Side, stopPrice, qty, referencePrice float64, guard SlippageGuard, debounce time.Duration) (types.Order, error) {
	slot := SlotStop
	stopPrice = quantize(stopPrice, c.priceTick)

	c.mu.Lock()
	l := c.locks[slot]
	if l.lastStopPrice == stopPrice && !l.lastStopAt.IsZero() && c.clock.Now().Sub(l.lastStopAt) < debounce {
		c.mu.Unlock()
		return types.Order{}, ErrSlotLocked
	}
	c.mu.Unlock()

	if _, err := c.acquire(slot); err != nil {
		return types.Order{}, err
	}

	if err := guard.check(slot); err != nil {
		c.release(slot)
		return types.Order{}, err
	}

	qty = quantize(qty, c.qtyStep)
	req := types.OrderRequest{
		Symbol: symbol, Side: side, Type: types.OrderTypeStopMarket,
		StopPrice: stopPrice, Quantity: qty, ReduceOnly: true,
	}

	ord, err := c.adapter.CreateOrder(ctx, req)
	if err != nil {
		c.release(slot)
		c.logger.Error("stop-loss submission failed", "error", err)
		return types.Order{}, err
	}

	c.mu.Lock()
	c.locks[slot].pendingID = ord.OrderID
	c.locks[slot].lastStopPrice = stopPrice
	c.locks[slot].lastStopAt = c.clock.Now()
	c.mu.Unlock()

	return ord, nil
}

// ReconcileLocks releases a slot's lock once the recorded order is no
// longer live in the supplied open-orders snapshot (or not found at all).
func (c *Coordinator) ReconcileLocks(openOrders []types.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byID := make(map[string]types.Order, len(openOrders))
	for _, o := range openOrders {
		byID[o.OrderID] = o
	}

	for slot, l := range c.locks {
		if !l.locked || l.pendingID == "" {
			continue
		}
		o, found := byID[l.pendingID]
		if !found || !o.Status.IsLive() {
			l.locked = false
			l.pendingID = ""
			c.logger.Debug("lock released on reconciliation", "slot", slot)
		}
	}
}

// Locked reports whether a slot currently has an in-flight submission.
func (c *Coordinator) Locked(slot Slot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locks[slot].locked
}

type unknownOrderError struct{ err error }

func (e unknownOrderError) Error() string { return e.err.Error() }
func (e unknownOrderError) Unwrap() error { return e.err }

// WrapUnknownOrder marks err as the UnknownOrder taxon (§7) so MarketClose
// can swallow it. Adapters return this for "order not found"/"already
// canceled" style rejections.
func WrapUnknownOrder(err error) error {
	if err == nil {
		return nil
	}
	return unknownOrderError{err: err}
}

func isUnknownOrder(err error) bool {
	return IsUnknownOrder(err)
}

// IsUnknownOrder reports whether err was wrapped by WrapUnknownOrder.
// Adapters and callers outside this package use this to decide whether a
// failed cancel/close is safe to swallow.
func IsUnknownOrder(err error) bool {
	var u unknownOrderError
	return errors.As(err, &u)
}
