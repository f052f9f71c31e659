// Package engine is the swing engine (§4.6): the single-symbol orchestrator
// that wires the depth tracker, RSI tracker, rate-limit controller, order
// coordinator, and swing state machine to one exchange adapter, drives a
// poll_interval_ms tick loop, and emits immutable snapshots to observers.
//
// Lifecycle: New() → Start(ctx) → [runs until ctx is cancelled] → Stop().
// There is no market-discovery step: the symbol is fixed at construction,
// and the engine runs a single tick loop rather than one goroutine per
// market.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"swing-core/internal/audit"
	"swing-core/internal/broadcast"
	"swing-core/internal/clock"
	"swing-core/internal/depth"
	"swing-core/internal/exchange"
	"swing-core/internal/instrument"
	"swing-core/internal/killswitch"
	"swing-core/internal/order"
	"swing-core/internal/ratelimit"
	"swing-core/internal/rsi"
	"swing-core/internal/store"
	"swing-core/internal/swing"
	"swing-core/pkg/types"
)

// Phase is the engine's derived high-level state (§4.6 Emission).
type Phase string

const (
	PhaseDisabled          Phase = "disabled"
	PhaseInitializing      Phase = "initializing"
	PhaseObserving         Phase = "observing"
	PhaseWaitingOpenShort  Phase = "waiting_open_short"
	PhaseWaitingOpenLong   Phase = "waiting_open_long"
	PhaseWaitingCloseShort Phase = "waiting_close_short"
	PhaseWaitingCloseLong  Phase = "waiting_close_long"
)

// Config tunes one Engine instance. Built by the caller (cmd/) from the
// loaded config.Config; kept adapter/transport-agnostic so this package
// never imports internal/config or viper.
type Config struct {
	Symbol              string
	SignalSymbol        string
	SignalInterval      string
	Direction           types.Direction
	TradeAmount         float64
	PollInterval        time.Duration
	RSIHigh             float64
	RSILow              float64
	StopLossPct         float64
	MaxCloseSlippagePct float64
	PriceTick           float64
	QtyStep             float64
	StopDebounceWindow  time.Duration
}

func (c *Config) applyDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.Direction == "" {
		c.Direction = types.DirectionShort
	}
	if c.RSIHigh == 0 {
		c.RSIHigh = 70
	}
	if c.RSILow == 0 {
		c.RSILow = 30
	}
	if c.StopLossPct == 0 {
		c.StopLossPct = 0.05
	}
	if c.MaxCloseSlippagePct == 0 {
		c.MaxCloseSlippagePct = 0.05
	}
	if c.StopDebounceWindow == 0 {
		c.StopDebounceWindow = 5 * time.Second
	}
}

// Snapshot is the immutable value emitted on every state change (§4.6
// Emission).
type Snapshot struct {
	Ready     bool
	Disabled  bool
	Symbol    string
	Direction types.Direction
	LastPrice float64
	Phase     Phase

	SignalSymbol string
	SignalPrice  float64
	RSI          float64
	RSIValid     bool
	RSIZone      types.RSIZone

	ArmedShortEntry bool
	ArmedShortExit  bool
	ArmedLongEntry  bool
	ArmedLongExit   bool

	Position      types.PositionSnapshot
	PnL           float64
	SessionVolume float64

	StopLossTarget   float64
	KillSwitchActive bool

	OpenOrders []types.Order
	Depth      types.ImbalanceSummary
	Ticker     types.Ticker

	TradeLogTail []audit.Entry
	Error        string
	Time         time.Time
}

// Engine is the swing engine for a single symbol.
type Engine struct {
	cfg         Config
	adapter     exchange.Adapter
	depthTrk    *depth.Tracker
	rsiTrk      *rsi.Tracker
	coordinator *order.Coordinator
	rateLimiter *ratelimit.Controller
	killSwitch  *killswitch.Cooldown
	instrument  *instrument.Poller
	auditLog    *audit.Logger
	stateStore  *store.Store
	clock       clock.Clock
	logger      *slog.Logger

	snapshots *broadcast.Bus[Snapshot]

	mu            sync.Mutex
	account       *types.Account
	ticker        types.Ticker
	haveTicker    bool
	openOrders    []types.Order
	ordersReady   bool
	depthSummary  types.ImbalanceSummary
	rsiSnapshot   types.RSISnapshot
	priceTick     float64
	qtyStep       float64
	tradingHalted bool
	sessionVolume float64
	swingState    swing.State
	disabled      bool
	disabledReason string
	lastError      string
	lastSnapshot   Snapshot
	haveSnapshot   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires an Engine from its already-constructed collaborators. cfg's
// PriceTick/QtyStep seed the coordinator's quantization until the
// instrument poller reports venue-authoritative values.
func New(
	cfg Config,
	adapter exchange.Adapter,
	depthTrk *depth.Tracker,
	rsiTrk *rsi.Tracker,
	coordinator *order.Coordinator,
	rateLimiter *ratelimit.Controller,
	killSwitch *killswitch.Cooldown,
	instrumentPoller *instrument.Poller,
	auditLog *audit.Logger,
	stateStore *store.Store,
	clk clock.Clock,
	logger *slog.Logger,
) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:         cfg,
		adapter:     adapter,
		depthTrk:    depthTrk,
		rsiTrk:      rsiTrk,
		coordinator: coordinator,
		rateLimiter: rateLimiter,
		killSwitch:  killSwitch,
		instrument:  instrumentPoller,
		auditLog:    auditLog,
		stateStore:  stateStore,
		clock:       clk,
		logger:      logger.With("component", "engine"),
		snapshots:   broadcast.New[Snapshot](logger, "engine_snapshots"),
		priceTick:   cfg.PriceTick,
		qtyStep:     cfg.QtyStep,
	}
}

// Subscribe registers an observer for snapshot emissions.
func (e *Engine) Subscribe(buffer int) (<-chan Snapshot, func()) {
	return e.snapshots.Subscribe(buffer)
}

// Start launches all subscriptions, the instrument poller, and the tick
// loop. Returns once everything is running; Stop blocks until shutdown
// completes.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	if e.stateStore != nil {
		if restored, ok, err := e.stateStore.LoadState(e.cfg.Symbol); err != nil {
			e.logger.Warn("failed to restore swing state, starting flat", "error", err)
		} else if ok {
			e.mu.Lock()
			e.swingState = restored
			e.mu.Unlock()
			e.logger.Info("restored swing state from previous run", "state", restored)
		}
	}

	e.depthTrk.Start(e.ctx)
	e.rsiTrk.Start(e.ctx)

	depthEvents, _ := e.depthTrk.Subscribe(16)
	rsiEvents, _ := e.rsiTrk.Subscribe(16)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-e.ctx.Done():
				return
			case summary, ok := <-depthEvents:
				if !ok {
					return
				}
				e.mu.Lock()
				e.depthSummary = summary
				e.mu.Unlock()
			}
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-e.ctx.Done():
				return
			case snap, ok := <-rsiEvents:
				if !ok {
					return
				}
				e.mu.Lock()
				e.rsiSnapshot = snap
				e.mu.Unlock()
			}
		}
	}()

	if err := e.adapter.WatchAccount(e.ctx, e.onAccount); err != nil {
		return fmt.Errorf("engine: watch account: %w", err)
	}
	if err := e.adapter.WatchOrders(e.ctx, e.onOrders); err != nil {
		return fmt.Errorf("engine: watch orders: %w", err)
	}
	if err := e.adapter.WatchTicker(e.ctx, e.cfg.Symbol, e.onTicker); err != nil {
		return fmt.Errorf("engine: watch ticker: %w", err)
	}

	if e.instrument != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.instrument.Run(e.ctx)
		}()

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for {
				select {
				case <-e.ctx.Done():
					return
				case snap, ok := <-e.instrument.Results():
					if !ok {
						return
					}
					e.onInstrument(snap)
				}
			}
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runTickLoop(e.ctx)
	}()

	return nil
}

// Stop cancels all subscriptions and the tick loop, issues a market-close
// safety net if still holding a position, waits for goroutines, and closes
// the audit log.
func (e *Engine) Stop() {
	e.logger.Info("stopping engine")
	e.cancel()
	e.wg.Wait()

	e.mu.Lock()
	position, haveAccount := e.currentPositionLocked()
	e.mu.Unlock()

	if haveAccount && !position.Flat() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		side := types.BUY
		if position.PositionAmt > 0 {
			side = types.SELL
		}
		qty := math.Abs(position.PositionAmt)
		if _, err := e.coordinator.MarketClose(closeCtx, e.cfg.Symbol, side, qty, order.SlippageGuard{}); err != nil {
			e.logger.Error("shutdown safety-net close failed", "error", err)
		}
	}

	if e.auditLog != nil {
		if err := e.auditLog.Close(); err != nil {
			e.logger.Error("failed to close audit log", "error", err)
		}
	}
	e.logger.Info("engine stopped")
}

func (e *Engine) onAccount(acc types.Account) {
	e.mu.Lock()
	accCopy := acc
	e.account = &accCopy
	spotGuard := acc.MarketType == types.MarketTypeSpot &&
		(e.cfg.Direction == types.DirectionShort || e.cfg.Direction == types.DirectionBoth)
	if spotGuard && !e.disabled {
		e.disabled = true
		e.disabledReason = "spot market_type cannot carry a short/both direction configuration"
		e.logger.Error("engine permanently disabled", "reason", e.disabledReason)
	}
	e.mu.Unlock()
	e.emitSnapshot()
}

func (e *Engine) onOrders(orders []types.Order) {
	e.mu.Lock()
	e.openOrders = orders
	e.ordersReady = true
	e.mu.Unlock()
	e.coordinator.ReconcileLocks(orders)
	e.emitSnapshot()
}

func (e *Engine) onTicker(t types.Ticker) {
	e.mu.Lock()
	e.ticker = t
	e.haveTicker = true
	e.mu.Unlock()
}

func (e *Engine) onInstrument(snap instrument.Snapshot) {
	e.mu.Lock()
	if snap.Supported {
		if snap.Precision.PriceTick > 0 {
			e.priceTick = snap.Precision.PriceTick
		}
		if snap.Precision.QtyStep > 0 {
			e.qtyStep = snap.Precision.QtyStep
		}
	}
	e.tradingHalted = snap.TradingHalted
	e.mu.Unlock()
}

// currentPositionLocked reads the symbol's position out of the cached
// account snapshot. Caller must hold e.mu.
func (e *Engine) currentPositionLocked() (types.PositionSnapshot, bool) {
	if e.account == nil {
		return types.PositionSnapshot{Symbol: e.cfg.Symbol}, false
	}
	if pos, ok := e.account.Positions[e.cfg.Symbol]; ok {
		return pos, true
	}
	return types.PositionSnapshot{Symbol: e.cfg.Symbol}, true
}

func (e *Engine) readyLocked() bool {
	if e.account == nil || !e.haveTicker || !e.ordersReady {
		return false
	}
	if !e.depthTrk.Ready() {
		return false
	}
	if !e.rsiTrk.IsStable() {
		return false
	}
	_, ok := e.rsiTrk.Value()
	return ok
}

// referencePriceLocked is mid(depth) or ticker last, per §4.6.1.
func (e *Engine) referencePriceLocked() (float64, bool) {
	if mid, ok := e.depthTrk.MidPrice(); ok {
		return mid, true
	}
	if e.haveTicker {
		return e.ticker.Last, true
	}
	return 0, false
}

func (e *Engine) runTickLoop(ctx context.Context) {
	ticker := e.clock.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	decision := e.rateLimiter.BeforeCycle()
	if decision == ratelimit.DecisionPaused || decision == ratelimit.DecisionSkip {
		e.emitSnapshot()
		return
	}

	hadRateLimit := false
	defer func() { e.rateLimiter.OnCycleComplete(hadRateLimit) }()

	e.mu.Lock()
	disabled := e.disabled
	ready := !disabled && e.readyLocked()
	e.mu.Unlock()

	if disabled || !ready {
		e.emitSnapshot()
		return
	}

	e.mu.Lock()
	position, _ := e.currentPositionLocked()
	reference, haveReference := e.referencePriceLocked()
	tradingHalted := e.tradingHalted
	rsiVal, rsiOK := e.rsiTrk.Value()
	e.mu.Unlock()

	if !haveReference {
		e.emitSnapshot()
		return
	}

	pnl := positionPnL(position, reference)

	event := swing.Event{RSI: rsiVal, RSIValid: rsiOK, PositionAmt: position.PositionAmt, PnL: pnl}
	cfg := swing.Config{Direction: swing.Direction(e.cfg.Direction), RSIHigh: e.cfg.RSIHigh, RSILow: e.cfg.RSILow}

	e.mu.Lock()
	state := e.swingState
	e.mu.Unlock()

	nextState, action := swing.Step(state, cfg, event)
	e.mu.Lock()
	e.swingState = nextState
	e.mu.Unlock()

	if e.stateStore != nil && nextState != state {
		if err := e.stateStore.SaveState(e.cfg.Symbol, nextState); err != nil {
			e.logger.Warn("failed to persist swing state", "error", err)
		}
	}

	switch {
	case tradingHalted && (action == swing.ActionOpenShort || action == swing.ActionOpenLong):
		e.logger.Warn("swing entry suppressed: trading halted by instrument poller", "action", action)
	case action != swing.ActionNone:
		e.dispatchAction(ctx, action, reference)
	}

	e.handleStopLoss(ctx, position, reference)
	e.emitSnapshot()
}

func positionPnL(pos types.PositionSnapshot, reference float64) float64 {
	if pos.Flat() {
		return 0
	}
	if pos.PositionAmt < 0 {
		return (pos.EntryPrice - reference) * math.Abs(pos.PositionAmt)
	}
	return (reference - pos.EntryPrice) * pos.PositionAmt
}

func (e *Engine) dispatchAction(ctx context.Context, action swing.Action, reference float64) {
	guard := order.SlippageGuard{MarkPrice: reference, ExpectedPrice: reference, MaxPct: e.cfg.MaxCloseSlippagePct}

	switch action {
	case swing.ActionOpenShort:
		e.submitEntry(ctx, types.SELL, guard)
	case swing.ActionOpenLong:
		e.submitEntry(ctx, types.BUY, guard)
	case swing.ActionClosePosition:
		e.mu.Lock()
		position, _ := e.currentPositionLocked()
		e.mu.Unlock()
		side := types.SELL
		if position.PositionAmt < 0 {
			side = types.BUY
		}
		qty := math.Abs(position.PositionAmt)
		ord, err := e.coordinator.MarketClose(ctx, e.cfg.Symbol, side, qty, guard)
		if err != nil {
			e.recordError(err)
			return
		}
		e.recordTrade("CLOSE_POSITION", ord, reference)
	}
}

func (e *Engine) submitEntry(ctx context.Context, side types.Side, guard order.SlippageGuard) {
	ord, err := e.coordinator.PlaceMarketOrder(ctx, e.cfg.Symbol, side, e.cfg.TradeAmount, order.SlotEntry, guard)
	if err != nil {
		e.recordError(err)
		return
	}
	kind := "OPEN_LONG"
	if side == types.SELL {
		kind = "OPEN_SHORT"
	}
	e.recordTrade(kind, ord, guard.ExpectedPrice)
	e.mu.Lock()
	e.sessionVolume += e.cfg.TradeAmount
	e.mu.Unlock()
}

func (e *Engine) recordTrade(kind string, ord types.Order, price float64) {
	if e.auditLog == nil {
		return
	}
	e.auditLog.Record(audit.Entry{
		Kind: kind, Symbol: ord.Symbol, Side: string(ord.Side),
		Qty: ord.OrigQty, Price: price, Time: e.clock.Now(),
	})
}

func (e *Engine) recordError(err error) {
	e.logger.Error("order dispatch failed", "error", err)
	e.mu.Lock()
	e.lastError = err.Error()
	e.mu.Unlock()
}

// handleStopLoss implements §4.6.1: compute stop_price, kill-switch on
// cross, otherwise ensure one debounced stop order exists.
func (e *Engine) handleStopLoss(ctx context.Context, position types.PositionSnapshot, reference float64) {
	if position.Flat() || position.EntryPrice == 0 || math.IsNaN(position.EntryPrice) || math.IsInf(position.EntryPrice, 0) {
		return
	}

	isLong := position.PositionAmt > 0
	stopLossPct := math.Max(0, e.cfg.StopLossPct)
	var stopPrice float64
	if isLong {
		stopPrice = position.EntryPrice * (1 - stopLossPct)
	} else {
		stopPrice = position.EntryPrice * (1 + stopLossPct)
	}

	e.mu.Lock()
	tick := e.priceTick
	e.mu.Unlock()

	var crossed bool
	if isLong {
		crossed = reference <= stopPrice+tick
	} else {
		crossed = reference >= stopPrice-tick
	}

	guard := order.SlippageGuard{MarkPrice: reference, ExpectedPrice: reference, MaxPct: e.cfg.MaxCloseSlippagePct}
	side := types.SELL
	if !isLong {
		side = types.BUY
	}
	qty := math.Abs(position.PositionAmt)

	if crossed {
		if e.killSwitch.Active() {
			return
		}
		e.killSwitch.Trigger(fmt.Sprintf("reference %.8f crossed stop %.8f", reference, stopPrice))
		ord, err := e.coordinator.MarketClose(ctx, e.cfg.Symbol, side, qty, guard)
		if err != nil {
			e.recordError(err)
			return
		}
		e.recordTrade("KILL_SWITCH_CLOSE", ord, reference)
		return
	}

	if _, err := e.coordinator.PlaceStopLossOrder(ctx, e.cfg.Symbol, side, stopPrice, qty, reference, guard, e.cfg.StopDebounceWindow); err != nil {
		if !errors.Is(err, order.ErrSlotLocked) {
			e.recordError(err)
		}
	}
}

func derivePhase(disabled, ready bool, position types.PositionSnapshot, state swing.State) Phase {
	switch {
	case disabled:
		return PhaseDisabled
	case !ready:
		return PhaseInitializing
	case position.Flat() && state.ArmedShortEntry:
		return PhaseWaitingOpenShort
	case position.Flat() && state.ArmedLongEntry:
		return PhaseWaitingOpenLong
	case !position.Flat() && position.PositionAmt < 0 && state.ArmedShortExit:
		return PhaseWaitingCloseShort
	case !position.Flat() && position.PositionAmt > 0 && state.ArmedLongExit:
		return PhaseWaitingCloseLong
	default:
		return PhaseObserving
	}
}

func rsiZone(rsiVal float64, ok bool, high, low float64) types.RSIZone {
	if !ok {
		return types.RSIZoneUnknown
	}
	switch {
	case rsiVal >= high:
		return types.RSIZoneOverbought
	case rsiVal <= low:
		return types.RSIZoneOversold
	default:
		return types.RSIZoneNeutral
	}
}

func (e *Engine) emitSnapshot() {
	e.mu.Lock()
	defer e.mu.Unlock()

	position, _ := e.currentPositionLocked()
	ready := !e.disabled && e.readyLocked()
	reference, _ := e.referencePriceLocked()
	rsiVal, rsiOK := e.rsiTrk.Value()

	var stopTarget float64
	if !position.Flat() && position.EntryPrice != 0 {
		if position.PositionAmt > 0 {
			stopTarget = position.EntryPrice * (1 - math.Max(0, e.cfg.StopLossPct))
		} else {
			stopTarget = position.EntryPrice * (1 + math.Max(0, e.cfg.StopLossPct))
		}
	}

	snap := Snapshot{
		Ready:            ready,
		Disabled:         e.disabled,
		Symbol:           e.cfg.Symbol,
		Direction:        e.cfg.Direction,
		LastPrice:        reference,
		Phase:            derivePhase(e.disabled, ready, position, e.swingState),
		SignalSymbol:     e.cfg.SignalSymbol,
		SignalPrice:      e.rsiSnapshot.LastClose,
		RSI:              rsiVal,
		RSIValid:         rsiOK,
		RSIZone:          rsiZone(rsiVal, rsiOK, e.cfg.RSIHigh, e.cfg.RSILow),
		ArmedShortEntry:  e.swingState.ArmedShortEntry,
		ArmedShortExit:   e.swingState.ArmedShortExit,
		ArmedLongEntry:   e.swingState.ArmedLongEntry,
		ArmedLongExit:    e.swingState.ArmedLongExit,
		Position:         position,
		PnL:              positionPnL(position, reference),
		SessionVolume:    e.sessionVolume,
		StopLossTarget:   stopTarget,
		KillSwitchActive: e.killSwitch.Active(),
		OpenOrders:       e.openOrders,
		Depth:            e.depthSummary,
		Ticker:           e.ticker,
		Error:            e.lastError,
		Time:             e.clock.Now(),
	}
	if e.auditLog != nil {
		snap.TradeLogTail = e.auditLog.Tail()
	}
	if e.disabled {
		snap.Error = e.disabledReason
	}

	e.lastSnapshot = snap
	e.haveSnapshot = true
	e.snapshots.Publish(snap)
}

// LatestSnapshot returns the most recently emitted snapshot, if any. Used
// by the dashboard API to serve GET /api/snapshot without blocking on the
// broadcast bus.
func (e *Engine) LatestSnapshot() (Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSnapshot, e.haveSnapshot
}
