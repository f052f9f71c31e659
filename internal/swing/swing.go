// Package swing implements the pure RSI-crossing decision state machine
// described as "swing logic": a value-transforming function with no side
// effects, kept deliberately free of I/O so it can be tested exhaustively
// and reused verbatim by the engine.
package swing

import "math"

// Action is one instruction the engine executes against the order
// coordinator. The machine never yields more than one action per step.
type Action string

const (
	ActionNone         Action = ""
	ActionOpenShort    Action = "OPEN_SHORT"
	ActionOpenLong     Action = "OPEN_LONG"
	ActionClosePosition Action = "CLOSE_POSITION"
)

// Direction mirrors types.Direction without importing the exchange-facing
// vocabulary package, keeping this package dependency-free.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionBoth  Direction = "both"
)

// Config is the swing strategy's direction/threshold policy.
type Config struct {
	Direction Direction
	RSIHigh   float64
	RSILow    float64
}

// Event is one tick's observed signal plus account state.
type Event struct {
	RSI         float64
	RSIValid    bool // false when RSI is null/non-finite per §4.5
	PositionAmt float64
	PnL         float64
}

// State is the swing state machine's pure state (§3).
type State struct {
	PrevRSI          float64
	HasPrevRSI       bool
	ArmedShortEntry  bool
	ArmedShortExit   bool
	ArmedLongEntry   bool
	ArmedLongExit    bool
}

const flatEpsilon = 1e-8

func crossUp(prev float64, hasPrev bool, next, threshold float64) bool {
	return hasPrev && prev <= threshold && next > threshold
}

func crossDown(prev float64, hasPrev bool, next, threshold float64) bool {
	return hasPrev && prev >= threshold && next < threshold
}

// Step advances the state machine by one tick. It is a pure function:
// given the same (state, config, event) it always returns the same
// (next state, action) pair.
func Step(state State, cfg Config, event Event) (State, Action) {
	next := state

	if !event.RSIValid || math.IsNaN(event.RSI) || math.IsInf(event.RSI, 0) {
		return state, ActionNone
	}

	hasPrev := state.HasPrevRSI
	prev := state.PrevRSI
	rsi := event.RSI

	shortsAllowed := cfg.Direction == DirectionShort || cfg.Direction == DirectionBoth
	longsAllowed := cfg.Direction == DirectionLong || cfg.Direction == DirectionBoth

	action := ActionNone

	switch {
	case math.Abs(event.PositionAmt) <= flatEpsilon:
		next.ArmedShortExit = false
		next.ArmedLongExit = false

		openShort := false
		if shortsAllowed {
			if crossUp(prev, hasPrev, rsi, cfg.RSIHigh) {
				next.ArmedShortEntry = true
			}
			if next.ArmedShortEntry && crossDown(prev, hasPrev, rsi, cfg.RSIHigh) {
				openShort = true
			}
		} else {
			next.ArmedShortEntry = false
		}

		openLong := false
		if longsAllowed {
			if crossDown(prev, hasPrev, rsi, cfg.RSILow) {
				next.ArmedLongEntry = true
			}
			if next.ArmedLongEntry && crossUp(prev, hasPrev, rsi, cfg.RSILow) {
				openLong = true
			}
		} else {
			next.ArmedLongEntry = false
		}

		switch {
		case openShort && openLong:
			// disjoint thresholds make this unreachable in practice; guard anyway.
			next.ArmedShortEntry = false
			next.ArmedLongEntry = false
		case openShort:
			action = ActionOpenShort
			next.ArmedShortEntry = false
			next.ArmedLongEntry = false
		case openLong:
			action = ActionOpenLong
			next.ArmedShortEntry = false
			next.ArmedLongEntry = false
		}

	case event.PositionAmt < -flatEpsilon:
		next.ArmedShortEntry = false
		next.ArmedLongEntry = false
		next.ArmedLongExit = false

		if crossDown(prev, hasPrev, rsi, cfg.RSILow) {
			next.ArmedShortExit = true
		}
		if next.ArmedShortExit && crossUp(prev, hasPrev, rsi, cfg.RSILow) && event.PnL > 0 {
			action = ActionClosePosition
			next.ArmedShortExit = false
		}

	default: // event.PositionAmt > flatEpsilon: long open
		next.ArmedShortEntry = false
		next.ArmedLongEntry = false
		next.ArmedShortExit = false

		if crossUp(prev, hasPrev, rsi, cfg.RSIHigh) {
			next.ArmedLongExit = true
		}
		if next.ArmedLongExit && crossDown(prev, hasPrev, rsi, cfg.RSIHigh) && event.PnL > 0 {
			action = ActionClosePosition
			next.ArmedLongExit = false
		}
	}

	next.PrevRSI = rsi
	next.HasPrevRSI = true

	return next, action
}
