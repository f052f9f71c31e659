// Package api is the dashboard observer server (§4.11): GET /health, GET
// /api/snapshot, and a GET /ws push feed. The snapshot is single-symbol,
// built directly from engine.Snapshot, since this engine runs one symbol
// with no market-discovery step.
package api

import (
	"time"

	"swing-core/internal/engine"
	"swing-core/pkg/types"
)

// EngineSnapshot is the dashboard's wire representation of engine.Snapshot.
type EngineSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Ready     bool            `json:"ready"`
	Disabled  bool            `json:"disabled"`
	Symbol    string          `json:"symbol"`
	Direction types.Direction `json:"direction"`
	LastPrice float64         `json:"last_price"`
	Phase     string          `json:"phase"`

	SignalSymbol string        `json:"signal_symbol"`
	SignalPrice  float64       `json:"signal_price"`
	RSI          float64       `json:"rsi"`
	RSIValid     bool          `json:"rsi_valid"`
	RSIZone      types.RSIZone `json:"rsi_zone"`

	ArmedShortEntry bool `json:"armed_short_entry"`
	ArmedShortExit  bool `json:"armed_short_exit"`
	ArmedLongEntry  bool `json:"armed_long_entry"`
	ArmedLongExit   bool `json:"armed_long_exit"`

	Position      types.PositionSnapshot `json:"position"`
	PnL           float64                `json:"pnl"`
	SessionVolume float64                `json:"session_volume"`

	StopLossTarget   float64 `json:"stop_loss_target"`
	KillSwitchActive bool    `json:"kill_switch_active"`

	OpenOrders []types.Order          `json:"open_orders"`
	Depth      types.ImbalanceSummary `json:"depth"`
	Ticker     types.Ticker           `json:"ticker"`

	TradeLogTail []TradeLogEntry `json:"trade_log_tail"`
	Error        string          `json:"error,omitempty"`
}

// TradeLogEntry is the dashboard's wire representation of audit.Entry.
type TradeLogEntry struct {
	Kind   string    `json:"kind"`
	Symbol string    `json:"symbol"`
	Side   string    `json:"side"`
	Qty    float64   `json:"qty"`
	Price  float64   `json:"price"`
	Reason string    `json:"reason,omitempty"`
	Time   time.Time `json:"time"`
}

// NewEngineSnapshot converts an engine.Snapshot into its wire form.
func NewEngineSnapshot(snap engine.Snapshot) EngineSnapshot {
	tail := make([]TradeLogEntry, 0, len(snap.TradeLogTail))
	for _, e := range snap.TradeLogTail {
		tail = append(tail, TradeLogEntry{
			Kind:   e.Kind,
			Symbol: e.Symbol,
			Side:   e.Side,
			Qty:    e.Qty,
			Price:  e.Price,
			Reason: e.Reason,
			Time:   e.Time,
		})
	}

	return EngineSnapshot{
		Timestamp:        snap.Time,
		Ready:            snap.Ready,
		Disabled:         snap.Disabled,
		Symbol:           snap.Symbol,
		Direction:        snap.Direction,
		LastPrice:        snap.LastPrice,
		Phase:            string(snap.Phase),
		SignalSymbol:     snap.SignalSymbol,
		SignalPrice:      snap.SignalPrice,
		RSI:              snap.RSI,
		RSIValid:         snap.RSIValid,
		RSIZone:          snap.RSIZone,
		ArmedShortEntry:  snap.ArmedShortEntry,
		ArmedShortExit:   snap.ArmedShortExit,
		ArmedLongEntry:   snap.ArmedLongEntry,
		ArmedLongExit:    snap.ArmedLongExit,
		Position:         snap.Position,
		PnL:              snap.PnL,
		SessionVolume:    snap.SessionVolume,
		StopLossTarget:   snap.StopLossTarget,
		KillSwitchActive: snap.KillSwitchActive,
		OpenOrders:       snap.OpenOrders,
		Depth:            snap.Depth,
		Ticker:           snap.Ticker,
		TradeLogTail:     tail,
		Error:            snap.Error,
	}
}
