package api

import "time"

// DashboardEvent wraps every message pushed over /ws.
type DashboardEvent struct {
	Type      string      `json:"type"` // NewProvider emits only "snapshot"
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// OrderEvent reports a coordinator order submission.
type OrderEvent struct {
	OrderID    string  `json:"order_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Type       string  `json:"order_type"`
	Status     string  `json:"status"`
	Price      float64 `json:"price"`
	Qty        float64 `json:"qty"`
	ReduceOnly bool    `json:"reduce_only"`
}

// KillEvent reports a kill-switch activation.
type KillEvent struct {
	Symbol string    `json:"symbol"`
	Reason string    `json:"reason"`
	Until  time.Time `json:"until"`
}

// NewOrderEvent builds an OrderEvent from a types.Order-shaped result.
func NewOrderEvent(orderID, symbol, side, orderType, status string, price, qty float64, reduceOnly bool) OrderEvent {
	return OrderEvent{
		OrderID:    orderID,
		Symbol:     symbol,
		Side:       side,
		Type:       orderType,
		Status:     status,
		Price:      price,
		Qty:        qty,
		ReduceOnly: reduceOnly,
	}
}

// NewKillEvent builds a KillEvent.
func NewKillEvent(symbol, reason string, until time.Time) KillEvent {
	return KillEvent{Symbol: symbol, Reason: reason, Until: until}
}
