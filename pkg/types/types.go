// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine — order types,
// depth/candle wire shapes, account snapshots, and the order-coordinator's
// request/lock vocabulary. It has no dependencies on internal packages, so
// it can be imported by any layer.
package types

import (
	"math/big"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// OrderType enumerates the supported order lifecycles. Exotic order types
// beyond market and stop-market are out of scope.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
)

// OrderStatus mirrors the venue order-status vocabulary.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsLive reports whether an order is still live on the book.
func (s OrderStatus) IsLive() bool {
	return s == OrderStatusNew || s == OrderStatusPartiallyFilled
}

// IsTerminal reports whether an order will never change state again.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// Direction is the swing strategy's configured trading direction.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionBoth  Direction = "both"
)

// SignatureType identifies the signing scheme for a wallet-signed venue.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet)
	SigProxy      SignatureType = 1 // smart-contract proxy / relayed wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level. Price is kept in its canonical
// wire string form (tick-exact) as the key; Quantity 0 means delete.
type PriceLevel struct {
	Price    string  `json:"price"`
	Quantity float64 `json:"quantity"`
}

// DepthEvent is a single diff update off the depth stream.
type DepthEvent struct {
	FirstUpdateID int64
	FinalUpdateID int64
	Bids          []PriceLevel
	Asks          []PriceLevel
}

// DepthSnapshot is a REST order-book snapshot used to (re)initialize a book.
type DepthSnapshot struct {
	LastUpdateID int64
	Bids         []PriceLevel
	Asks         []PriceLevel
}

// Imbalance describes which side of the book currently dominates near touch.
type Imbalance string

const (
	ImbalanceBuyDominant  Imbalance = "buy_dominant"
	ImbalanceSellDominant Imbalance = "sell_dominant"
	ImbalanceBalanced     Imbalance = "balanced"
)

// ImbalanceSummary is derived from best bid/ask and a configured window.
type ImbalanceSummary struct {
	BestBid      float64
	BestAsk      float64
	BuySum       float64
	SellSum      float64
	SkipSellSide bool
	SkipBuySide  bool
	Imbalance    Imbalance
}

// ConnState is a coarse connection-health label shared by depth and RSI
// trackers.
type ConnState string

const (
	ConnDisconnected ConnState = "disconnected"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnStale        ConnState = "stale"
)

// DepthHealth is the depth tracker's published health signal.
type DepthHealth struct {
	Started        bool   `json:"started"`
	Connected      bool   `json:"connected"`
	OrderBookReady bool   `json:"order_book_ready"`
	RESTHealthy    bool   `json:"rest_healthy"`
	Healthy        bool   `json:"healthy"`
	Reason         string `json:"reason"`
}

// ————————————————————————————————————————————————————————————————————————
// RSI / candles
// ————————————————————————————————————————————————————————————————————————

// Candle is one OHLC bar as consumed by the RSI tracker (close only).
type Candle struct {
	OpenTime time.Time
	Close    float64
	IsClosed bool
}

// RSIZone buckets the current RSI value against configured thresholds.
type RSIZone string

const (
	RSIZoneOverbought RSIZone = "overbought"
	RSIZoneOversold   RSIZone = "oversold"
	RSIZoneNeutral    RSIZone = "neutral"
	RSIZoneUnknown    RSIZone = "unknown"
)

// RSISnapshot is published by the RSI tracker on every state change.
type RSISnapshot struct {
	RSI             float64   `json:"rsi"`
	IsStable        bool      `json:"is_stable"`
	LastClose       float64   `json:"last_close"`
	CandleOpenTime  time.Time `json:"candle_open_time"`
	CandleClosed    bool      `json:"candle_closed"`
	ConnectionState ConnState `json:"connection_state"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ————————————————————————————————————————————————————————————————————————
// Account / positions / orders
// ————————————————————————————————————————————————————————————————————————

// PositionSnapshot reflects one symbol's account position as reported by
// the adapter.
type PositionSnapshot struct {
	Symbol           string  `json:"symbol"`
	PositionAmt      float64 `json:"position_amt"`
	EntryPrice       float64 `json:"entry_price"`
	MarkPrice        float64 `json:"mark_price"`
	UnrealizedProfit float64 `json:"unrealized_profit"`
}

// Flat reports whether the position is effectively closed.
func (p PositionSnapshot) Flat() bool {
	return fabs(p.PositionAmt) <= 1e-5
}

func fabs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// MarketType distinguishes account venues the engine refuses to short.
type MarketType string

const (
	MarketTypeSpot    MarketType = "spot"
	MarketTypeFutures MarketType = "futures"
	MarketTypePerp    MarketType = "perp"
)

// Account is the adapter's polled/streamed account snapshot.
type Account struct {
	MarketType MarketType
	Positions  map[string]PositionSnapshot
}

// Ticker is a last-trade price update off the adapter's ticker stream.
type Ticker struct {
	Symbol string
	Last   float64
	Time   time.Time
}

// Precision is the adapter's optional get_precision() response.
type Precision struct {
	PriceTick float64
	QtyStep   float64
}

// Order mirrors the venue's order representation.
type Order struct {
	OrderID       string
	ClientID      string
	Symbol        string
	Side          Side
	Type          OrderType
	Status        OrderStatus
	Price         float64
	StopPrice     float64
	OrigQty       float64
	ExecutedQty   float64
	ReduceOnly    bool
	ClosePosition bool
	Time          time.Time
	UpdateTime    time.Time
}

// OrderRequest is what the order coordinator hands to the adapter's
// create_order.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      float64
	Price         float64
	StopPrice     float64
	ReduceOnly    bool
	ClosePosition bool
	ClientID      string
}

// ————————————————————————————————————————————————————————————————————————
// On-chain signing (onchainperp adapter)
// ————————————————————————————————————————————————————————————————————————

// SignedOrder is the wallet-signed order format the on-chain perp venue
// expects. MakerAmount/TakerAmount are fixed-point integers at the venue's
// collateral decimals, built from the float price/quantity only at the
// point of signature construction.
type SignedOrder struct {
	Salt          string        `json:"salt"`
	Maker         string        `json:"maker"`
	Signer        string        `json:"signer"`
	Symbol        string        `json:"symbol"`
	MakerAmount   *big.Int      `json:"makerAmount"`
	TakerAmount   *big.Int      `json:"takerAmount"`
	Side          Side          `json:"side"`
	Expiration    string        `json:"expiration"`
	Nonce         string        `json:"nonce"`
	SignatureType SignatureType `json:"signatureType"`
	Signature     string        `json:"signature"`
}
