// Package exchange defines the abstract Exchange Adapter contract the core
// consumes (§6), plus transport-level concerns shared by every concrete
// adapter (token-bucket throttling). Concrete adapters live in subpackages:
// binancefutures (REST+WS, HMAC-signed) and onchainperp (wallet-signed,
// EIP-712).
package exchange

import (
	"context"

	"swing-core/pkg/types"
)

// Adapter is the contract the depth tracker, RSI tracker, order
// coordinator, and swing engine consume. Every watch_* method must deliver
// at least one full snapshot on initial subscription and re-invoke cb on
// every subsequent update.
type Adapter interface {
	ID() string

	WatchAccount(ctx context.Context, cb func(types.Account)) error
	WatchOrders(ctx context.Context, cb func([]types.Order)) error
	WatchDepth(ctx context.Context, symbol string, cb func(types.DepthEvent)) error
	WatchTicker(ctx context.Context, symbol string, cb func(types.Ticker)) error
	WatchKlines(ctx context.Context, symbol, interval string, cb func(types.Candle)) error

	FetchDepthSnapshot(ctx context.Context, symbol string) (types.DepthSnapshot, error)
	FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error)

	CreateOrder(ctx context.Context, req types.OrderRequest) (types.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelOrders(ctx context.Context, symbol string, orderIDs []string) error
	CancelAllOrders(ctx context.Context, symbol string) error

	QueryAccountSnapshot(ctx context.Context) (*types.Account, error)
	GetPrecision(ctx context.Context, symbol string) (types.Precision, bool, error)
	SupportsTrailingStops() bool
}
