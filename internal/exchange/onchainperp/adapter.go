package onchainperp

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"swing-core/internal/exchange"
	"swing-core/pkg/types"
)

// midPrice derives a last-price approximation from the best bid/ask, used
// only by WatchTicker since this venue has no dedicated ticker stream.
func midPrice(evt types.DepthEvent) (float64, error) {
	bid, err := strconv.ParseFloat(evt.Bids[0].Price, 64)
	if err != nil {
		return 0, err
	}
	ask, err := strconv.ParseFloat(evt.Asks[0].Price, 64)
	if err != nil {
		return 0, err
	}
	return (bid + ask) / 2, nil
}

// Adapter implements exchange.Adapter against a wallet-signed on-chain
// perpetuals venue.
type Adapter struct {
	id     string
	client *Client
	wsBase string
	logger *slog.Logger

	DepthFeed *DepthFeed
	RSIFeed   *RSIFeed
}

// New builds an onchainperp Adapter from Config and a signing Wallet.
func New(cfg Config, wallet *Wallet, logger *slog.Logger) *Adapter {
	client := NewClient(cfg, wallet, logger)
	return &Adapter{
		id:        "onchainperp",
		client:    client,
		wsBase:    cfg.WSBaseURL,
		logger:    logger.With("component", "onchainperp_adapter"),
		DepthFeed: NewDepthFeed(client, cfg.WSBaseURL, logger),
		RSIFeed:   NewRSIFeed(client, cfg.WSBaseURL, logger),
	}
}

func (a *Adapter) ID() string { return a.id }

// SupportsTrailingStops reports false: the on-chain perp venue only
// supports static stop-market orders, same as binancefutures.
func (a *Adapter) SupportsTrailingStops() bool { return false }

func (a *Adapter) FetchDepthSnapshot(ctx context.Context, symbol string) (types.DepthSnapshot, error) {
	return a.client.FetchSnapshot(ctx, symbol)
}

func (a *Adapter) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	return a.client.FetchKlines(ctx, symbol, interval, limit)
}

func (a *Adapter) CreateOrder(ctx context.Context, req types.OrderRequest) (types.Order, error) {
	return a.client.CreateOrder(ctx, req)
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return a.client.CancelOrder(ctx, symbol, orderID)
}

func (a *Adapter) CancelOrders(ctx context.Context, symbol string, orderIDs []string) error {
	return a.client.CancelOrders(ctx, symbol, orderIDs)
}

func (a *Adapter) CancelAllOrders(ctx context.Context, symbol string) error {
	return a.client.CancelAllOrders(ctx, symbol)
}

func (a *Adapter) QueryAccountSnapshot(ctx context.Context) (*types.Account, error) {
	return a.client.QueryAccountSnapshot(ctx)
}

func (a *Adapter) GetPrecision(ctx context.Context, symbol string) (types.Precision, bool, error) {
	return a.client.GetPrecision(ctx, symbol)
}

// WatchDepth delivers an initial REST snapshot then streams book diffs.
func (a *Adapter) WatchDepth(ctx context.Context, symbol string, cb func(types.DepthEvent)) error {
	snap, err := a.client.FetchSnapshot(ctx, symbol)
	if err != nil {
		return fmt.Errorf("watch depth: initial snapshot: %w", err)
	}
	cb(types.DepthEvent{FinalUpdateID: snap.LastUpdateID, Bids: snap.Bids, Asks: snap.Asks})

	events, _, err := a.DepthFeed.Dial(ctx, symbol, 0)
	if err != nil {
		return err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				cb(evt)
			}
		}
	}()
	return nil
}

// WatchTicker derives last price from the most recent book snapshot, since
// the on-chain perp venue has no dedicated ticker stream.
func (a *Adapter) WatchTicker(ctx context.Context, symbol string, cb func(types.Ticker)) error {
	events, _, err := a.DepthFeed.Dial(ctx, symbol, 0)
	if err != nil {
		return err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				if len(evt.Bids) == 0 || len(evt.Asks) == 0 {
					continue
				}
				mid, err := midPrice(evt)
				if err != nil {
					continue
				}
				cb(types.Ticker{Symbol: symbol, Last: mid})
			}
		}
	}()
	return nil
}

// WatchKlines delivers the most recent closed candle then streams new ones.
func (a *Adapter) WatchKlines(ctx context.Context, symbol, interval string, cb func(types.Candle)) error {
	recent, err := a.client.FetchKlines(ctx, symbol, interval, 1)
	if err != nil {
		return fmt.Errorf("watch klines: initial fetch: %w", err)
	}
	for _, c := range recent {
		cb(c)
	}

	candles, _, err := a.RSIFeed.Dial(ctx, symbol, interval)
	if err != nil {
		return err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-candles:
				if !ok {
					return
				}
				cb(c)
			}
		}
	}()
	return nil
}

// WatchAccount delivers one snapshot of the wallet's on-chain positions from
// QueryAccountSnapshot, this venue having no push channel for account state.
// It does not poll afterwards: cb is not invoked again.
func (a *Adapter) WatchAccount(ctx context.Context, cb func(types.Account)) error {
	snap, err := a.client.QueryAccountSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("watch account: initial snapshot: %w", err)
	}
	cb(*snap)
	return nil
}

// WatchOrders is a no-op stream: the on-chain perp venue reconciles order
// state purely via QueryAccountSnapshot and CreateOrder responses.
func (a *Adapter) WatchOrders(ctx context.Context, cb func([]types.Order)) error {
	return nil
}

var _ exchange.Adapter = (*Adapter)(nil)
