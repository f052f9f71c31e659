package onchainperp

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"context"

	"github.com/go-resty/resty/v2"

	"swing-core/internal/exchange"
	"swing-core/internal/order"
	"swing-core/pkg/types"
)

// Config configures the on-chain perp REST/WS client.
type Config struct {
	RESTBaseURL string
	WSBaseURL   string
	DryRun      bool
	DefaultTTL  time.Duration
}

// Client is the on-chain perp REST API client: order book and candle reads
// are public, order placement requires a wallet-signed payload.
type Client struct {
	http   *resty.Client
	wallet *Wallet
	cfg    Config
	rl     *exchange.RateLimiter
	logger *slog.Logger
}

// NewClient builds a REST client for the on-chain perp venue.
func NewClient(cfg Config, wallet *Wallet, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.RESTBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		wallet: wallet,
		cfg:    cfg,
		rl:     exchange.NewRateLimiter(50, 50, 100),
		logger: logger.With("component", "onchainperp"),
	}
}

type bookResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

func levelsFromRows(rows [][]string) []types.PriceLevel {
	levels := make([]types.PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) != 2 {
			continue
		}
		qty, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			continue
		}
		levels = append(levels, types.PriceLevel{Price: row[0], Quantity: qty})
	}
	return levels
}

// FetchSnapshot fetches an order-book snapshot, satisfying depth.Feed.
func (c *Client) FetchSnapshot(ctx context.Context, symbol string) (types.DepthSnapshot, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return types.DepthSnapshot{}, err
	}

	var result bookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("limit", "5000").
		SetResult(&result).
		Get("/book")
	if err != nil {
		return types.DepthSnapshot{}, fmt.Errorf("fetch book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.DepthSnapshot{}, fmt.Errorf("fetch book: status %d: %s", resp.StatusCode(), resp.String())
	}

	return types.DepthSnapshot{
		LastUpdateID: result.LastUpdateID,
		Bids:         levelsFromRows(result.Bids),
		Asks:         levelsFromRows(result.Asks),
	}, nil
}

type candleRow struct {
	OpenTime int64  `json:"t"`
	Close    string `json:"c"`
}

// FetchKlines fetches recent candles, satisfying rsi.Feed.
func (c *Client) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	var rows []candleRow
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("interval", interval).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&rows).
		Get("/candles")
	if err != nil {
		return nil, fmt.Errorf("fetch candles: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch candles: status %d: %s", resp.StatusCode(), resp.String())
	}

	candles := make([]types.Candle, 0, len(rows))
	for _, r := range rows {
		price, err := strconv.ParseFloat(r.Close, 64)
		if err != nil {
			continue
		}
		candles = append(candles, types.Candle{OpenTime: time.UnixMilli(r.OpenTime), Close: price, IsClosed: true})
	}
	return candles, nil
}

type instrumentResponse struct {
	PriceTick string `json:"priceTick"`
	QtyStep   string `json:"qtyStep"`
	Status    string `json:"status"`
}

// GetPrecision fetches the venue's current tick/step size and trading
// status for the symbol.
func (c *Client) GetPrecision(ctx context.Context, symbol string) (types.Precision, bool, error) {
	var result instrumentResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&result).
		Get("/instrument")
	if err != nil {
		return types.Precision{}, false, fmt.Errorf("fetch instrument: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.Precision{}, false, fmt.Errorf("fetch instrument: status %d: %s", resp.StatusCode(), resp.String())
	}

	tick, _ := strconv.ParseFloat(result.PriceTick, 64)
	step, _ := strconv.ParseFloat(result.QtyStep, 64)
	return types.Precision{PriceTick: tick, QtyStep: step}, result.Status == "TRADING", nil
}

type orderResponse struct {
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	ExecutedQty string `json:"executedQty"`
}

// CreateOrder signs and submits an order to the on-chain perp venue.
func (c *Client) CreateOrder(ctx context.Context, req types.OrderRequest) (types.Order, error) {
	if c.cfg.DryRun {
		c.logger.Info("DRY-RUN: would create order", "symbol", req.Symbol, "side", req.Side, "type", req.Type, "qty", req.Quantity)
		return types.Order{
			OrderID: "dry-run-" + strconv.FormatInt(time.Now().UnixNano(), 10),
			Symbol:  req.Symbol, Side: req.Side, Type: req.Type,
			Status: types.OrderStatusNew, OrigQty: req.Quantity, Price: req.Price, StopPrice: req.StopPrice,
		}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return types.Order{}, err
	}

	ttl := c.cfg.DefaultTTL
	if ttl == 0 {
		ttl = time.Hour
	}
	signed, err := c.wallet.SignOrder(req, time.Now().Add(ttl))
	if err != nil {
		return types.Order{}, fmt.Errorf("sign order: %w", err)
	}

	var result orderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(signed).
		SetResult(&result).
		Post("/orders")
	if err != nil {
		return types.Order{}, fmt.Errorf("create order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		if resp.StatusCode() == http.StatusNotFound {
			return types.Order{}, order.WrapUnknownOrder(fmt.Errorf("create order: status %d: %s", resp.StatusCode(), resp.String()))
		}
		return types.Order{}, fmt.Errorf("create order: status %d: %s", resp.StatusCode(), resp.String())
	}

	execQty, _ := strconv.ParseFloat(result.ExecutedQty, 64)
	return types.Order{
		OrderID: result.OrderID, Symbol: result.Symbol, Side: types.Side(result.Side),
		Type: req.Type, Status: types.OrderStatus(result.Status),
		OrigQty: req.Quantity, ExecutedQty: execQty, Price: req.Price, StopPrice: req.StopPrice,
		ReduceOnly: req.ReduceOnly, ClosePosition: req.ClosePosition, UpdateTime: time.Now(),
	}, nil
}

// CancelOrder cancels a single order.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if c.cfg.DryRun {
		c.logger.Info("DRY-RUN: would cancel order", "symbol", symbol, "order_id", orderID)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("orderId", orderID).
		Delete("/orders")
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return order.WrapUnknownOrder(fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String()))
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// CancelOrders cancels a batch of orders.
func (c *Client) CancelOrders(ctx context.Context, symbol string, orderIDs []string) error {
	for _, id := range orderIDs {
		if err := c.CancelOrder(ctx, symbol, id); err != nil && !order.IsUnknownOrder(err) {
			return err
		}
	}
	return nil
}

// CancelAllOrders cancels every open order for a symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	if c.cfg.DryRun {
		c.logger.Info("DRY-RUN: would cancel all orders", "symbol", symbol)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	resp, err := c.http.R().SetContext(ctx).SetQueryParam("symbol", symbol).Delete("/cancel-all")
	if err != nil {
		return fmt.Errorf("cancel all orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel all orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

type accountResponse struct {
	Positions []struct {
		Symbol      string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
		EntryPrice  string `json:"entryPrice"`
		MarkPrice   string `json:"markPrice"`
	} `json:"positions"`
}

// QueryAccountSnapshot polls the wallet's on-chain position state.
func (c *Client) QueryAccountSnapshot(ctx context.Context) (*types.Account, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	var result accountResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("address", c.wallet.Address().Hex()).
		SetResult(&result).
		Get("/account")
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("query account: status %d: %s", resp.StatusCode(), resp.String())
	}

	positions := make(map[string]types.PositionSnapshot, len(result.Positions))
	for _, p := range result.Positions {
		amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
		positions[p.Symbol] = types.PositionSnapshot{Symbol: p.Symbol, PositionAmt: amt, EntryPrice: entry, MarkPrice: mark}
	}
	return &types.Account{MarketType: types.MarketTypePerp, Positions: positions}, nil
}
