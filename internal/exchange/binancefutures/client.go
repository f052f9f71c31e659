// Package binancefutures implements the exchange.Adapter contract (§6)
// against a Binance-futures-style REST+WebSocket venue: HMAC-SHA256 request
// signing, a resty REST client with retry, and gorilla/websocket streams
// for depth, klines, and the user data stream.
package binancefutures

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"swing-core/internal/exchange"
	"swing-core/internal/order"
	"swing-core/pkg/types"
)

// Config configures the REST/WS client.
type Config struct {
	RESTBaseURL string
	WSBaseURL   string
	APIKey      string
	APISecret   string
	DryRun      bool
}

// Client is the Binance-futures-style REST API client. Market-data, order
// and account requests are rate-limited via per-category TokenBuckets (the
// listen-key calls are not); requests are retried on transport and 5xx
// errors, and HMAC-signed for private endpoints.
type Client struct {
	http   *resty.Client
	cfg    Config
	rl     *exchange.RateLimiter
	logger *slog.Logger
}

// NewClient builds a REST client with rate limiting and retry.
func NewClient(cfg Config, logger *slog.Logger) *Client {
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
		SetHeader("X-MBX-APIKEY", cfg.APIKey)

	return &Client{
		http:   httpClient,
		cfg:    cfg,
		rl:     exchange.NewRateLimiter(300, 300, 2400),
		logger: logger.With("component", "binancefutures"),
	}
}

// sign computes the HMAC-SHA256 query-string signature Binance-style
// private endpoints require: signature = HMAC_SHA256(secret, queryString).
func (c *Client) sign(params url.Values) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(params.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) signedParams(extra url.Values) url.Values {
	if extra == nil {
		extra = url.Values{}
	}
	extra.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	extra.Set("recvWindow", "5000")
	extra.Set("signature", c.sign(extra))
	return extra
}

// depthResponse mirrors GET /api/v3/depth.
type depthResponse struct {
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

// FetchSnapshot fetches a REST depth snapshot (limit 5000), satisfying
// depth.Feed.
func (c *Client) FetchSnapshot(ctx context.Context, symbol string) (types.DepthSnapshot, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return types.DepthSnapshot{}, err
	}

	var result depthResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("limit", "5000").
		SetResult(&result).
		Get("/api/v3/depth")
	if err != nil {
		return types.DepthSnapshot{}, fmt.Errorf("fetch depth snapshot: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.DepthSnapshot{}, fmt.Errorf("fetch depth snapshot: status %d: %s", resp.StatusCode(), resp.String())
	}

	return types.DepthSnapshot{
		LastUpdateID: result.LastUpdateID,
		Bids:         levelsFromRows(result.Bids),
		Asks:         levelsFromRows(result.Asks),
	}, nil
}

// FetchKlines fetches the most recent candles, satisfying rsi.Feed.
func (c *Client) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	var rows [][]json.RawMessage
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("interval", interval).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&rows).
		Get("/api/v3/klines")
	if err != nil {
		return nil, fmt.Errorf("fetch klines: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch klines: status %d: %s", resp.StatusCode(), resp.String())
	}

	candles := make([]types.Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := parseKlineRow(row)
		if err != nil {
			continue
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// parseKlineRow decodes one REST kline row:
// [openTime, open, high, low, close, volume, closeTime, ...]. REST rows are
// always closed candles.
func parseKlineRow(row []json.RawMessage) (types.Candle, error) {
	if len(row) < 5 {
		return types.Candle{}, fmt.Errorf("kline row too short: %d fields", len(row))
	}
	var openTimeMs int64
	if err := json.Unmarshal(row[0], &openTimeMs); err != nil {
		return types.Candle{}, err
	}
	var closeStr string
	if err := json.Unmarshal(row[4], &closeStr); err != nil {
		return types.Candle{}, err
	}
	closePrice, err := strconv.ParseFloat(closeStr, 64)
	if err != nil {
		return types.Candle{}, err
	}
	return types.Candle{
		OpenTime: time.UnixMilli(openTimeMs),
		Close:    closePrice,
		IsClosed: true,
	}, nil
}

// exchangeInfoResponse is the subset of GET /api/v3/exchangeInfo used for
// precision/trading-status.
type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Status  string `json:"status"`
		Filters []struct {
			FilterType string `json:"filterType"`
			TickSize   string `json:"tickSize"`
			StepSize   string `json:"stepSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

// GetPrecision fetches the symbol's current tick/step size and trading
// status via exchangeInfo, satisfying Adapter.GetPrecision.
func (c *Client) GetPrecision(ctx context.Context, symbol string) (types.Precision, bool, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return types.Precision{}, false, err
	}

	var result exchangeInfoResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&result).
		Get("/api/v3/exchangeInfo")
	if err != nil {
		return types.Precision{}, false, fmt.Errorf("fetch exchange info: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.Precision{}, false, fmt.Errorf("fetch exchange info: status %d: %s", resp.StatusCode(), resp.String())
	}

	for _, s := range result.Symbols {
		if s.Symbol != symbol {
			continue
		}
		var prec types.Precision
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				prec.PriceTick, _ = strconv.ParseFloat(f.TickSize, 64)
			case "LOT_SIZE":
				prec.QtyStep, _ = strconv.ParseFloat(f.StepSize, 64)
			}
		}
		return prec, s.Status == "TRADING", nil
	}
	return types.Precision{}, false, fmt.Errorf("symbol %s not found in exchange info", symbol)
}

// orderResponse mirrors POST /fapi/v1/order.
type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	StopPrice     string `json:"stopPrice"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	ReduceOnly    bool   `json:"reduceOnly"`
	ClosePosition bool   `json:"closePosition"`
	UpdateTime    int64  `json:"updateTime"`
}

func (r orderResponse) toOrder() types.Order {
	price, _ := strconv.ParseFloat(r.Price, 64)
	stopPrice, _ := strconv.ParseFloat(r.StopPrice, 64)
	origQty, _ := strconv.ParseFloat(r.OrigQty, 64)
	execQty, _ := strconv.ParseFloat(r.ExecutedQty, 64)
	return types.Order{
		OrderID:       strconv.FormatInt(r.OrderID, 10),
		ClientID:      r.ClientOrderID,
		Symbol:        r.Symbol,
		Side:          types.Side(r.Side),
		Type:          types.OrderType(r.Type),
		Status:        types.OrderStatus(r.Status),
		Price:         price,
		StopPrice:     stopPrice,
		OrigQty:       origQty,
		ExecutedQty:   execQty,
		ReduceOnly:    r.ReduceOnly,
		ClosePosition: r.ClosePosition,
		UpdateTime:    time.UnixMilli(r.UpdateTime),
	}
}

// CreateOrder places an order, satisfying Adapter.CreateOrder.
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

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	if req.Quantity > 0 {
		params.Set("quantity", strconv.FormatFloat(req.Quantity, 'f', -1, 64))
	}
	if req.Price > 0 {
		params.Set("price", strconv.FormatFloat(req.Price, 'f', -1, 64))
	}
	if req.StopPrice > 0 {
		params.Set("stopPrice", strconv.FormatFloat(req.StopPrice, 'f', -1, 64))
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if req.ClosePosition {
		params.Set("closePosition", "true")
	}
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}
	params = c.signedParams(params)

	var result orderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		SetResult(&result).
		Post("/fapi/v1/order")
	if err != nil {
		return types.Order{}, fmt.Errorf("create order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		if isUnknownOrderStatus(resp.StatusCode(), resp.String()) {
			return types.Order{}, order.WrapUnknownOrder(fmt.Errorf("create order: status %d: %s", resp.StatusCode(), resp.String()))
		}
		return types.Order{}, fmt.Errorf("create order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.toOrder(), nil
}

// CancelOrder cancels a single order by ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if c.cfg.DryRun {
		c.logger.Info("DRY-RUN: would cancel order", "symbol", symbol, "order_id", orderID)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	params = c.signedParams(params)

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		Delete("/fapi/v1/order")
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		if isUnknownOrderStatus(resp.StatusCode(), resp.String()) {
			return order.WrapUnknownOrder(fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String()))
		}
		return fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// CancelOrders cancels a batch of orders by ID.
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

	params := url.Values{}
	params.Set("symbol", symbol)
	params = c.signedParams(params)

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		Delete("/fapi/v1/allOpenOrders")
	if err != nil {
		return fmt.Errorf("cancel all orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel all orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func isUnknownOrderStatus(status int, body string) bool {
	lower := strings.ToLower(body)
	return status == http.StatusBadRequest &&
		(strings.Contains(lower, "unknown order") || strings.Contains(lower, "order does not exist"))
}

// accountResponse mirrors GET /fapi/v2/account.
type accountResponse struct {
	Positions []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		UnrealizedProfit string `json:"unrealizedProfit"`
	} `json:"positions"`
}

// QueryAccountSnapshot polls the account endpoint, satisfying
// Adapter.QueryAccountSnapshot.
func (c *Client) QueryAccountSnapshot(ctx context.Context) (*types.Account, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	params := c.signedParams(nil)
	var result accountResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		SetResult(&result).
		Get("/fapi/v2/account")
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
		upnl, _ := strconv.ParseFloat(p.UnrealizedProfit, 64)
		positions[p.Symbol] = types.PositionSnapshot{
			Symbol: p.Symbol, PositionAmt: amt, EntryPrice: entry,
			MarkPrice: mark, UnrealizedProfit: upnl,
		}
	}
	return &types.Account{MarketType: types.MarketTypeFutures, Positions: positions}, nil
}

// CreateListenKey opens a user-data-stream listen key for the WS account
// and order feeds.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	var result struct {
		ListenKey string `json:"listenKey"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&result).Post("/fapi/v1/listenKey")
	if err != nil {
		return "", fmt.Errorf("create listen key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("create listen key: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.ListenKey, nil
}

// KeepAliveListenKey refreshes the listen key's 60-minute expiry.
func (c *Client) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	resp, err := c.http.R().SetContext(ctx).SetQueryParam("listenKey", listenKey).Put("/fapi/v1/listenKey")
	if err != nil {
		return fmt.Errorf("keepalive listen key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("keepalive listen key: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
