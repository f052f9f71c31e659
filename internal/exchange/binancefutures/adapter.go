package binancefutures

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"swing-core/internal/exchange"
	"swing-core/pkg/types"
)

// Adapter implements exchange.Adapter against a Binance-futures-style
// venue. It wraps Client (REST) plus the WS streams, and exposes DepthFeed/
// RSIFeed for the trackers that need the narrower Feed interfaces.
type Adapter struct {
	id     string
	client *Client
	wsBase string
	logger *slog.Logger

	DepthFeed *DepthFeed
	RSIFeed   *RSIFeed
}

// New builds a binancefutures Adapter from Config.
func New(cfg Config, logger *slog.Logger) *Adapter {
	client := NewClient(cfg, logger)
	return &Adapter{
		id:        "binancefutures",
		client:    client,
		wsBase:    cfg.WSBaseURL,
		logger:    logger.With("component", "binancefutures_adapter"),
		DepthFeed: NewDepthFeed(client, cfg.WSBaseURL, logger),
		RSIFeed:   NewRSIFeed(client, cfg.WSBaseURL, logger),
	}
}

func (a *Adapter) ID() string { return a.id }

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

// WatchDepth delivers an initial REST snapshot as a synthetic full-book
// DepthEvent, then streams diffs, satisfying exchange.Adapter's
// "at least one full snapshot on initial subscription" contract.
func (a *Adapter) WatchDepth(ctx context.Context, symbol string, cb func(types.DepthEvent)) error {
	snap, err := a.client.FetchSnapshot(ctx, symbol)
	if err != nil {
		return fmt.Errorf("watch depth: initial snapshot: %w", err)
	}
	cb(types.DepthEvent{FinalUpdateID: snap.LastUpdateID, Bids: snap.Bids, Asks: snap.Asks})

	events, _, err := a.DepthFeed.Dial(ctx, symbol, defaultSpeedMs)
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

const defaultSpeedMs = 100

// tickerStreamMsg mirrors the WS mini-ticker/trade payload used for last
// price.
type tickerStreamMsg struct {
	Symbol string `json:"s"`
	Price  string `json:"c"`
}

// WatchTicker streams last-trade price updates off the mini-ticker stream.
func (a *Adapter) WatchTicker(ctx context.Context, symbol string, cb func(types.Ticker)) error {
	streamName := fmt.Sprintf("%s@miniTicker", strings.ToLower(symbol))
	stream := newRawStream(combinedStreamURL(a.wsBase, streamName), a.logger)
	closed := make(chan struct{}, 1)

	go stream.run(ctx, func(data []byte) {
		var msg tickerStreamMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		price, err := strconv.ParseFloat(msg.Price, 64)
		if err != nil {
			return
		}
		cb(types.Ticker{Symbol: msg.Symbol, Last: price, Time: time.Now()})
	}, closed)

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

// accountUpdateMsg mirrors the user-data-stream ACCOUNT_UPDATE event.
type accountUpdateMsg struct {
	Event string `json:"e"`
	A     struct {
		Positions []struct {
			Symbol      string `json:"s"`
			PositionAmt string `json:"pa"`
			EntryPrice  string `json:"ep"`
		} `json:"P"`
	} `json:"a"`
}

// orderUpdateMsg mirrors the user-data-stream ORDER_TRADE_UPDATE event.
type orderUpdateMsg struct {
	Event string `json:"e"`
	O     struct {
		Symbol      string `json:"s"`
		ClientID    string `json:"c"`
		Side        string `json:"S"`
		Type        string `json:"o"`
		Status      string `json:"X"`
		OrderID     int64  `json:"i"`
		OrigQty     string `json:"q"`
		Price       string `json:"p"`
		StopPrice   string `json:"sp"`
		ExecutedQty string `json:"z"`
		ReduceOnly  bool   `json:"R"`
	} `json:"o"`
}

// WatchAccount streams position updates off the user data stream,
// delivering an initial polled snapshot first.
func (a *Adapter) WatchAccount(ctx context.Context, cb func(types.Account)) error {
	snap, err := a.client.QueryAccountSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("watch account: initial snapshot: %w", err)
	}
	cb(*snap)

	listenKey, err := a.client.CreateListenKey(ctx)
	if err != nil {
		return fmt.Errorf("watch account: listen key: %w", err)
	}
	go a.keepAliveListenKey(ctx, listenKey)

	stream := newRawStream(a.wsBase+"/ws/"+listenKey, a.logger)
	closed := make(chan struct{}, 1)

	positions := make(map[string]types.PositionSnapshot, len(snap.Positions))
	for k, v := range snap.Positions {
		positions[k] = v
	}

	go stream.run(ctx, func(data []byte) {
		var msg accountUpdateMsg
		if err := json.Unmarshal(data, &msg); err != nil || msg.Event != "ACCOUNT_UPDATE" {
			return
		}
		for _, p := range msg.A.Positions {
			amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
			entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
			positions[p.Symbol] = types.PositionSnapshot{Symbol: p.Symbol, PositionAmt: amt, EntryPrice: entry}
		}
		snapshot := make(map[string]types.PositionSnapshot, len(positions))
		for k, v := range positions {
			snapshot[k] = v
		}
		cb(types.Account{MarketType: types.MarketTypeFutures, Positions: snapshot})
	}, closed)

	return nil
}

// WatchOrders streams order lifecycle updates off the user data stream.
func (a *Adapter) WatchOrders(ctx context.Context, cb func([]types.Order)) error {
	listenKey, err := a.client.CreateListenKey(ctx)
	if err != nil {
		return fmt.Errorf("watch orders: listen key: %w", err)
	}
	go a.keepAliveListenKey(ctx, listenKey)

	stream := newRawStream(a.wsBase+"/ws/"+listenKey, a.logger)
	closed := make(chan struct{}, 1)

	go stream.run(ctx, func(data []byte) {
		var msg orderUpdateMsg
		if err := json.Unmarshal(data, &msg); err != nil || msg.Event != "ORDER_TRADE_UPDATE" {
			return
		}
		price, _ := strconv.ParseFloat(msg.O.Price, 64)
		stopPrice, _ := strconv.ParseFloat(msg.O.StopPrice, 64)
		origQty, _ := strconv.ParseFloat(msg.O.OrigQty, 64)
		execQty, _ := strconv.ParseFloat(msg.O.ExecutedQty, 64)
		ord := types.Order{
			OrderID:     strconv.FormatInt(msg.O.OrderID, 10),
			ClientID:    msg.O.ClientID,
			Symbol:      msg.O.Symbol,
			Side:        types.Side(msg.O.Side),
			Type:        types.OrderType(msg.O.Type),
			Status:      types.OrderStatus(msg.O.Status),
			Price:       price,
			StopPrice:   stopPrice,
			OrigQty:     origQty,
			ExecutedQty: execQty,
			ReduceOnly:  msg.O.ReduceOnly,
			UpdateTime:  time.Now(),
		}
		cb([]types.Order{ord})
	}, closed)

	return nil
}

func (a *Adapter) keepAliveListenKey(ctx context.Context, listenKey string) {
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.client.KeepAliveListenKey(ctx, listenKey); err != nil {
				a.logger.Warn("listen key keepalive failed", "error", err)
			}
		}
	}
}

var _ exchange.Adapter = (*Adapter)(nil)
