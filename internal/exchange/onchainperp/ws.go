package onchainperp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
)

// bookEventMsg mirrors a full order-book snapshot pushed over the book
// channel on (re)subscription.
type bookEventMsg struct {
	EventType string     `json:"event_type"`
	Symbol    string     `json:"symbol"`
	Bids      [][]string `json:"bids"`
	Asks      [][]string `json:"asks"`
	UpdateID  int64      `json:"update_id"`
}

// priceChangeMsg mirrors an incremental book diff.
type priceChangeMsg struct {
	EventType     string     `json:"event_type"`
	Symbol        string     `json:"symbol"`
	FirstUpdateID int64      `json:"first_update_id"`
	FinalUpdateID int64      `json:"final_update_id"`
	Bids          [][]string `json:"bids"`
	Asks          [][]string `json:"asks"`
}

// klineEventMsg mirrors a candle push on the kline channel.
type klineEventMsg struct {
	EventType string `json:"event_type"`
	Symbol    string `json:"symbol"`
	OpenTime  int64  `json:"open_time"`
	Close     string `json:"close"`
	IsClosed  bool   `json:"is_closed"`
}

// bookFeed manages a single WebSocket connection subscribed to one symbol's
// book/price_change/kline channel, auto-reconnecting with exponential
// backoff (1s→30s).
type bookFeed struct {
	url    string
	symbol string
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func newBookFeed(wsBase, symbol string, logger *slog.Logger) *bookFeed {
	return &bookFeed{url: wsBase, symbol: symbol, logger: logger}
}

func (f *bookFeed) run(ctx context.Context, onMessage func(data []byte), closed chan<- struct{}) {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx, onMessage)
		select {
		case closed <- struct{}{}:
		default:
		}
		if ctx.Err() != nil {
			return
		}

		f.logger.Warn("onchainperp feed disconnected, reconnecting", "symbol", f.symbol, "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (f *bookFeed) connectAndRead(ctx context.Context, onMessage func(data []byte)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		conn.Close()
		f.conn = nil
		f.mu.Unlock()
	}()

	conn.SetPingHandler(func(payload string) error {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteMessage(websocket.PongMessage, []byte(payload))
	})

	sub := map[string]any{"operation": "subscribe", "symbols": []string{f.symbol}}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		onMessage(msg)
	}
}

func (f *bookFeed) close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

