package binancefutures

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"swing-core/pkg/types"
)

// depthUpdateMsg mirrors the WS depth diff payload:
// {e:"depthUpdate", U, u, b:[[p,q]...], a:[[p,q]...]}.
type depthUpdateMsg struct {
	Event         string     `json:"e"`
	FirstUpdateID int64      `json:"U"`
	FinalUpdateID int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

// DepthFeed adapts Client + the WS depth stream to internal/depth.Feed.
type DepthFeed struct {
	client *Client
	wsBase string
	logger *slog.Logger
}

func NewDepthFeed(client *Client, wsBase string, logger *slog.Logger) *DepthFeed {
	return &DepthFeed{client: client, wsBase: wsBase, logger: logger.With("component", "binancefutures_depth_feed")}
}

func (f *DepthFeed) FetchSnapshot(ctx context.Context, symbol string) (types.DepthSnapshot, error) {
	return f.client.FetchSnapshot(ctx, symbol)
}

// Dial opens the depth diff stream, satisfying depth.Feed.
func (f *DepthFeed) Dial(ctx context.Context, symbol string, speedMs int) (<-chan types.DepthEvent, <-chan struct{}, error) {
	streamName := fmt.Sprintf("%s@depth@%dms", strings.ToLower(symbol), speedMs)
	stream := newRawStream(combinedStreamURL(f.wsBase, streamName), f.logger)

	events := make(chan types.DepthEvent, 256)
	closed := make(chan struct{}, 1)

	go stream.run(ctx, func(data []byte) {
		var msg depthUpdateMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Debug("ignoring unparseable depth message", "error", err)
			return
		}
		if msg.Event != "depthUpdate" {
			return
		}
		evt := types.DepthEvent{
			FirstUpdateID: msg.FirstUpdateID,
			FinalUpdateID: msg.FinalUpdateID,
			Bids:          levelsFromRows(msg.Bids),
			Asks:          levelsFromRows(msg.Asks),
		}
		select {
		case events <- evt:
		default:
			f.logger.Warn("depth event channel full, dropping event")
		}
	}, closed)

	return events, closed, nil
}

// klineStreamMsg mirrors the WS kline payload:
// {e:"kline", s, k:{t, T, c, x, ...}}.
type klineStreamMsg struct {
	Event string `json:"e"`
	K     struct {
		OpenTime int64  `json:"t"`
		Close    string `json:"c"`
		IsClosed bool   `json:"x"`
	} `json:"k"`
}

// RSIFeed adapts Client + the WS kline stream to internal/rsi.Feed.
type RSIFeed struct {
	client *Client
	wsBase string
	logger *slog.Logger
}

func NewRSIFeed(client *Client, wsBase string, logger *slog.Logger) *RSIFeed {
	return &RSIFeed{client: client, wsBase: wsBase, logger: logger.With("component", "binancefutures_rsi_feed")}
}

func (f *RSIFeed) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	return f.client.FetchKlines(ctx, symbol, interval, limit)
}

// Dial opens the kline stream, satisfying rsi.Feed.
func (f *RSIFeed) Dial(ctx context.Context, symbol, interval string) (<-chan types.Candle, <-chan struct{}, error) {
	streamName := fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), interval)
	stream := newRawStream(combinedStreamURL(f.wsBase, streamName), f.logger)

	candles := make(chan types.Candle, 64)
	closed := make(chan struct{}, 1)

	go stream.run(ctx, func(data []byte) {
		var msg klineStreamMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Debug("ignoring unparseable kline message", "error", err)
			return
		}
		if msg.Event != "kline" {
			return
		}
		closePrice, err := strconv.ParseFloat(msg.K.Close, 64)
		if err != nil {
			return
		}
		candle := types.Candle{
			OpenTime: time.UnixMilli(msg.K.OpenTime),
			Close:    closePrice,
			IsClosed: msg.K.IsClosed,
		}
		select {
		case candles <- candle:
		default:
			f.logger.Warn("kline channel full, dropping event")
		}
	}, closed)

	return candles, closed, nil
}
