package onchainperp

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"swing-core/pkg/types"
)

// DepthFeed adapts Client + the book/price_change WS channel to
// internal/depth.Feed.
type DepthFeed struct {
	client *Client
	wsBase string
	logger *slog.Logger
}

func NewDepthFeed(client *Client, wsBase string, logger *slog.Logger) *DepthFeed {
	return &DepthFeed{client: client, wsBase: wsBase, logger: logger.With("component", "onchainperp_depth_feed")}
}

func (f *DepthFeed) FetchSnapshot(ctx context.Context, symbol string) (types.DepthSnapshot, error) {
	return f.client.FetchSnapshot(ctx, symbol)
}

// Dial subscribes to the book/price_change channel, satisfying depth.Feed.
// The server sends a full book event on initial subscribe and price_change
// diffs thereafter; both are normalized into types.DepthEvent.
func (f *DepthFeed) Dial(ctx context.Context, symbol string, speedMs int) (<-chan types.DepthEvent, <-chan struct{}, error) {
	feed := newBookFeed(f.wsBase, symbol, f.logger)
	events := make(chan types.DepthEvent, 256)
	closed := make(chan struct{}, 1)

	go feed.run(ctx, func(data []byte) {
		var envelope struct {
			EventType string `json:"event_type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			f.logger.Debug("ignoring unparseable book message", "error", err)
			return
		}

		switch envelope.EventType {
		case "book":
			var evt bookEventMsg
			if err := json.Unmarshal(data, &evt); err != nil {
				return
			}
			select {
			case events <- types.DepthEvent{FinalUpdateID: evt.UpdateID, Bids: levelsFromRows(evt.Bids), Asks: levelsFromRows(evt.Asks)}:
			default:
				f.logger.Warn("depth event channel full, dropping snapshot event")
			}
		case "price_change":
			var evt priceChangeMsg
			if err := json.Unmarshal(data, &evt); err != nil {
				return
			}
			select {
			case events <- types.DepthEvent{FirstUpdateID: evt.FirstUpdateID, FinalUpdateID: evt.FinalUpdateID, Bids: levelsFromRows(evt.Bids), Asks: levelsFromRows(evt.Asks)}:
			default:
				f.logger.Warn("depth event channel full, dropping event")
			}
		}
	}, closed)

	return events, closed, nil
}

// RSIFeed adapts Client + the kline WS channel to internal/rsi.Feed.
type RSIFeed struct {
	client *Client
	wsBase string
	logger *slog.Logger
}

func NewRSIFeed(client *Client, wsBase string, logger *slog.Logger) *RSIFeed {
	return &RSIFeed{client: client, wsBase: wsBase, logger: logger.With("component", "onchainperp_rsi_feed")}
}

func (f *RSIFeed) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	return f.client.FetchKlines(ctx, symbol, interval, limit)
}

// Dial subscribes to the kline channel, satisfying rsi.Feed.
func (f *RSIFeed) Dial(ctx context.Context, symbol, interval string) (<-chan types.Candle, <-chan struct{}, error) {
	feed := newBookFeed(f.wsBase, symbol+"@"+interval, f.logger)
	candles := make(chan types.Candle, 64)
	closed := make(chan struct{}, 1)

	go feed.run(ctx, func(data []byte) {
		var evt klineEventMsg
		if err := json.Unmarshal(data, &evt); err != nil || evt.EventType != "kline" {
			return
		}
		closePrice, err := strconv.ParseFloat(evt.Close, 64)
		if err != nil {
			return
		}
		candle := types.Candle{OpenTime: time.UnixMilli(evt.OpenTime), Close: closePrice, IsClosed: evt.IsClosed}
		select {
		case candles <- candle:
		default:
			f.logger.Warn("kline channel full, dropping event")
		}
	}, closed)

	return candles, closed, nil
}
