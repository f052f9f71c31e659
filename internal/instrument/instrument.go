// Package instrument polls an adapter's precision/trading-status metadata
// on a timer and publishes the result of every poll (§4.8), for one symbol
// and one metadata fetch.
package instrument

import (
	"context"
	"log/slog"
	"time"

	"swing-core/internal/clock"
	"swing-core/pkg/types"
)

// Adapter is the subset of exchange.Adapter the poller drives.
type Adapter interface {
	GetPrecision(ctx context.Context, symbol string) (types.Precision, bool, error)
}

// Snapshot is the poller's latest observed state.
type Snapshot struct {
	Precision     types.Precision
	Supported     bool
	TradingHalted bool
}

const defaultPollInterval = 60 * time.Second

// Poller periodically refreshes precision metadata and a trading-halted
// flag the engine checks before placing entries.
type Poller struct {
	adapter      Adapter
	symbol       string
	pollInterval time.Duration
	clock        clock.Clock
	logger       *slog.Logger

	resultCh chan Snapshot
}

// New constructs a Poller. pollInterval of 0 defaults to 60s per §4.8.
func New(adapter Adapter, symbol string, pollInterval time.Duration, clk clock.Clock, logger *slog.Logger) *Poller {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Poller{
		adapter:      adapter,
		symbol:       symbol,
		pollInterval: pollInterval,
		clock:        clk,
		logger:       logger.With("component", "instrument_poller"),
		resultCh:     make(chan Snapshot, 1),
	}
}

// Results returns the channel the engine reads updated snapshots from.
func (p *Poller) Results() <-chan Snapshot {
	return p.resultCh
}

// Run polls immediately, then on every tick, until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.poll(ctx)

	ticker := p.clock.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	precision, supported, err := p.adapter.GetPrecision(ctx, p.symbol)
	if err != nil {
		p.logger.Warn("precision poll failed, trading halted until next successful poll", "error", err)
		p.publish(Snapshot{Supported: false, TradingHalted: true})
		return
	}
	p.publish(Snapshot{Precision: precision, Supported: supported, TradingHalted: !supported})
}

// publish keeps only the freshest pending snapshot: a slow consumer should
// never see a stale precision value behind a queue of older ones.
func (p *Poller) publish(snap Snapshot) {
	select {
	case p.resultCh <- snap:
	default:
		select {
		case <-p.resultCh:
		default:
		}
		p.resultCh <- snap
	}
}
