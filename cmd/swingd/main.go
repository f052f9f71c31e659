// Command swingd runs the swing engine (§4.6) against one configured venue
// and symbol.
//
// Architecture:
//
//	main.go                    — entry point: loads config, wires every
//	                              collaborator, starts the engine, waits for
//	                              SIGINT/SIGTERM.
//	internal/depth             — order-book imbalance tracker (§4.1)
//	internal/rsi               — Wilder RSI tracker on the signal symbol (§4.2)
//	internal/swing              — pure entry/exit state machine (§4.5)
//	internal/ratelimit          — cycle-level rate-limit backoff (§4.3)
//	internal/order              — order coordinator: slot locks, slippage
//	                              guards, stop-order debounce (§4.4)
//	internal/killswitch          — stop-loss-cross cooldown (§4.9)
//	internal/instrument          — precision/trading-status poller (§4.8)
//	internal/audit               — append-only trade log (§4.10)
//	internal/store                — crash-safe swing-state restart durability
//	internal/engine               — orchestrator: wires everything above into
//	                              one tick loop and snapshot feed (§4.6)
//	internal/exchange/binancefutures — exchange.Adapter over a Binance-futures
//	                              style REST+WS venue
//	internal/exchange/onchainperp    — exchange.Adapter over a wallet-signed
//	                              on-chain perpetuals venue
//	internal/api                  — dashboard HTTP/WebSocket server (§4.11)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"swing-core/internal/api"
	"swing-core/internal/audit"
	"swing-core/internal/clock"
	"swing-core/internal/config"
	"swing-core/internal/depth"
	"swing-core/internal/engine"
	"swing-core/internal/exchange"
	"swing-core/internal/exchange/binancefutures"
	"swing-core/internal/exchange/onchainperp"
	"swing-core/internal/instrument"
	"swing-core/internal/killswitch"
	"swing-core/internal/order"
	"swing-core/internal/ratelimit"
	"swing-core/internal/rsi"
	"swing-core/internal/store"
	"swing-core/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("SWING_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	adapter, err := buildAdapter(*cfg, logger)
	if err != nil {
		logger.Error("failed to build exchange adapter", "error", err)
		os.Exit(1)
	}

	realClock := clock.Real{}

	depthTrk := depth.New(depth.Config{
		Symbol:      cfg.Swing.Symbol,
		SpeedMs:     cfg.Depth.SpeedMs,
		WindowBps:   cfg.Depth.WindowBps,
		Ratio:       cfg.Depth.Ratio,
		RefreshSync: time.Duration(cfg.Depth.RefreshSyncMs) * time.Millisecond,
	}, depthFeed(adapter), realClock, logger)

	rsiTrk := rsi.New(rsi.Config{
		Symbol:   cfg.Swing.SignalSymbol,
		Interval: cfg.Swing.SignalInterval,
		Period:   cfg.Swing.RSIPeriod,
	}, rsiFeed(adapter), realClock, logger)

	coordinator := order.New(order.Config{
		PriceTick: cfg.Swing.PriceTick,
		QtyStep:   cfg.Swing.QtyStep,
	}, adapter, realClock, logger)

	rateLimiter := ratelimit.New(ratelimit.Config{
		InitialPause: cfg.RateLimit.InitialPause,
		Ceiling:      cfg.RateLimit.Ceiling,
	}, realClock)

	killSwitch := killswitch.New(cfg.Swing.KillSwitchCooldown, realClock)

	instrumentPoller := instrument.New(adapter, cfg.Swing.Symbol, cfg.Instrument.PollInterval, realClock, logger)

	auditLog, err := audit.New(cfg.Audit.DataDir, cfg.Swing.MaxLogEntries, realClock, logger)
	if err != nil {
		logger.Error("failed to open trade log", "error", err)
		os.Exit(1)
	}

	stateStore, err := store.Open(cfg.Persistence.DataDir)
	if err != nil {
		logger.Error("failed to open swing-state store", "error", err)
		os.Exit(1)
	}

	eng := engine.New(engine.Config{
		Symbol:              cfg.Swing.Symbol,
		SignalSymbol:        cfg.Swing.SignalSymbol,
		SignalInterval:      cfg.Swing.SignalInterval,
		Direction:           types.Direction(cfg.Swing.Direction),
		TradeAmount:         cfg.Swing.TradeAmount,
		PollInterval:        time.Duration(cfg.Swing.PollIntervalMs) * time.Millisecond,
		RSIHigh:             cfg.Swing.RSIHigh,
		RSILow:              cfg.Swing.RSILow,
		StopLossPct:         cfg.Swing.StopLossPct,
		MaxCloseSlippagePct: cfg.Swing.MaxCloseSlippagePct,
		PriceTick:           cfg.Swing.PriceTick,
		QtyStep:             cfg.Swing.QtyStep,
		StopDebounceWindow:  cfg.Swing.StopDebounceWindow,
	}, adapter, depthTrk, rsiTrk, coordinator, rateLimiter, killSwitch, instrumentPoller, auditLog, stateStore, realClock, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		provider := api.NewProvider(ctx, eng)
		apiServer = api.NewServer(cfg.Dashboard, provider, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	if err := eng.Start(ctx); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE: no real orders will be placed")
	}

	logger.Info("swing engine started",
		"venue", cfg.Venue.Kind,
		"symbol", cfg.Swing.Symbol,
		"direction", cfg.Swing.Direction,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}

	cancel()
	eng.Stop()
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildAdapter constructs the configured venue's exchange.Adapter.
// cfg.Validate already rejected any venue.kind outside this switch.
func buildAdapter(cfg config.Config, logger *slog.Logger) (exchange.Adapter, error) {
	switch cfg.Venue.Kind {
	case "binancefutures":
		return binancefutures.New(binancefutures.Config{
			RESTBaseURL: cfg.Venue.RESTBaseURL,
			WSBaseURL:   cfg.Venue.WSBaseURL,
			APIKey:      cfg.Venue.APIKey,
			APISecret:   cfg.Venue.APISecret,
			DryRun:      cfg.DryRun,
		}, logger), nil

	case "onchainperp":
		wallet, err := onchainperp.NewWallet(onchainperp.WalletConfig{
			PrivateKeyHex: cfg.Wallet.PrivateKey,
			FunderAddress: cfg.Wallet.FunderAddress,
			ChainID:       int64(cfg.Wallet.ChainID),
			SignatureType: cfg.Wallet.SignatureType,
		})
		if err != nil {
			return nil, fmt.Errorf("build wallet: %w", err)
		}
		return onchainperp.New(onchainperp.Config{
			RESTBaseURL: cfg.Venue.RESTBaseURL,
			WSBaseURL:   cfg.Venue.WSBaseURL,
			DryRun:      cfg.DryRun,
		}, wallet, logger), nil

	default:
		return nil, fmt.Errorf("unknown venue.kind %q", cfg.Venue.Kind)
	}
}

// depthFeed and rsiFeed narrow an exchange.Adapter down to the depth/rsi
// Feed interfaces. Both concrete adapters expose DepthFeed/RSIFeed fields
// built for this purpose; a third adapter implementation would do the same.
func depthFeed(adapter exchange.Adapter) depth.Feed {
	switch a := adapter.(type) {
	case *binancefutures.Adapter:
		return a.DepthFeed
	case *onchainperp.Adapter:
		return a.DepthFeed
	default:
		panic(fmt.Sprintf("swingd: adapter %T has no depth feed", adapter))
	}
}

func rsiFeed(adapter exchange.Adapter) rsi.Feed {
	switch a := adapter.(type) {
	case *binancefutures.Adapter:
		return a.RSIFeed
	case *onchainperp.Adapter:
		return a.RSIFeed
	default:
		panic(fmt.Sprintf("swingd: adapter %T has no rsi feed", adapter))
	}
}
