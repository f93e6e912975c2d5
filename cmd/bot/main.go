// sporthedge is an automated hedging/cycling bot for Polymarket sports
// binary markets: split USDC into both outcome tokens, accumulate whichever
// side trades cheaper, lock the gap between the two legs once it's tight
// enough, and unwind via a sell trigger or merge/redeem once the game ends.
//
// Architecture:
//
//	main.go                 — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go        — orchestrator: wires scanner → strategy loops → exchange, manages market lifecycle
//	strategy/loop.go        — per-market loop: accumulation, lock pricing, sell trigger, settlement
//	cycle/tracker.go        — tracks the two-leg accumulation and the active lock target
//	position/manager.go     — tracks held quantity, cost basis, and PnL per market
//	collateral/collateral.go — on-chain split/merge/redeem against the CTF and NegRisk adapter
//	balance/monitor.go      — tracks the bot's on-chain USDC balance
//	market/scanner.go       — polls Gamma API for tradeable markets, ranks by opportunity score
//	market/book.go          — local order book mirror fed by WebSocket snapshots + price changes
//	exchange/client.go      — REST client for Polymarket CLOB API (place/cancel orders, fetch book)
//	exchange/auth.go        — L1 (EIP-712) and L2 (HMAC) authentication for the Polymarket API
//	exchange/ws.go          — WebSocket feeds (market data + user fills/orders) with auto-reconnect
//	gateway/gateway.go      — shared rate-limited execution across all outbound venue calls
//	risk/manager.go         — enforces per-market, global exposure, daily loss, and price-shock limits
//	store/store.go          — SQLite persistence for trade history, signal state, redemption tracking
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"sporthedge/internal/api"
	"sporthedge/internal/config"
	"sporthedge/internal/engine"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("POLY_CONFIG"); p != "" {
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

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	// Create and start engine
	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	// Start dashboard API server if enabled
	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		signals := api.NewSignalHandlers(eng.SignalStore(), cfg.Signal.APIKey, logger)
		apiServer = api.NewServer(cfg.Dashboard, eng, *cfg, signals, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("polymarket market maker started",
		"markets_max", cfg.Risk.MaxMarketsActive,
		"order_size", cfg.Strategy.OrderSizeUSD,
		"max_exposure", cfg.Risk.MaxGlobalExposure,
		"dry_run", cfg.DryRun,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	// Stop dashboard first
	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}

	eng.Stop()
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
