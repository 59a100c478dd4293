package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"dca-trade-bot-go/internal/config"
	"dca-trade-bot-go/internal/database"
	"dca-trade-bot-go/internal/exchange"
	"dca-trade-bot-go/internal/execution"
	"dca-trade-bot-go/internal/ledger"
	"dca-trade-bot-go/internal/logger"
	"dca-trade-bot-go/internal/marketdata"
	"dca-trade-bot-go/internal/notifier"
	"dca-trade-bot-go/internal/processor"
	"dca-trade-bot-go/internal/scheduler"
	"dca-trade-bot-go/internal/shutdown"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Initialize exchange client and verify connectivity
	client := exchange.NewRestClient(&cfg.Exchange, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := client.GetBalance(ctx, cfg.Trading.ReferenceCurrency); err != nil {
		log.Fatal("Failed to connect to exchange API", zap.Error(err))
	}
	log.Info("Successfully connected to exchange API.")

	// Core services: market-data cache, capital ledger, shutdown gate,
	// notification hub, execution state machine.
	cache := marketdata.NewCache(client, cfg.Trading.CacheTTLDuration())
	capital := ledger.NewLedger(db, client, cache, log)
	coordinator := shutdown.NewCoordinator()
	hub := notifier.NewHub(log)

	var wsServer *notifier.Server
	if cfg.Notifier.Enabled {
		wsServer = notifier.NewServer(hub, cfg.Notifier.Port, log)
		wsServer.Start()
	}

	executor := execution.NewExecutor(client, cache, coordinator, hub,
		cfg.Trading.ReferenceCurrency, cfg.Trading.DryRun, log)
	proc := processor.NewProcessor(db, cache, capital, executor, log)
	monitor := scheduler.NewScheduler(db, proc, executor,
		cfg.Scheduler.TickDuration(), int64(cfg.Scheduler.WorkerLimit), log)

	// Setup context for graceful shutdown
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	monitor.Run(ctx)

	// Drain in-flight orders; never leave one half-submitted silently.
	result := coordinator.PrepareShutdown(cfg.Scheduler.ShutdownDuration())
	if result.Drained {
		log.Info("All in-flight operations drained", zap.Duration("waited", result.Waited))
	} else {
		log.Error("Shutdown timeout reached with operations still in flight",
			zap.Int("outstanding", result.Outstanding),
			zap.Duration("waited", result.Waited),
		)
	}

	if wsServer != nil {
		if err := wsServer.Stop(context.Background()); err != nil {
			log.Warn("Failed to stop websocket server", zap.Error(err))
		}
	}

	log.Info("Bot has been shut down.")
}
