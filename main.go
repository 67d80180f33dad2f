package main

import (
	"context"
	"errors"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"autoTraderCore/config"
	"autoTraderCore/internal/adapters/binanceclient"
	"autoTraderCore/internal/adapters/logger"
	"autoTraderCore/internal/adapters/sqlite"
	"autoTraderCore/internal/app"
	"autoTraderCore/internal/ledger"
	"autoTraderCore/internal/monitor"
	"autoTraderCore/internal/monitoring"
	"autoTraderCore/internal/recovery"
	"autoTraderCore/internal/risk"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger, err := logger.NewZapLogger(logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()

	// 4. Initialize Exchange Client (Binance Adapter)
	exchangeClient, err := binanceclient.New(binanceclient.Config{
		APIKey:      cfg.APIKey,
		SecretKey:   cfg.SecretKey,
		UseTestnet:  cfg.IsTestnet,
		Logger:      appLogger,
		CallTimeout: cfg.ExchangeTimeout,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	// 5. Core components: ledger, risk manager, position manager.
	cfgStore := config.NewStore(cfg.Risk)
	positionLedger := ledger.New()

	riskManager, err := risk.NewManager(cfgStore, positionLedger, repo, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize risk manager")
		log.Fatalf("FATAL: Failed to initialize risk manager: %v", err)
	}

	positionManager, err := app.NewPositionManager(cfg, cfgStore, appLogger, exchangeClient, repo, repo, positionLedger, riskManager)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize position manager")
		log.Fatalf("FATAL: Failed to initialize position manager: %v", err)
	}
	riskManager.SetPositionCloser(positionManager)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 6. Reconcile persisted state with the exchange before admitting work.
	coordinator, err := recovery.New(appLogger, exchangeClient, repo, repo, positionLedger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize recovery coordinator")
		log.Fatalf("FATAL: Failed to initialize recovery coordinator: %v", err)
	}
	if err := coordinator.RecoverPositions(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: Position recovery failed")
		log.Fatalf("FATAL: Position recovery failed: %v", err)
	}

	// 7. Stop-loss monitor.
	stopLossMonitor, err := monitor.New(cfg, cfgStore, appLogger, exchangeClient, positionLedger, riskManager, positionManager)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize stop-loss monitor")
		log.Fatalf("FATAL: Failed to initialize stop-loss monitor: %v", err)
	}
	go stopLossMonitor.Run(ctx)

	// 8. Metrics endpoint (optional).
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", monitoring.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			appLogger.Info(ctx, "Metrics endpoint listening", map[string]interface{}{"addr": cfg.MetricsAddr})
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLogger.Error(ctx, err, "Metrics server failed")
			}
		}()
	}

	appLogger.Info(ctx, "Risk and position management core started")
	<-ctx.Done()

	appLogger.Info(context.Background(), "Shutting down")
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error(context.Background(), err, "Metrics server shutdown failed")
		}
	}
	appLogger.Info(context.Background(), "Application finished gracefully.")
}
