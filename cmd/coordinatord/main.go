package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/proerror77/ploy-sub002/internal/breaker"
	"github.com/proerror77/ploy-sub002/internal/config"
	"github.com/proerror77/ploy-sub002/internal/coordinator"
	"github.com/proerror77/ploy-sub002/internal/execution"
	"github.com/proerror77/ploy-sub002/internal/governance"
	"github.com/proerror77/ploy-sub002/internal/marketdata"
	"github.com/proerror77/ploy-sub002/internal/monitor"
	"github.com/proerror77/ploy-sub002/internal/nonce"
	"github.com/proerror77/ploy-sub002/internal/persistence"
	"github.com/proerror77/ploy-sub002/internal/recovery"
	"github.com/proerror77/ploy-sub002/internal/risk"
	"github.com/proerror77/ploy-sub002/internal/router"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	flag.Parse()

	logger := initLogger("INFO")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger = initLogger(cfg.System.LogLevel)
	logger.Info("configuration loaded", "instance_id", cfg.System.InstanceID)

	configureRuntime(cfg.Runtime, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	reg := prometheus.DefaultRegisterer
	metrics := monitor.NewMetrics(reg)

	tracerShutdown, err := monitor.InitTracer(cfg.System.InstanceID, logger)
	if err != nil {
		logger.Warn("failed to initialize tracer", "error", err)
	}

	alertMgr := monitor.NewAlertManager([]string{"log"}, logger)

	// Durable state is load-bearing: no store, no trading.
	pgStore, err := persistence.NewPostgresStore(ctx, cfg.Persistence.StoreDSN, cfg.Persistence.PoolSize, logger)
	if err != nil {
		logger.Error("failed to connect to durable store", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()

	if err := pgStore.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	sqliteStore, err := persistence.NewSQLiteStore(cfg.Persistence.CheckpointDB, logger)
	if err != nil {
		logger.Error("failed to initialize checkpoint store", "error", err)
		os.Exit(1)
	}
	defer sqliteStore.Close()

	asyncWriter := persistence.NewAsyncWriter(sqliteStore, pgStore, cfg.Persistence.WriteBufferSize, logger)
	asyncWriter.Run()

	executor := execution.NewRateLimitedExecutor(
		execution.NewSimulatedExecutor(50*time.Millisecond, 0, logger),
		cfg.Coordinator.SubmitRateCapacity,
		cfg.Coordinator.SubmitRatePerSecond,
	)

	// Recovery runs before anything can trade. Unresolved state without
	// auto-reconcile means an operator has to look first.
	scanner := recovery.NewScanner(pgStore, executor, cfg.Nonce.Wallet, &cfg.Recovery, logger)
	summary, err := scanner.Run(ctx)
	if err != nil {
		logger.Error("recovery scan failed, refusing to start", "error", err)
		os.Exit(1)
	}
	summary.Log(logger)
	metrics.RecoveryIncompleteCycles.Set(float64(len(summary.IncompleteCycles)))
	metrics.RecoveryOrphanedOrders.Set(float64(len(summary.OrphanedOrders)))

	if summary.NeedsRecovery() {
		alertMgr.RecoveryFound(len(summary.IncompleteCycles), len(summary.OrphanedOrders))
		if !cfg.Recovery.AutoReconcile {
			logger.Error("unresolved state found and auto_reconcile is off, refusing to start")
			os.Exit(1)
		}
		if err := scanner.Reconcile(ctx, summary); err != nil {
			logger.Error("reconciliation failed, refusing to start", "error", err)
			os.Exit(1)
		}
		logger.Info("reconciliation complete")
	}

	govMgr := governance.NewManager(governance.FromConfig(&cfg.Governance), pgStore, logger)
	if err := govMgr.Load(ctx); err != nil {
		logger.Error("failed to load governance policy", "error", err)
		os.Exit(1)
	}

	riskMgr := risk.NewManager(&cfg.Risk, "data/haltlatch.json", logger)
	if !riskMgr.CanTrade() {
		logger.Warn("HALT LATCH IS ACTIVE - trading stays halted until manually reset")
		alertMgr.RiskHalted("halt latch active at startup")
	}

	brk := breaker.New(&cfg.Breaker, logger)

	nonceMgr := nonce.NewManager(pgStore, cfg.Nonce.Wallet, logger)
	current, err := nonceMgr.Recover(ctx)
	if err != nil {
		logger.Error("failed to recover nonce state", "error", err)
		os.Exit(1)
	}
	logger.Info("nonce state recovered", "current_nonce", current)

	coord := coordinator.New(&cfg.Coordinator, govMgr, riskMgr, brk, nonceMgr, executor, asyncWriter, metrics, logger)

	agentRouter := router.New(metrics, logger)

	mdService := marketdata.NewService(
		agentRouter,
		coord,
		cfg.Breaker.QuoteStaleness(),
		cfg.MarketData.StaleWarnInterval(),
		logger,
	)
	coord.SetQuoteSource(mdService)

	var feed *marketdata.WSFeed
	if cfg.MarketData.WsURL != "" {
		feed = marketdata.NewWSFeed(&cfg.MarketData, mdService, metrics, logger)
		go func() {
			if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("market data feed stopped", "error", err)
			}
		}()
	}

	go coord.Run(ctx)
	go mdService.RunStalenessMonitor(ctx)
	go runBreakerWatchdog(ctx, brk, mdService, feed, metrics, alertMgr, logger)
	go runCheckpointer(ctx, riskMgr, brk, asyncWriter, cfg.Persistence.CheckpointInterval(), logger)
	go runNonceJanitor(ctx, nonceMgr, cfg.Nonce.CleanupAfter(), metrics, logger)

	go startMetricsServer(cfg.Monitoring.MetricsAddr, logger)

	if err := config.WatchAndReload(*configPath, func(newCfg *config.Config) {
		logger.Info("configuration reloaded")
	}); err != nil {
		logger.Warn("config hot-reload setup failed", "error", err)
	}

	logger.Info("system started successfully",
		"instance_id", cfg.System.InstanceID,
		"wallet", cfg.Nonce.Wallet,
	)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	coord.Shutdown("process exit")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	agentRouter.StopAll(shutdownCtx)
	asyncWriter.Stop()

	if tracerShutdown != nil {
		if err := tracerShutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down tracer", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

func initLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "DEBUG":
		logLevel = slog.LevelDebug
	case "INFO":
		logLevel = slog.LevelInfo
	case "WARN":
		logLevel = slog.LevelWarn
	case "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func configureRuntime(cfg config.RuntimeConfig, logger *slog.Logger) {
	if cfg.GoMaxProcs > 0 {
		runtime.GOMAXPROCS(cfg.GoMaxProcs)
	}
	logger.Info("runtime configured",
		"GOMAXPROCS", runtime.GOMAXPROCS(0),
		"GOGC", cfg.GOGC,
		"GOMEMLIMIT", cfg.GoMemLimit,
	)

	if cfg.GOGC > 0 {
		debug.SetGCPercent(cfg.GOGC)
	}
}

// runBreakerWatchdog feeds the breaker's data-health checks and mirrors
// breaker and risk state into metrics.
func runBreakerWatchdog(
	ctx context.Context,
	brk *breaker.Breaker,
	mdService *marketdata.Service,
	feed *marketdata.WSFeed,
	metrics *monitor.Metrics,
	alertMgr *monitor.AlertManager,
	logger *slog.Logger,
) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastState := brk.State()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if oldest, ok := mdService.OldestUpdate(); ok {
				brk.CheckQuoteStaleness(oldest)
			}
			if feed != nil {
				if last := feed.LastMessageTime(); !last.IsZero() {
					brk.CheckWebsocketStatus(last)
				}
			}
			for market, age := range mdService.QuoteAges() {
				metrics.QuoteAgeMs.WithLabelValues(market).Set(float64(age.Milliseconds()))
			}

			stats := brk.Stats()
			metrics.BreakerState.Set(breakerStateValue(stats.State))
			if stats.State == breaker.StateOpen && lastState != breaker.StateOpen {
				metrics.BreakerTrips.WithLabelValues(string(stats.TripReason)).Inc()
				alertMgr.BreakerTripped(string(stats.TripReason))
			}
			lastState = stats.State
		}
	}
}

func breakerStateValue(s breaker.State) float64 {
	switch s {
	case breaker.StateClosed:
		return 0
	case breaker.StateHalfOpen:
		return 1
	case breaker.StateOpen:
		return 2
	}
	return -1
}

func runCheckpointer(
	ctx context.Context,
	riskMgr *risk.Manager,
	brk *breaker.Breaker,
	writer *persistence.AsyncWriter,
	interval time.Duration,
	logger *slog.Logger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writer.Write(persistence.WriteRequest{
				Type:    persistence.WriteTypeRiskCheckpoint,
				Payload: riskMgr.GetCheckpointState(),
			})

			stats := brk.Stats()
			writer.Write(persistence.WriteRequest{
				Type: persistence.WriteTypeBreakerSnapshot,
				Payload: persistence.BreakerSnapshot{
					State:               string(stats.State),
					TripReason:          string(stats.TripReason),
					ConsecutiveFailures: stats.ConsecutiveFailures,
					DailyLoss:           stats.DailyLoss,
				},
			})
			logger.Debug("state checkpointed")
		}
	}
}

func runNonceJanitor(
	ctx context.Context,
	nonceMgr *nonce.Manager,
	retention time.Duration,
	metrics *monitor.Metrics,
	logger *slog.Logger,
) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if stats, err := nonceMgr.Stats(ctx); err == nil {
				metrics.NonceGaps.Set(float64(stats.ReleasedCount))
			}

			removed, err := nonceMgr.CleanupOldRecords(ctx, retention)
			if err != nil {
				logger.Error("nonce cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("old nonce records cleaned up", "removed", removed)
			}
		}
	}
}

func startMetricsServer(addr string, logger *slog.Logger) {
	if addr == "" {
		addr = ":9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", monitor.MetricsHandler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	logger.Info("metrics server starting", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", "error", err)
	}
}
