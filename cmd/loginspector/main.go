// Package main provides the entry point for the log inspector service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devrev/loginspector/internal/config"
	apierrors "github.com/devrev/loginspector/internal/errors"
	"github.com/devrev/loginspector/internal/handler"
	"github.com/devrev/loginspector/internal/health"
	"github.com/devrev/loginspector/internal/metrics"
	"github.com/devrev/loginspector/internal/model"
	"github.com/devrev/loginspector/internal/server"
	"github.com/devrev/loginspector/internal/service"
	"github.com/devrev/loginspector/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	flag.Parse()

	// bootstrap logger until the configuration is known
	logger := initLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), "stdout")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	if *printConfig {
		out, err := cfg.YAML()
		if err != nil {
			logger.Fatal("failed to render configuration", zap.Error(err))
		}
		fmt.Print(string(out))
		return
	}

	logger.Sync()
	logger = initLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer logger.Sync()

	logger.Info("starting log inspector")
	logger.Info("configuration loaded",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("store_namespace", cfg.Store.Namespace),
	)

	m := metrics.NewMetrics()

	startCtx, cancelStart := context.WithTimeout(context.Background(), startupTimeout(cfg))
	manager, err := store.Open(startCtx, cfg.Store.ConnectionConfig(), logger)
	if err != nil {
		cancelStart()
		logger.Fatal("failed to open store", zap.Error(err))
	}
	manager.Router().SetObserver(m.RecordProvisioning)
	manager.Start(startCtx)
	cancelStart()

	logger.Info("store ready", zap.String("driver", manager.Driver()))

	checks := map[string]health.Pinger{"store": manager}

	var idempotency *service.IdempotencyService
	if cfg.Idempotency.Enabled {
		idemStore, err := newIdempotencyStore(cfg.Idempotency, logger)
		if err != nil {
			logger.Fatal("failed to create idempotency store", zap.Error(err))
		}
		defer idemStore.Close()
		idempotency = service.NewIdempotencyService(idemStore, cfg.Idempotency.TTL, m, logger)
		if cfg.Idempotency.Backend == "redis" {
			checks["idempotency"] = idempotency
		}
	}

	ingest := service.NewIngestService(manager, manager.Router(), m, logger)
	query := service.NewQueryService(manager, service.QueryConfig{
		PageSize:      cfg.Query.PageSize,
		KeywordScope:  model.KeywordScope(cfg.Query.KeywordScope),
		CaseSensitive: cfg.Query.CaseSensitive,
	}, m, logger)
	nodes := service.NewNodeService(manager, service.NodeConfig{
		PageSize: cfg.Inspector.PageSize,
		Levels:   cfg.Inspector.Levels,
	}, m, logger)

	errorHandler := apierrors.NewHandler(logger)
	handlers := handler.NewHandlers(ingest, query, nodes, idempotency, errorHandler, logger, cfg.Server)

	runCtx, stopChecks := context.WithCancel(context.Background())
	defer stopChecks()

	healthCheck := health.NewHealthCheck(checks, cfg.Health.CheckInterval, logger)
	healthCheck.OnChange(m.SetHealthStatus)
	go healthCheck.Run(runCtx)

	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
		logger.Info("metrics server started",
			zap.Int("port", cfg.Metrics.Port),
			zap.String("path", cfg.Metrics.Path),
		)
	}

	httpServer := server.NewServer(cfg, handlers, healthCheck, errorHandler, m, logger)

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		logger.Error("server error", zap.Error(err))
	}

	logger.Info("initiating graceful shutdown")
	stopChecks()
	healthCheck.SetReady(false)
	m.SetHealthStatus(false)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown HTTP server", zap.Error(err))
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown metrics server", zap.Error(err))
		}
	}

	if err := manager.Close(ctx); err != nil {
		logger.Error("failed to close store", zap.Error(err))
	}

	logger.Info("log inspector shutdown complete")
}

// newIdempotencyStore builds the configured acknowledgment store
func newIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (store.IdempotencyStore, error) {
	switch cfg.Backend {
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return store.NewRedisIdempotencyStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	default:
		return store.NewMemoryIdempotencyStore(cfg.MaxKeys, time.Minute, logger), nil
	}
}

// startupTimeout bounds connecting and bootstrap provisioning
func startupTimeout(cfg *config.Config) time.Duration {
	timeout := cfg.Store.ConnectTimeout + cfg.Store.HeartbeatConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return timeout
}

// initLogger initializes the zap logger.
func initLogger(logLevel, logFormat, output string) *zap.Logger {
	var level zapcore.Level
	switch logLevel {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var config zap.Config
	if logFormat == "console" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}

	if output == "" {
		output = "stdout"
	}
	config.Level = zap.NewAtomicLevelAt(level)
	config.OutputPaths = []string{output}
	config.ErrorOutputPaths = []string{"stderr"}

	logger, err := config.Build()
	if err != nil {
		// Fallback to basic logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
