package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/projectpumpkin/pumpkin/internal/api"
	"github.com/projectpumpkin/pumpkin/internal/common/config"
	logutil "github.com/projectpumpkin/pumpkin/internal/common/logger"
	"github.com/projectpumpkin/pumpkin/internal/metrics"
	"github.com/projectpumpkin/pumpkin/internal/querycache"
	"github.com/projectpumpkin/pumpkin/internal/store"
)

func main() {
	configPath := flag.String("c", "configs/pumpkin.yaml", "Path to configuration file")
	dashboardRoot := flag.String("dashboard", "web/dashboard", "Static dashboard directory (empty to disable)")
	flag.Parse()

	initialLogger, err := logutil.NewDefaultLogger()
	if err != nil {
		panic(err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		initialLogger.Fatal("Configuration invalid", zap.Error(err))
	}

	logger, err := logutil.NewLogger(cfg.Log)
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}
	defer logger.Sync()

	logger.Info("API server starting",
		zap.Int("port", cfg.Port),
		zap.String("artifact_root", cfg.ArtifactRoot))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := store.Connect(ctx, cfg.DatabaseURL, logger)
	cancel()
	if err != nil {
		logger.Fatal("Database unreachable", zap.Error(err))
	}
	defer db.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 60*time.Second)
	err = db.Migrate(migrateCtx)
	migrateCancel()
	if err != nil {
		logger.Fatal("Schema migration failed", zap.Error(err))
	}

	cache, err := querycache.New(&cfg.Redis, logger)
	if err != nil {
		logger.Fatal("Query cache unavailable", zap.Error(err))
	}
	defer cache.Close()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
	}
	metricsServer := metrics.StartServer(cfg.Metrics.Enabled, cfg.Metrics.Listen,
		cfg.Metrics.Path, collector, logger)

	apiServer := api.NewServer(db, cache, collector, *dashboardRoot, cfg.ArtifactRoot, logger)
	server := apiServer.NewHTTPServer()

	listen := fmt.Sprintf(":%d", cfg.Port)
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", zap.String("addr", listen))
		if err := server.ListenAndServe(listen); err != nil {
			serverErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErrCh:
		logger.Fatal("HTTP server failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	if metricsServer != nil {
		metricsCtx, metricsCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.ShutdownWithContext(metricsCtx); err != nil {
			logger.Error("Metrics server shutdown error", zap.Error(err))
		}
		metricsCancel()
	}

	logger.Info("API server stopped")
}
