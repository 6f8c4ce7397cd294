package main

import (
	"context"
	"flag"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/projectpumpkin/pumpkin/internal/artifact"
	"github.com/projectpumpkin/pumpkin/internal/common/config"
	logutil "github.com/projectpumpkin/pumpkin/internal/common/logger"
	"github.com/projectpumpkin/pumpkin/internal/reconcile"
	"github.com/projectpumpkin/pumpkin/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("c", "configs/pumpkin.yaml", "Path to configuration file")
	dryRun := flag.Bool("dry-run", false, "Report orphans without deleting")
	flag.Parse()

	initialLogger, err := logutil.NewDefaultLogger()
	if err != nil {
		panic(err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		initialLogger.Error("Configuration invalid", zap.Error(err))
		return 1
	}

	logger, err := logutil.NewLogger(cfg.Log)
	if err != nil {
		initialLogger.Error("Failed to create configured logger", zap.Error(err))
		return 1
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := store.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("Database unreachable, refusing to delete anything", zap.Error(err))
		return 1
	}
	defer db.Close()

	artifacts, err := artifact.NewStore(cfg.ArtifactRoot, cfg.CompressHAR, logger)
	if err != nil {
		logger.Error("Artifact root unusable", zap.Error(err))
		return 1
	}

	result, err := reconcile.New(db, artifacts, logger).Clean(ctx, *dryRun)
	if err != nil {
		logger.Error("Reconciliation failed", zap.Error(err))
		return 1
	}

	logger.Info("Reconciliation complete",
		zap.Bool("dry_run", result.DryRun),
		zap.Int("kept", result.Kept),
		zap.Int("deleted", result.Deleted),
		zap.Strings("orphans", result.Orphans))
	return 0
}
