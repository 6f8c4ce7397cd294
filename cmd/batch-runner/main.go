package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/projectpumpkin/pumpkin/internal/artifact"
	"github.com/projectpumpkin/pumpkin/internal/browser"
	"github.com/projectpumpkin/pumpkin/internal/common/config"
	logutil "github.com/projectpumpkin/pumpkin/internal/common/logger"
	"github.com/projectpumpkin/pumpkin/internal/common/urlutil"
	"github.com/projectpumpkin/pumpkin/internal/metrics"
	"github.com/projectpumpkin/pumpkin/internal/scheduler"
	"github.com/projectpumpkin/pumpkin/internal/store"
	"github.com/projectpumpkin/pumpkin/pkg/types"
)

const abortGracePeriod = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("c", "configs/pumpkin.yaml", "Path to configuration file")
	singleURL := flag.String("url", "", "Measure a single URL instead of the batch file")
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

	workers := cfg.ResolveWorkers()
	logger.Info("Batch runner starting",
		zap.Int("workers", workers),
		zap.String("artifact_root", cfg.ArtifactRoot))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("Database unreachable", zap.Error(err))
		return 1
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("Schema migration failed", zap.Error(err))
		return 1
	}

	artifacts, err := artifact.NewStore(cfg.ArtifactRoot, cfg.CompressHAR, logger)
	if err != nil {
		logger.Error("Artifact root unusable", zap.Error(err))
		return 1
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
	}
	metricsServer := metrics.StartServer(cfg.Metrics.Enabled, cfg.Metrics.Listen,
		cfg.Metrics.Path, collector, logger)

	urls, runID, err := resolveWork(ctx, cfg, db, *singleURL, workers, logger)
	if err != nil {
		logger.Error("Could not prepare run", zap.Error(err))
		return 1
	}

	browserConfig := browser.FromAppConfig(cfg.Browser)
	factory := func(workerID int) (scheduler.Driver, error) {
		return browser.NewInstance(workerID, browserConfig, logger)
	}

	sched := scheduler.New(workers, cfg.Browser.JobDeadline.Std(), artifacts,
		factory, db, collector, logger)

	// SIGINT stops intake at once; in-flight jobs get a grace period before
	// the run is finalized as FAILED.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	interrupted := make(chan struct{})
	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		logger.Warn("Received shutdown signal, draining in-flight jobs",
			zap.String("signal", sig.String()),
			zap.Duration("grace", abortGracePeriod))
		sched.StopIntake()
		close(interrupted)
		time.Sleep(abortGracePeriod)
		cancel()
	}()

	start := time.Now()
	result, runErr := sched.Run(ctx, runID, urls)
	signal.Stop(sigCh)
	close(sigCh)

	aborted := runErr != nil || wasInterrupted(interrupted)
	exitCode := finalize(db, runID, result, start, aborted, logger)

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsServer.ShutdownWithContext(shutdownCtx)
		shutdownCancel()
	}

	return exitCode
}

// runCreator is the slice of the store that resolveWork needs.
type runCreator interface {
	CreateRun(ctx context.Context, totalURLs, workers int, notes string) (int64, string, error)
	EnsureRunContext(ctx context.Context, workers int) (int64, error)
}

// resolveWork determines the URL set and the run id, creating a run when
// needed. Single-URL mode attributes to TEST_RUN_ID when set. An empty URL
// file still creates a run: it finalizes COMPLETED with zero counters.
func resolveWork(ctx context.Context, cfg *config.Config, db runCreator,
	singleURL string, workers int, logger *zap.Logger) ([]string, int64, error) {
	if singleURL == "" {
		singleURL = os.Getenv(config.EnvTestURL)
	}

	if singleURL != "" {
		if !urlutil.HasHTTPScheme(singleURL) {
			return nil, 0, fmt.Errorf("url must start with http:// or https://: %q", singleURL)
		}
		runID, err := db.EnsureRunContext(ctx, workers)
		if err != nil {
			return nil, 0, err
		}
		return []string{singleURL}, runID, nil
	}

	urls, err := readURLFile(cfg.URLFile, logger)
	if err != nil {
		return nil, 0, err
	}
	if len(urls) == 0 {
		logger.Warn("URL file has no valid URLs, run will complete empty",
			zap.String("file", cfg.URLFile))
	}

	runID, _, err := db.CreateRun(ctx, len(urls), workers, "")
	if err != nil {
		return nil, 0, err
	}
	logger.Info("Run created",
		zap.Int64("run_id", runID),
		zap.Int("total_urls", len(urls)))
	return urls, runID, nil
}

// readURLFile parses the one-URL-per-line input. Lines are trimmed, empty
// lines skipped, and anything without an http scheme is rejected with a
// warning rather than failing the whole batch.
func readURLFile(path string, logger *zap.Logger) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening URL file: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !urlutil.HasHTTPScheme(line) {
			logger.Warn("Skipping line without http scheme",
				zap.String("file", path),
				zap.Int("line", lineNo),
				zap.String("content", line))
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading URL file: %w", err)
	}
	return urls, nil
}

func wasInterrupted(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// finalize records the terminal run status and maps the outcome to the
// process exit code: 0 only for allPassed.
func finalize(db *store.Store, runID int64, result *scheduler.Result,
	start time.Time, aborted bool, logger *zap.Logger) int {
	finalizeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	durationMs := time.Since(start).Milliseconds()
	if result != nil && result.DurationMs > 0 {
		durationMs = result.DurationMs
	}

	if aborted {
		if err := db.AbortRun(finalizeCtx, runID, durationMs); err != nil {
			logger.Error("Run could not be marked FAILED",
				zap.Int64("run_id", runID),
				zap.Error(err))
		}
		logger.Warn("Run aborted", zap.Int64("run_id", runID))
		return 1
	}

	status, err := db.FinalizeRun(finalizeCtx, runID, durationMs, result.Outcome)
	if err != nil {
		logger.Error("Run finalization failed",
			zap.Int64("run_id", runID),
			zap.Error(err))
		return 1
	}

	logger.Info("Run finalized",
		zap.Int64("run_id", runID),
		zap.String("status", string(status)),
		zap.Int("passed", result.Passed),
		zap.Int("failed", result.Failed),
		zap.Int64("duration_ms", durationMs))

	if result.Outcome == types.OutcomeAllPassed {
		return 0
	}
	return 1
}
