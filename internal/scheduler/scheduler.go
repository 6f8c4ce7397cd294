// Package scheduler fans URL jobs out to a bounded pool of browser workers
// and funnels their measurements through a single ingest loop. Results may
// be persisted in any order; writes are serialized so no application-level
// locking is needed around the database.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/projectpumpkin/pumpkin/internal/artifact"
	"github.com/projectpumpkin/pumpkin/internal/common/urlutil"
	"github.com/projectpumpkin/pumpkin/internal/harlog"
	"github.com/projectpumpkin/pumpkin/internal/metrics"
	"github.com/projectpumpkin/pumpkin/pkg/types"
)

// Driver measures one URL. Each worker owns exactly one driver, giving
// every job an isolated browser session.
type Driver interface {
	Measure(ctx context.Context, url string, td *artifact.TestDir, store *artifact.Store) (*types.TestMeasurement, error)
	Close()
}

// DriverFactory creates the driver for one worker.
type DriverFactory func(workerID int) (Driver, error)

// Ingestor persists one measurement.
type Ingestor interface {
	InsertUrlTest(ctx context.Context, runID int64, m *types.TestMeasurement) (int64, string, error)
}

// Result summarizes a finished batch for run finalization.
type Result struct {
	DurationMs int64
	Outcome    types.Outcome
	Passed     int
	Failed     int
}

// Scheduler runs one batch of URL jobs.
type Scheduler struct {
	workers     int
	jobDeadline time.Duration

	artifacts *artifact.Store
	analyzer  *harlog.Analyzer
	newDriver DriverFactory
	ingestor  Ingestor
	collector *metrics.Collector
	logger    *zap.Logger

	stopIntake chan struct{}
	stopOnce   sync.Once
}

// New creates a Scheduler with W workers and the per-job deadline.
func New(workers int, jobDeadline time.Duration, artifacts *artifact.Store,
	newDriver DriverFactory, ingestor Ingestor, collector *metrics.Collector, logger *zap.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		workers:     workers,
		jobDeadline: jobDeadline,
		artifacts:   artifacts,
		analyzer:    harlog.NewAnalyzer(logger),
		newDriver:   newDriver,
		ingestor:    ingestor,
		collector:   collector,
		logger:      logger,
		stopIntake:  make(chan struct{}),
	}
}

// StopIntake stops dispatching queued URLs. Jobs already handed to a worker
// run to completion and are ingested normally. Safe to call more than once.
func (s *Scheduler) StopIntake() {
	s.stopOnce.Do(func() { close(s.stopIntake) })
}

// Run drives every URL to an ingested measurement and returns the batch
// outcome. Every job is accounted for: a crash or timeout in a worker
// produces a synthetic ERROR or TIMEOUT row instead of a lost URL. An
// empty URL list completes immediately as allPassed.
func (s *Scheduler) Run(ctx context.Context, runID int64, urls []string) (*Result, error) {
	start := time.Now()

	if len(urls) == 0 {
		s.logger.Info("No URLs to test, completing immediately",
			zap.Int64("run_id", runID))
		return &Result{Outcome: types.OutcomeAllPassed}, nil
	}

	s.logger.Info("Batch started",
		zap.Int64("run_id", runID),
		zap.Int("urls", len(urls)),
		zap.Int("workers", s.workers))

	jobs := make(chan string)
	results := make(chan *types.TestMeasurement, s.workers)

	var active int32
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.runWorker(ctx, workerID, jobs, results, &active)
		}(i)
	}

	// Dispatch stops feeding on cancellation or StopIntake; in-flight jobs
	// still finish
	go func() {
		defer close(jobs)
		for i, url := range urls {
			s.collector.SetQueueDepth(len(urls) - i)
			select {
			case jobs <- url:
			case <-s.stopIntake:
				s.logger.Warn("Intake stopped, draining in-flight jobs",
					zap.Int64("run_id", runID),
					zap.Int("dispatched", i),
					zap.Int("total", len(urls)))
				return
			case <-ctx.Done():
				s.logger.Warn("Dispatch cancelled",
					zap.Int64("run_id", runID),
					zap.Int("dispatched", i),
					zap.Int("total", len(urls)))
				return
			}
		}
		s.collector.SetQueueDepth(0)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	// Single ingest loop serializes all writes
	var passed, failed int
	for m := range results {
		s.enrich(m)
		s.collector.RecordTest(m.Status, float64(m.TestDurationMs)/1000.0)

		if err := s.ingest(ctx, runID, m); err != nil {
			s.collector.RecordIngestFailure()
			s.logger.Error("Measurement could not be persisted",
				zap.Int64("run_id", runID),
				zap.String("url", m.URL),
				zap.Error(err))
			failed++
			continue
		}
		if m.Status == types.TestStatusPassed {
			passed++
		} else {
			failed++
		}
	}

	result := &Result{
		DurationMs: time.Since(start).Milliseconds(),
		Outcome:    outcomeFor(passed, failed),
		Passed:     passed,
		Failed:     failed,
	}

	s.logger.Info("Batch finished",
		zap.Int64("run_id", runID),
		zap.Int("passed", passed),
		zap.Int("failed", failed),
		zap.String("outcome", string(result.Outcome)),
		zap.Int64("duration_ms", result.DurationMs))

	if ctx.Err() != nil && passed+failed < len(urls) {
		return result, fmt.Errorf("batch aborted: %w", ctx.Err())
	}
	return result, nil
}

// runWorker owns one driver and processes jobs until the channel closes.
func (s *Scheduler) runWorker(ctx context.Context, workerID int, jobs <-chan string, results chan<- *types.TestMeasurement, active *int32) {
	driver, err := s.newDriver(workerID)
	if err != nil {
		s.logger.Error("Worker could not create driver, draining jobs as errors",
			zap.Int("worker_id", workerID),
			zap.Error(err))
		for url := range jobs {
			results <- syntheticError(url, fmt.Sprintf("worker %d startup failed: %v", workerID, err))
		}
		return
	}
	defer driver.Close()

	for url := range jobs {
		s.collector.SetWorkersActive(int(atomic.AddInt32(active, 1)))
		m := s.runJob(ctx, workerID, driver, url)
		s.collector.SetWorkersActive(int(atomic.AddInt32(active, -1)))
		results <- m
	}
}

// runJob executes one measurement under the per-job deadline, converting a
// worker panic into a synthetic ERROR measurement.
func (s *Scheduler) runJob(ctx context.Context, workerID int, driver Driver, url string) (m *types.TestMeasurement) {
	var td *artifact.TestDir
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Worker panicked, recording synthetic error",
				zap.Int("worker_id", workerID),
				zap.String("url", url),
				zap.Any("panic", r))
			m = syntheticError(url, fmt.Sprintf("worker panic: %v", r))
			attachArtifacts(m, td)
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, s.jobDeadline)
	defer cancel()

	var err error
	td, err = s.artifacts.AllocateTestDir(url, time.Now().UTC())
	if err != nil {
		s.logger.Error("Artifact directory allocation failed",
			zap.Int("worker_id", workerID),
			zap.String("url", url),
			zap.Error(err))
		return syntheticError(url, fmt.Sprintf("artifact allocation: %v", err))
	}

	m, err = driver.Measure(jobCtx, url, td, s.artifacts)
	if m == nil {
		m = syntheticError(url, fmt.Sprintf("driver returned no measurement: %v", err))
		attachArtifacts(m, td)
	}
	return m
}

// enrich derives the HAR-based histogram and totals before ingestion. A
// TIMEOUT or ERROR measurement keeps empty maps when its HAR is unusable.
func (s *Scheduler) enrich(m *types.TestMeasurement) {
	if m.HARPath == "" {
		return
	}
	analysis := s.analyzer.AnalyzeFile(m.HARPath)
	if len(analysis.HTTPResponseCodes) > 0 {
		m.HTTPResponseCodes = analysis.HTTPResponseCodes
	}
}

// ingest persists the measurement; a persistence failure gets one fallback
// attempt as a stripped FAILED row so the run still accounts for the URL.
func (s *Scheduler) ingest(ctx context.Context, runID int64, m *types.TestMeasurement) error {
	_, _, err := s.ingestor.InsertUrlTest(ctx, runID, m)
	if err == nil {
		return nil
	}

	fallback := &types.TestMeasurement{
		URL:            m.URL,
		Domain:         m.Domain,
		Status:         types.TestStatusFailed,
		Error:          fmt.Sprintf("ingest failed: %v", err),
		Timestamp:      m.Timestamp,
		ScreenshotPath: m.ScreenshotPath,
		HARPath:        m.HARPath,
	}
	if _, _, ferr := s.ingestor.InsertUrlTest(ctx, runID, fallback); ferr != nil {
		return err
	}

	// The URL counts against the run even though its row went in stripped
	m.Status = types.TestStatusFailed
	s.logger.Warn("Measurement persisted as FAILED after ingest error",
		zap.Int64("run_id", runID),
		zap.String("url", m.URL),
		zap.Error(err))
	return nil
}

// syntheticError accounts for a URL whose measurement never materialized.
// The domain is still derived so domain-keyed queries see the row.
func syntheticError(url, message string) *types.TestMeasurement {
	return &types.TestMeasurement{
		URL:       url,
		Domain:    urlutil.ExtractDomain(url),
		Status:    types.TestStatusError,
		Error:     message,
		Timestamp: time.Now().UTC(),
	}
}

// attachArtifacts links a synthetic measurement to its allocated directory
// so the row and the on-disk artifacts stay mutually resolvable.
func attachArtifacts(m *types.TestMeasurement, td *artifact.TestDir) {
	if td == nil {
		return
	}
	m.ScreenshotPath = td.ScreenshotPath
	m.HARPath = td.HARPath
}

func outcomeFor(passed, failed int) types.Outcome {
	switch {
	case failed == 0:
		return types.OutcomeAllPassed
	case passed == 0:
		return types.OutcomeNoneCompleted
	default:
		return types.OutcomeSomePassed
	}
}
