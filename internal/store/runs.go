package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/projectpumpkin/pumpkin/internal/common/config"
	"github.com/projectpumpkin/pumpkin/pkg/types"
)

type runIDKey struct{}

// WithRunID attaches an explicit run id to the context.
func WithRunID(ctx context.Context, runID int64) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// CreateRun inserts a new run in RUNNING state and returns its identifiers.
func (s *Store) CreateRun(ctx context.Context, totalURLs, workers int, notes string) (int64, string, error) {
	runUUID := uuid.New().String()

	var notesVal *string
	if notes != "" {
		notesVal = &notes
	}

	var id int64
	err := s.Pool().QueryRow(ctx, `
		INSERT INTO runs (uuid, total_urls, parallel_workers, notes)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		runUUID, totalURLs, workers, notesVal).Scan(&id)
	if err != nil {
		if isConnectionError(err) {
			if rerr := s.reconnect(ctx); rerr != nil {
				return 0, "", rerr
			}
			err = s.Pool().QueryRow(ctx, `
				INSERT INTO runs (uuid, total_urls, parallel_workers, notes)
				VALUES ($1, $2, $3, $4)
				RETURNING id`,
				runUUID, totalURLs, workers, notesVal).Scan(&id)
		}
		if err != nil {
			return 0, "", fmt.Errorf("creating run: %w", err)
		}
	}

	s.logger.Info("Run created",
		zap.Int64("run_id", id),
		zap.String("run_uuid", runUUID),
		zap.Int("total_urls", totalURLs),
		zap.Int("workers", workers))
	return id, runUUID, nil
}

// FinalizeRun transitions a RUNNING run to its terminal state based on the
// scheduler outcome and the trigger-maintained failed counter. The guarded
// UPDATE makes the RUNNING -> terminal transition strict: finalizing an
// already-terminal run returns ErrRunFinalized.
func (s *Store) FinalizeRun(ctx context.Context, runID int64, durationMs int64, outcome types.Outcome) (types.RunStatus, error) {
	var failed int
	err := s.Pool().QueryRow(ctx,
		`SELECT failed FROM runs WHERE id = $1`, runID).Scan(&failed)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: run %d", ErrRunMissing, runID)
	}
	if err != nil {
		return "", fmt.Errorf("reading run counters: %w", err)
	}

	status := types.RunStatusPartial
	if outcome == types.OutcomeAllPassed && failed == 0 {
		status = types.RunStatusCompleted
	}

	tag, err := s.Pool().Exec(ctx, `
		UPDATE runs
		SET status = $1, total_duration_ms = $2
		WHERE id = $3 AND status = 'RUNNING'`,
		string(status), durationMs, runID)
	if err != nil {
		return "", fmt.Errorf("finalizing run %d: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return "", fmt.Errorf("%w: run %d", ErrRunFinalized, runID)
	}

	s.logger.Info("Run finalized",
		zap.Int64("run_id", runID),
		zap.String("status", string(status)),
		zap.Int64("duration_ms", durationMs))
	return status, nil
}

// AbortRun marks a RUNNING run FAILED. Used on SIGINT and dispatch failure.
func (s *Store) AbortRun(ctx context.Context, runID int64, durationMs int64) error {
	tag, err := s.Pool().Exec(ctx, `
		UPDATE runs
		SET status = 'FAILED', total_duration_ms = $1
		WHERE id = $2 AND status = 'RUNNING'`,
		durationMs, runID)
	if err != nil {
		return fmt.Errorf("aborting run %d: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: run %d", ErrRunFinalized, runID)
	}

	s.logger.Warn("Run aborted", zap.Int64("run_id", runID))
	return nil
}

// EnsureRunContext resolves the run id for an ingestion: an explicit context
// value wins, then the TEST_RUN_ID environment variable, then a fresh
// single-URL run is created.
func (s *Store) EnsureRunContext(ctx context.Context, workers int) (int64, error) {
	if id, ok := ctx.Value(runIDKey{}).(int64); ok && id > 0 {
		return id, nil
	}

	if v := os.Getenv(config.EnvTestRunID); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("%w: invalid %s %q", ErrBadRequest, config.EnvTestRunID, v)
		}
		return id, nil
	}

	id, _, err := s.CreateRun(ctx, 1, workers, "single test")
	return id, err
}
