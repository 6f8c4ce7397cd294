// Package store is the Postgres persistence layer: run lifecycle, atomic
// url_test ingestion, and the read-only query surface behind the API. The
// passed/failed counters on runs are maintained exclusively by a database
// trigger; application code never computes them.
package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

// Store wraps a pgx connection pool. One transparent reconnect is attempted
// when a connection-class error surfaces mid-operation.
type Store struct {
	mu     sync.Mutex
	pool   *pgxpool.Pool
	dsn    string
	logger *zap.Logger
}

// Connect opens a pool against dsn, retrying a few times so the batch
// runner survives a database that is still starting up.
func Connect(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pool, err := pgxpool.New(ctx, dsn)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				logger.Info("Database connected",
					zap.Int("attempt", attempt))
				return &Store{pool: pool, dsn: dsn, logger: logger}, nil
			}
			pool.Close()
		}
		lastErr = err
		logger.Warn("Database connection failed",
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-time.After(connectBackoff):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrDatabaseUnavailable, ctx.Err())
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrDatabaseUnavailable, lastErr)
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	pool := s.pool
	s.mu.Unlock()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseUnavailable, err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		s.pool.Close()
	}
}

// Pool returns the current pool for query execution.
func (s *Store) Pool() *pgxpool.Pool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool
}

// reconnect replaces the pool after a connection-class failure. Callers get
// exactly one retry; a second failure propagates.
func (s *Store) reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Warn("Reconnecting to database after connection error")
	if s.pool != nil {
		s.pool.Close()
	}

	pool, err := pgxpool.New(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("%w: %v", ErrDatabaseUnavailable, err)
	}
	s.pool = pool
	s.logger.Info("Database reconnected")
	return nil
}

// isConnectionError reports whether err is a connection-class failure that
// warrants the single transparent reconnect.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exceptions, 57P01: admin shutdown
		return len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" ||
			pgErr.Code == "57P01"
	}

	return pgconn.SafeToRetry(err)
}

// isUniqueViolation reports a duplicate-key failure.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isForeignKeyViolation reports a missing-parent failure.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
