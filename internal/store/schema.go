package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const schemaVersion = "3"

// schemaDDL is executed statement by statement at startup. Everything is
// idempotent so repeated boots against the same database are safe.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id BIGSERIAL PRIMARY KEY,
		uuid UUID NOT NULL UNIQUE,
		run_timestamp TIMESTAMPTZ NOT NULL DEFAULT (now() AT TIME ZONE 'utc'),
		total_urls INTEGER NOT NULL DEFAULT 0,
		parallel_workers INTEGER NOT NULL DEFAULT 1,
		total_duration_ms BIGINT,
		passed INTEGER NOT NULL DEFAULT 0 CHECK (passed >= 0),
		failed INTEGER NOT NULL DEFAULT 0 CHECK (failed >= 0),
		status TEXT NOT NULL DEFAULT 'RUNNING'
			CHECK (status IN ('RUNNING', 'COMPLETED', 'PARTIAL', 'FAILED')),
		notes TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT (now() AT TIME ZONE 'utc'),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT (now() AT TIME ZONE 'utc')
	)`,

	`CREATE TABLE IF NOT EXISTS url_tests (
		id BIGSERIAL PRIMARY KEY,
		uuid UUID NOT NULL UNIQUE,
		test_run_id BIGINT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		url VARCHAR(2048) NOT NULL,
		domain VARCHAR(512) NOT NULL,
		browser TEXT,
		user_agent TEXT,
		page_title TEXT,
		status TEXT NOT NULL
			CHECK (status IN ('PASSED', 'FAILED', 'TIMEOUT', 'ERROR')),
		error_message TEXT,
		test_timestamp TIMESTAMPTZ NOT NULL DEFAULT (now() AT TIME ZONE 'utc'),
		test_duration_ms BIGINT,
		scroll_duration_ms BIGINT,
		dns_lookup_ms NUMERIC(10,2),
		tcp_connection_ms NUMERIC(10,2),
		tls_negotiation_ms NUMERIC(10,2),
		time_to_first_byte_ms NUMERIC(10,2),
		response_time_ms NUMERIC(10,2),
		dom_content_loaded_ms NUMERIC(10,2),
		dom_interactive_ms NUMERIC(10,2),
		total_page_load_ms NUMERIC(10,2),
		doc_transfer_size BIGINT,
		doc_encoded_size BIGINT,
		doc_decoded_size BIGINT,
		total_resources INTEGER NOT NULL DEFAULT 0,
		total_transfer_size BIGINT NOT NULL DEFAULT 0,
		total_encoded_size BIGINT NOT NULL DEFAULT 0,
		resources_by_type JSONB NOT NULL DEFAULT '{}'::jsonb,
		http_response_codes JSONB NOT NULL DEFAULT '{}'::jsonb,
		screenshot_path TEXT NOT NULL,
		har_path TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT (now() AT TIME ZONE 'utc')
	)`,

	`CREATE TABLE IF NOT EXISTS status_histogram (
		id BIGSERIAL PRIMARY KEY,
		url_test_id BIGINT NOT NULL REFERENCES url_tests(id) ON DELETE CASCADE,
		status_code INTEGER NOT NULL,
		response_count INTEGER NOT NULL CHECK (response_count >= 0)
	)`,

	`CREATE TABLE IF NOT EXISTS resource_types (
		id BIGSERIAL PRIMARY KEY,
		url_test_id BIGINT NOT NULL REFERENCES url_tests(id) ON DELETE CASCADE,
		resource_type TEXT NOT NULL,
		resource_count INTEGER NOT NULL CHECK (resource_count >= 0)
	)`,

	`CREATE TABLE IF NOT EXISTS schema_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT (now() AT TIME ZONE 'utc')
	)`,

	// Counter trigger: the single source of truth for runs.passed/failed.
	`CREATE OR REPLACE FUNCTION pumpkin_count_url_test() RETURNS trigger AS $$
	BEGIN
		IF NEW.status = 'PASSED' THEN
			UPDATE runs SET passed = passed + 1 WHERE id = NEW.test_run_id;
		ELSE
			UPDATE runs SET failed = failed + 1 WHERE id = NEW.test_run_id;
		END IF;
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,

	`DROP TRIGGER IF EXISTS url_tests_counter ON url_tests`,

	`CREATE TRIGGER url_tests_counter
		AFTER INSERT ON url_tests
		FOR EACH ROW EXECUTE FUNCTION pumpkin_count_url_test()`,

	`CREATE OR REPLACE FUNCTION pumpkin_touch_run() RETURNS trigger AS $$
	BEGIN
		NEW.updated_at = now() AT TIME ZONE 'utc';
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,

	`DROP TRIGGER IF EXISTS runs_touch_updated_at ON runs`,

	`CREATE TRIGGER runs_touch_updated_at
		BEFORE UPDATE ON runs
		FOR EACH ROW EXECUTE FUNCTION pumpkin_touch_run()`,

	`CREATE INDEX IF NOT EXISTS idx_runs_timestamp ON runs (run_timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_url_tests_run ON url_tests (test_run_id)`,
	`CREATE INDEX IF NOT EXISTS idx_url_tests_timestamp ON url_tests (test_timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_url_tests_domain ON url_tests (domain)`,
	`CREATE INDEX IF NOT EXISTS idx_url_tests_status ON url_tests (status)`,
	`CREATE INDEX IF NOT EXISTS idx_url_tests_page_load ON url_tests (total_page_load_ms)`,
	`CREATE INDEX IF NOT EXISTS idx_url_tests_ttfb ON url_tests (time_to_first_byte_ms)`,
	`CREATE INDEX IF NOT EXISTS idx_url_tests_http_codes
		ON url_tests USING GIN (http_response_codes)`,
	`CREATE INDEX IF NOT EXISTS idx_status_histogram_test ON status_histogram (url_test_id)`,
	`CREATE INDEX IF NOT EXISTS idx_resource_types_test ON resource_types (url_test_id)`,

	`CREATE OR REPLACE VIEW v_latest_test_run AS
		SELECT r.*,
			COUNT(t.id) AS tests_completed,
			AVG(t.total_page_load_ms) AS avg_page_load_ms,
			AVG(t.time_to_first_byte_ms) AS avg_ttfb_ms
		FROM runs r
		LEFT JOIN url_tests t ON t.test_run_id = r.id
		GROUP BY r.id
		ORDER BY r.run_timestamp DESC
		LIMIT 1`,

	`CREATE OR REPLACE VIEW v_performance_trends AS
		SELECT t.id, t.uuid, t.test_run_id, t.url, t.domain, t.status,
			t.test_timestamp, t.total_page_load_ms, t.time_to_first_byte_ms,
			t.dom_content_loaded_ms, t.total_transfer_size,
			r.run_timestamp, r.status AS run_status
		FROM url_tests t
		JOIN runs r ON r.id = t.test_run_id`,

	`CREATE OR REPLACE VIEW v_tests_with_errors AS
		SELECT t.*
		FROM url_tests t
		WHERE t.status <> 'PASSED'
			OR EXISTS (
				SELECT 1 FROM jsonb_object_keys(t.http_response_codes) AS code
				WHERE code ~ '^[45][0-9][0-9]$'
			)`,
}

// Migrate applies the schema and records the version.
func (s *Store) Migrate(ctx context.Context) error {
	pool := s.Pool()

	for i, stmt := range schemaDDL {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d failed: %w", i, err)
		}
	}

	_, err := pool.Exec(ctx, `
		INSERT INTO schema_metadata (key, value) VALUES ('schema_version', $1)
		ON CONFLICT (key) DO UPDATE
			SET value = EXCLUDED.value, applied_at = now() AT TIME ZONE 'utc'`,
		schemaVersion)
	if err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}

	s.logger.Info("Schema migrated", zap.String("version", schemaVersion))
	return nil
}
