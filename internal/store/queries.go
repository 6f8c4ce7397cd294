package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	defaultLimit = 20
	maxLimit     = 500
)

// tzPattern accepts IANA Area/Location names or the literal UTC.
var tzPattern = regexp.MustCompile(`^[A-Za-z_]+/[A-Za-z_]+$|^UTC$`)

// datePattern accepts YYYY-MM-DD.
var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ValidateTimezone rejects timezone input that does not match the contract.
func ValidateTimezone(tz string) error {
	if !tzPattern.MatchString(tz) {
		return fmt.Errorf("%w: invalid timezone %q", ErrBadRequest, tz)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

const runColumns = `id, uuid, run_timestamp, total_urls, parallel_workers,
	total_duration_ms, passed, failed, status, notes, created_at, updated_at`

func scanRun(row pgx.Row) (*RunSummary, error) {
	var r RunSummary
	err := row.Scan(&r.ID, &r.UUID, &r.RunTimestamp, &r.TotalURLs,
		&r.ParallelWorkers, &r.TotalDurationMs, &r.Passed, &r.Failed,
		&r.Status, &r.Notes, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetLatestRun returns the most recent run with its test aggregates, or
// ErrNotFound when no run exists.
func (s *Store) GetLatestRun(ctx context.Context) (*LatestRun, error) {
	var r LatestRun
	err := s.Pool().QueryRow(ctx, `
		SELECT `+runColumns+`, tests_completed, avg_page_load_ms, avg_ttfb_ms
		FROM v_latest_test_run`).Scan(
		&r.ID, &r.UUID, &r.RunTimestamp, &r.TotalURLs, &r.ParallelWorkers,
		&r.TotalDurationMs, &r.Passed, &r.Failed, &r.Status, &r.Notes,
		&r.CreatedAt, &r.UpdatedAt,
		&r.TestsCompleted, &r.AvgPageLoadMs, &r.AvgTTFBMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest run: %w", err)
	}
	return &r, nil
}

// ListRuns returns run summaries newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*RunSummary, error) {
	rows, err := s.Pool().Query(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY run_timestamp DESC
		LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// GetRun returns one run summary by id.
func (s *Store) GetRun(ctx context.Context, id int64) (*RunSummary, error) {
	r, err := scanRun(s.Pool().QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %d: %w", id, err)
	}
	return r, nil
}

const testSummaryColumns = `id, uuid, test_run_id, url, domain, status,
	test_timestamp, test_duration_ms, total_page_load_ms,
	time_to_first_byte_ms, screenshot_path`

func collectTestSummaries(rows pgx.Rows) ([]*UrlTestSummary, error) {
	var out []*UrlTestSummary
	for rows.Next() {
		var t UrlTestSummary
		if err := rows.Scan(&t.ID, &t.UUID, &t.TestRunID, &t.URL, &t.Domain,
			&t.Status, &t.TestTimestamp, &t.TestDurationMs,
			&t.TotalPageLoadMs, &t.TimeToFirstByteMs, &t.ScreenshotPath); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func collectRuns(rows pgx.Rows) ([]*RunSummary, error) {
	var out []*RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.UUID, &r.RunTimestamp, &r.TotalURLs,
			&r.ParallelWorkers, &r.TotalDurationMs, &r.Passed, &r.Failed,
			&r.Status, &r.Notes, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ListUrlTestsForRun returns a run's tests in measurement order.
func (s *Store) ListUrlTestsForRun(ctx context.Context, runID int64) ([]*UrlTestSummary, error) {
	rows, err := s.Pool().Query(ctx, `
		SELECT `+testSummaryColumns+`
		FROM url_tests
		WHERE test_run_id = $1
		ORDER BY test_timestamp ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing tests for run %d: %w", runID, err)
	}
	defer rows.Close()

	return collectTestSummaries(rows)
}

// GetUrlTest returns the full url_test row joined with its run timestamp.
func (s *Store) GetUrlTest(ctx context.Context, id int64) (*UrlTestDetail, error) {
	var (
		t             UrlTestDetail
		resourcesJSON []byte
		codesJSON     []byte
	)
	err := s.Pool().QueryRow(ctx, `
		SELECT t.id, t.uuid, t.test_run_id, t.url, t.domain,
			t.browser, t.user_agent, t.page_title, t.status, t.error_message,
			t.test_timestamp, r.run_timestamp,
			t.test_duration_ms, t.scroll_duration_ms,
			t.dns_lookup_ms, t.tcp_connection_ms, t.tls_negotiation_ms,
			t.time_to_first_byte_ms, t.response_time_ms,
			t.dom_content_loaded_ms, t.dom_interactive_ms, t.total_page_load_ms,
			t.doc_transfer_size, t.doc_encoded_size, t.doc_decoded_size,
			t.total_resources, t.total_transfer_size, t.total_encoded_size,
			t.resources_by_type, t.http_response_codes,
			t.screenshot_path, t.har_path
		FROM url_tests t
		JOIN runs r ON r.id = t.test_run_id
		WHERE t.id = $1`, id).Scan(
		&t.ID, &t.UUID, &t.TestRunID, &t.URL, &t.Domain,
		&t.Browser, &t.UserAgent, &t.PageTitle, &t.Status, &t.ErrorMessage,
		&t.TestTimestamp, &t.RunTimestamp,
		&t.TestDurationMs, &t.ScrollDurationMs,
		&t.DNSLookupMs, &t.TCPConnectionMs, &t.TLSNegotiationMs,
		&t.TimeToFirstByteMs, &t.ResponseTimeMs,
		&t.DOMContentLoadedMs, &t.DOMInteractiveMs, &t.TotalPageLoadMs,
		&t.DocTransferSize, &t.DocEncodedSize, &t.DocDecodedSize,
		&t.TotalResources, &t.TotalTransferSize, &t.TotalEncodedSize,
		&resourcesJSON, &codesJSON,
		&t.ScreenshotPath, &t.HARPath)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying url_test %d: %w", id, err)
	}

	if err := json.Unmarshal(resourcesJSON, &t.ResourcesByType); err != nil {
		t.ResourcesByType = map[string]int{}
	}
	if err := json.Unmarshal(codesJSON, &t.HTTPResponseCodes); err != nil {
		t.HTTPResponseCodes = map[string]int{}
	}
	return &t, nil
}

// ListSlowestInLatest returns the latest run's slowest tests.
func (s *Store) ListSlowestInLatest(ctx context.Context, limit int) ([]*UrlTestSummary, error) {
	return s.latestRunTests(ctx, limit, "DESC")
}

// ListFastestInLatest returns the latest run's fastest tests.
func (s *Store) ListFastestInLatest(ctx context.Context, limit int) ([]*UrlTestSummary, error) {
	return s.latestRunTests(ctx, limit, "ASC")
}

func (s *Store) latestRunTests(ctx context.Context, limit int, direction string) ([]*UrlTestSummary, error) {
	rows, err := s.Pool().Query(ctx, `
		SELECT `+testSummaryColumns+`
		FROM url_tests
		WHERE test_run_id = (SELECT id FROM runs ORDER BY run_timestamp DESC LIMIT 1)
			AND total_page_load_ms IS NOT NULL
		ORDER BY total_page_load_ms `+direction+`
		LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing latest run tests: %w", err)
	}
	defer rows.Close()

	return collectTestSummaries(rows)
}

// ListTestsWithErrors returns tests that are non-PASSED or whose histogram
// contains any 4xx/5xx code, newest first.
func (s *Store) ListTestsWithErrors(ctx context.Context, limit int) ([]*UrlTestSummary, error) {
	rows, err := s.Pool().Query(ctx, `
		SELECT `+testSummaryColumns+`
		FROM v_tests_with_errors
		ORDER BY test_timestamp DESC
		LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing tests with errors: %w", err)
	}
	defer rows.Close()

	return collectTestSummaries(rows)
}

// DomainTrend returns a host's tests across runs, newest run first.
func (s *Store) DomainTrend(ctx context.Context, host string, limit int) ([]*UrlTestSummary, error) {
	rows, err := s.Pool().Query(ctx, `
		SELECT t.id, t.uuid, t.test_run_id, t.url, t.domain, t.status,
			t.test_timestamp, NULL::bigint, t.total_page_load_ms,
			t.time_to_first_byte_ms, ''
		FROM v_performance_trends t
		WHERE t.domain = $1
		ORDER BY t.run_timestamp DESC
		LIMIT $2`, host, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying trend for %s: %w", host, err)
	}
	defer rows.Close()

	return collectTestSummaries(rows)
}

// UrlAutocomplete returns distinct hostnames matching a prefix.
func (s *Store) UrlAutocomplete(ctx context.Context, prefix string, limit int) ([]string, error) {
	rows, err := s.Pool().Query(ctx, `
		SELECT DISTINCT domain
		FROM url_tests
		WHERE domain ILIKE $1 || '%'
		ORDER BY domain ASC
		LIMIT $2`, prefix, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("autocomplete for %q: %w", prefix, err)
	}
	defer rows.Close()

	var hosts []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

// TestsForUrl returns a host's tests, newest first.
func (s *Store) TestsForUrl(ctx context.Context, host string, limit int) ([]*UrlTestSummary, error) {
	rows, err := s.Pool().Query(ctx, `
		SELECT `+testSummaryColumns+`
		FROM url_tests
		WHERE domain = $1
		ORDER BY test_timestamp DESC
		LIMIT $2`, host, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing tests for %s: %w", host, err)
	}
	defer rows.Close()

	return collectTestSummaries(rows)
}

// DailyAverageLoadTime buckets a host's load times by calendar day in the
// requested zone over the last `days` days, zero-filling days with no tests.
func (s *Store) DailyAverageLoadTime(ctx context.Context, host string, days int, tz string) ([]*DailyAverage, error) {
	if err := ValidateTimezone(tz); err != nil {
		return nil, err
	}
	if days <= 0 || days > 366 {
		return nil, fmt.Errorf("%w: days must be in 1..366, got %d", ErrBadRequest, days)
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrBadRequest, tz)
	}

	now := time.Now().In(loc)
	windowStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc).
		AddDate(0, 0, -(days - 1))

	rows, err := s.Pool().Query(ctx, `
		SELECT to_char(test_timestamp AT TIME ZONE $3, 'YYYY-MM-DD') AS day,
			COALESCE(AVG(total_page_load_ms), 0),
			COUNT(total_page_load_ms)
		FROM url_tests
		WHERE domain = $1
			AND test_timestamp >= $2
			AND total_page_load_ms IS NOT NULL
		GROUP BY day`, host, windowStart.UTC(), tz)
	if err != nil {
		return nil, fmt.Errorf("daily averages for %s: %w", host, err)
	}
	defer rows.Close()

	byDay := make(map[string]*DailyAverage)
	for rows.Next() {
		var d DailyAverage
		if err := rows.Scan(&d.Date, &d.AvgLoadMs, &d.TestCount); err != nil {
			return nil, err
		}
		byDay[d.Date] = &d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return zeroFillDays(byDay, windowStart, days), nil
}

// zeroFillDays materializes one bucket per calendar day, oldest first,
// substituting (0, 0) for days with no measurements.
func zeroFillDays(byDay map[string]*DailyAverage, windowStart time.Time, days int) []*DailyAverage {
	out := make([]*DailyAverage, 0, days)
	for i := 0; i < days; i++ {
		date := windowStart.AddDate(0, 0, i).Format("2006-01-02")
		if d, ok := byDay[date]; ok {
			out = append(out, d)
		} else {
			out = append(out, &DailyAverage{Date: date})
		}
	}
	return out
}

// AvailableDates returns UTC dates having at least one run, newest first.
func (s *Store) AvailableDates(ctx context.Context) ([]string, error) {
	rows, err := s.Pool().Query(ctx, `
		SELECT DISTINCT to_char(run_timestamp AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day
		FROM runs
		ORDER BY day DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing available dates: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// RunsByDate returns the runs that started on a UTC date, newest first.
func (s *Store) RunsByDate(ctx context.Context, date string) ([]*RunSummary, error) {
	if !datePattern.MatchString(date) {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD, got %q", ErrBadRequest, date)
	}

	rows, err := s.Pool().Query(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE to_char(run_timestamp AT TIME ZONE 'UTC', 'YYYY-MM-DD') = $1
		ORDER BY run_timestamp DESC`, date)
	if err != nil {
		return nil, fmt.Errorf("listing runs for %s: %w", date, err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// ReferencedTestDirs returns the set of artifact directory names referenced
// by any url_tests.screenshot_path. Used by the reconciler.
func (s *Store) ReferencedTestDirs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.Pool().Query(ctx, `SELECT screenshot_path FROM url_tests`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseUnavailable, err)
	}
	defer rows.Close()

	dirs := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		if dir := DirFromArtifactPath(p); dir != "" {
			dirs[dir] = struct{}{}
		}
	}
	return dirs, rows.Err()
}

// DirFromArtifactPath extracts the test directory name from a stored
// artifact path, e.g. "/app/test-history/<dir>/screenshot.png" -> "<dir>".
func DirFromArtifactPath(p string) string {
	dir := path.Base(path.Dir(p))
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}
