package store

import "time"

// RunSummary is one row of the runs table as served by the API.
type RunSummary struct {
	ID              int64     `json:"id"`
	UUID            string    `json:"uuid"`
	RunTimestamp    time.Time `json:"run_timestamp"`
	TotalURLs       int       `json:"total_urls"`
	ParallelWorkers int       `json:"parallel_workers"`
	TotalDurationMs *int64    `json:"total_duration_ms"`
	Passed          int       `json:"passed"`
	Failed          int       `json:"failed"`
	Status          string    `json:"status"`
	Notes           *string   `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// LatestRun is the latest run joined with its url_tests aggregates.
type LatestRun struct {
	RunSummary
	TestsCompleted int64    `json:"tests_completed"`
	AvgPageLoadMs  *float64 `json:"avg_page_load_ms"`
	AvgTTFBMs      *float64 `json:"avg_ttfb_ms"`
}

// UrlTestSummary is the compact per-test row used in listings.
type UrlTestSummary struct {
	ID                int64     `json:"id"`
	UUID              string    `json:"uuid"`
	TestRunID         int64     `json:"test_run_id"`
	URL               string    `json:"url"`
	Domain            string    `json:"domain"`
	Status            string    `json:"status"`
	TestTimestamp     time.Time `json:"test_timestamp"`
	TestDurationMs    *int64    `json:"test_duration_ms"`
	TotalPageLoadMs   *float64  `json:"total_page_load_ms"`
	TimeToFirstByteMs *float64  `json:"time_to_first_byte_ms"`
	ScreenshotPath    string    `json:"screenshot_path"`
}

// UrlTestDetail is the full url_test row joined with its run timestamp.
type UrlTestDetail struct {
	ID        int64  `json:"id"`
	UUID      string `json:"uuid"`
	TestRunID int64  `json:"test_run_id"`

	URL          string  `json:"url"`
	Domain       string  `json:"domain"`
	Browser      *string `json:"browser"`
	UserAgent    *string `json:"user_agent"`
	PageTitle    *string `json:"page_title"`
	Status       string  `json:"status"`
	ErrorMessage *string `json:"error_message"`

	TestTimestamp    time.Time `json:"test_timestamp"`
	RunTimestamp     time.Time `json:"run_timestamp"`
	TestDurationMs   *int64    `json:"test_duration_ms"`
	ScrollDurationMs *int64    `json:"scroll_duration_ms"`

	DNSLookupMs        *float64 `json:"dns_lookup_ms"`
	TCPConnectionMs    *float64 `json:"tcp_connection_ms"`
	TLSNegotiationMs   *float64 `json:"tls_negotiation_ms"`
	TimeToFirstByteMs  *float64 `json:"time_to_first_byte_ms"`
	ResponseTimeMs     *float64 `json:"response_time_ms"`
	DOMContentLoadedMs *float64 `json:"dom_content_loaded_ms"`
	DOMInteractiveMs   *float64 `json:"dom_interactive_ms"`
	TotalPageLoadMs    *float64 `json:"total_page_load_ms"`

	DocTransferSize *int64 `json:"doc_transfer_size"`
	DocEncodedSize  *int64 `json:"doc_encoded_size"`
	DocDecodedSize  *int64 `json:"doc_decoded_size"`

	TotalResources    int   `json:"total_resources"`
	TotalTransferSize int64 `json:"total_transfer_size"`
	TotalEncodedSize  int64 `json:"total_encoded_size"`

	ResourcesByType   map[string]int `json:"resources_by_type"`
	HTTPResponseCodes map[string]int `json:"http_response_codes"`

	ScreenshotPath string `json:"screenshot_path"`
	HARPath        string `json:"har_path"`
}

// DailyAverage is one calendar-day bucket of load-time averages.
type DailyAverage struct {
	Date      string  `json:"date"` // YYYY-MM-DD in the requested zone
	AvgLoadMs float64 `json:"avg_load_ms"`
	TestCount int     `json:"test_count"`
}
