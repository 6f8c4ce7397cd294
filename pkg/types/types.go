// Package types contains the shared domain types for Project Pumpkin:
// batch runs, per-URL measurements, and the derived network histograms.
package types

import "time"

// RunStatus is the lifecycle state of a batch run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusPartial   RunStatus = "PARTIAL"
	RunStatusFailed    RunStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusPartial || s == RunStatusFailed
}

// TestStatus is the final status of a single URL measurement.
// It is fixed at creation and never mutated after insertion.
type TestStatus string

const (
	TestStatusPassed  TestStatus = "PASSED"
	TestStatusFailed  TestStatus = "FAILED" // reserved for measurements that could not be persisted
	TestStatusTimeout TestStatus = "TIMEOUT"
	TestStatusError   TestStatus = "ERROR"
)

// Outcome is the scheduler-level result tag that drives run finalization.
type Outcome string

const (
	OutcomeAllPassed     Outcome = "allPassed"
	OutcomeSomePassed    Outcome = "somePassed"
	OutcomeNoneCompleted Outcome = "noneCompleted"
)

// NavigationTiming holds the PerformanceNavigationTiming phases in
// milliseconds. Nil pointers mean the phase was unmeasurable (e.g. TLS on
// plain http). Values are clamped to be non-negative.
type NavigationTiming struct {
	DNSLookup        *float64 `json:"dns_lookup_ms"`
	TCPConnection    *float64 `json:"tcp_connection_ms"`
	TLSNegotiation   *float64 `json:"tls_negotiation_ms"`
	TimeToFirstByte  *float64 `json:"time_to_first_byte_ms"`
	ResponseTime     *float64 `json:"response_time_ms"`
	DOMContentLoaded *float64 `json:"dom_content_loaded_ms"`
	DOMInteractive   *float64 `json:"dom_interactive_ms"`
	TotalPageLoad    *float64 `json:"total_page_load_ms"`
}

// DocumentSizes holds the main document body sizes in bytes.
type DocumentSizes struct {
	TransferSize *int64 `json:"doc_transfer_size"`
	EncodedSize  *int64 `json:"doc_encoded_size"`
	DecodedSize  *int64 `json:"doc_decoded_size"`
}

// ResourceTotals aggregates PerformanceResourceTiming entries.
type ResourceTotals struct {
	TotalResources    int   `json:"total_resources"`
	TotalTransferSize int64 `json:"total_transfer_size"`
	TotalEncodedSize  int64 `json:"total_encoded_size"`
}

// TestMeasurement is the complete record of one URL visit produced by the
// browser driver and enriched by the HAR analyzer before ingestion.
type TestMeasurement struct {
	URL       string     `json:"url"`
	Domain    string     `json:"domain"`
	Status    TestStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`

	Browser   string `json:"browser"`
	UserAgent string `json:"user_agent"`
	PageTitle string `json:"page_title,omitempty"`

	TestDurationMs   int64 `json:"test_duration_ms"`
	ScrollDurationMs int64 `json:"scroll_duration_ms"`

	Timing    NavigationTiming `json:"timing"`
	Document  DocumentSizes    `json:"document"`
	Resources ResourceTotals   `json:"resources"`

	// ResourcesByType maps resource initiator type to count.
	ResourcesByType map[string]int `json:"resources_by_type"`
	// HTTPResponseCodes maps status code (decimal string) to count,
	// derived from the recorded HAR.
	HTTPResponseCodes map[string]int `json:"http_response_codes"`

	ScreenshotPath string `json:"screenshot_path"`
	HARPath        string `json:"har_path"`
}

// FailedRequest is one HAR entry whose status indicates failure (>= 400).
type FailedRequest struct {
	RequestURL string `json:"request_url"`
	StatusCode int    `json:"status_code"`
	Category   string `json:"category"`
}

// Failed request categories.
const (
	CategoryClientError = "Client Error"
	CategoryServerError = "Server Error"
)

// CategoryForStatus maps an HTTP status code >= 400 to its category.
func CategoryForStatus(code int) string {
	if code >= 500 {
		return CategoryServerError
	}
	return CategoryClientError
}
