// Package harlog implements HAR 1.2 capture and post-processing: the
// collector assembles a HAR from browser network events during a test, and
// the analyzer derives the status-code histogram and failed-request
// inventory from a recorded HAR file.
package harlog

// HAR 1.2 specification constants
const (
	harVersion     = "1.2"
	creatorName    = "Pumpkin"
	creatorVersion = "1.0"
)

// HAR is the root container for HTTP Archive format
type HAR struct {
	Log Log `json:"log"`
}

// Log contains the main HAR data
type Log struct {
	Version string   `json:"version"`
	Creator Creator  `json:"creator"`
	Browser *Browser `json:"browser,omitempty"`
	Pages   []Page   `json:"pages,omitempty"`
	Entries []Entry  `json:"entries"`
	Comment string   `json:"comment,omitempty"`
}

// Creator contains info about the HAR creator application
type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Browser contains info about the browser that created the HAR
type Browser struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Page represents a page within the HAR
type Page struct {
	StartedDateTime string      `json:"startedDateTime"`
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	PageTimings     PageTimings `json:"pageTimings"`
}

// PageTimings contains timing info for page load events
type PageTimings struct {
	OnContentLoad *float64 `json:"onContentLoad,omitempty"`
	OnLoad        *float64 `json:"onLoad,omitempty"`
}

// Entry represents a single HTTP request/response pair
type Entry struct {
	StartedDateTime string   `json:"startedDateTime"`
	Time            float64  `json:"time"`
	Request         Request  `json:"request"`
	Response        Response `json:"response"`
	Cache           Cache    `json:"cache"`
	Timings         Timings  `json:"timings"`
	PageRef         string   `json:"pageref,omitempty"`
}

// Request contains HTTP request details
type Request struct {
	Method      string        `json:"method"`
	URL         string        `json:"url"`
	HTTPVersion string        `json:"httpVersion"`
	Cookies     []Cookie      `json:"cookies"`
	Headers     []Header      `json:"headers"`
	QueryString []QueryString `json:"queryString"`
	HeadersSize int64         `json:"headersSize"`
	BodySize    int64         `json:"bodySize"`
}

// Response contains HTTP response details
type Response struct {
	Status      int      `json:"status"`
	StatusText  string   `json:"statusText"`
	HTTPVersion string   `json:"httpVersion"`
	Cookies     []Cookie `json:"cookies"`
	Headers     []Header `json:"headers"`
	Content     Content  `json:"content"`
	RedirectURL string   `json:"redirectURL"`
	HeadersSize int64    `json:"headersSize"`
	BodySize    int64    `json:"bodySize"`
}

// Cookie represents an HTTP cookie
type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Header represents an HTTP header
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// QueryString represents a URL query parameter
type QueryString struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Content represents response body content
type Content struct {
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// Cache contains cache information (always empty for live captures)
type Cache struct{}

// Timings contains request timing breakdown
type Timings struct {
	Blocked float64 `json:"blocked,omitempty"`
	DNS     float64 `json:"dns,omitempty"`
	Connect float64 `json:"connect,omitempty"`
	Send    float64 `json:"send"`
	Wait    float64 `json:"wait"`
	Receive float64 `json:"receive"`
	SSL     float64 `json:"ssl,omitempty"`
}
