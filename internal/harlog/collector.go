package harlog

import (
	"encoding/json"
	"net/url"
	"sort"
	"sync"
	"time"
)

// Collector accumulates browser network events during a page test and
// assembles them into a HAR. It is engine-agnostic: the browser driver
// forwards plain values from its CDP event listeners. Thread-safe for
// concurrent event handler calls.
type Collector struct {
	mu        sync.Mutex
	requests  map[string]*requestData
	startTime time.Time
	pageURL   string
	pageTitle string

	onContentLoadMs *float64
	onLoadMs        *float64
}

// requestData holds data for an in-progress request
type requestData struct {
	URL        string
	Method     string
	Headers    map[string]string
	StartTime  time.Time
	FinishTime time.Time
	Response   *responseData
	Timings    *TimingData
	Finished   bool
	Failed     bool
	FailError  string
	BodySize   int64
}

// responseData holds response information
type responseData struct {
	Status     int
	StatusText string
	Headers    map[string]string
	MimeType   string
	Protocol   string
	Timing     *TimingData
}

// TimingData mirrors the browser's resource timing breakdown (all values
// in milliseconds relative to the request start; -1 means not measured).
type TimingData struct {
	DNSStart          float64
	DNSEnd            float64
	ConnectStart      float64
	ConnectEnd        float64
	SSLStart          float64
	SSLEnd            float64
	SendStart         float64
	SendEnd           float64
	ReceiveHeadersEnd float64
}

// NewCollector creates a collector for one page session.
func NewCollector(pageURL string) *Collector {
	return &Collector{
		requests:  make(map[string]*requestData),
		startTime: time.Now().UTC(),
		pageURL:   pageURL,
		pageTitle: pageURL,
	}
}

// OnRequestWillBeSent records the start of a network request.
func (c *Collector) OnRequestWillBeSent(requestID, requestURL, method string, headers map[string]string, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests[requestID] = &requestData{
		URL:       requestURL,
		Method:    method,
		Headers:   headers,
		StartTime: ts,
	}
}

// OnResponseReceived records response metadata for a pending request.
func (c *Collector) OnResponseReceived(requestID string, status int, statusText string, headers map[string]string, mimeType string, timing *TimingData, protocol string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.requests[requestID]
	if !ok {
		return
	}
	req.Response = &responseData{
		Status:     status,
		StatusText: statusText,
		Headers:    headers,
		MimeType:   mimeType,
		Protocol:   protocol,
		Timing:     timing,
	}
}

// OnLoadingFinished completes a request with its final encoded byte count.
func (c *Collector) OnLoadingFinished(requestID string, encodedLength int64, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.requests[requestID]
	if !ok {
		return
	}
	req.Finished = true
	req.FinishTime = ts
	req.BodySize = encodedLength
}

// OnLoadingFailed marks a request as failed. Cancelled requests are
// dropped entirely: they carry no signal about the page under test.
func (c *Collector) OnLoadingFailed(requestID, errorText string, canceled bool, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.requests[requestID]
	if !ok {
		return
	}
	if canceled {
		delete(c.requests, requestID)
		return
	}
	req.Failed = true
	req.FailError = errorText
	req.FinishTime = ts
}

// SetPageTitle sets the page title used in the HAR pages block.
func (c *Collector) SetPageTitle(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if title != "" {
		c.pageTitle = title
	}
}

// SetPageTimings records the page-level DCL and load timings (ms).
func (c *Collector) SetPageTimings(onContentLoadMs, onLoadMs float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onContentLoadMs = &onContentLoadMs
	c.onLoadMs = &onLoadMs
}

// RequestCount returns the number of tracked requests.
func (c *Collector) RequestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Build assembles the final HAR. Entries are sorted chronologically as the
// HAR spec requires. Requests that failed before completing appear with
// status -1 so downstream consumers can recognize and drop them.
func (c *Collector) Build(browserName, browserVersion string) *HAR {
	c.mu.Lock()
	defer c.mu.Unlock()

	pageID := "page_1"
	har := &HAR{
		Log: Log{
			Version: harVersion,
			Creator: Creator{Name: creatorName, Version: creatorVersion},
			Pages: []Page{{
				StartedDateTime: formatDateTime(c.startTime),
				ID:              pageID,
				Title:           c.pageTitle,
				PageTimings: PageTimings{
					OnContentLoad: c.onContentLoadMs,
					OnLoad:        c.onLoadMs,
				},
			}},
			Entries: []Entry{},
		},
	}
	if browserVersion != "" {
		har.Log.Browser = &Browser{Name: browserName, Version: browserVersion}
	}

	for _, req := range c.requests {
		har.Log.Entries = append(har.Log.Entries, c.buildEntry(req, pageID))
	}

	sort.Slice(har.Log.Entries, func(i, j int) bool {
		return har.Log.Entries[i].StartedDateTime < har.Log.Entries[j].StartedDateTime
	})

	return har
}

// ToJSON builds the HAR and marshals it.
func (c *Collector) ToJSON(browserName, browserVersion string) ([]byte, error) {
	return json.Marshal(c.Build(browserName, browserVersion))
}

func (c *Collector) buildEntry(req *requestData, pageID string) Entry {
	timings := Timings{}
	httpVersion := "HTTP/1.1"

	status := -1
	statusText := req.FailError
	var mimeType string
	if req.Response != nil {
		if !req.Failed {
			status = req.Response.Status
			statusText = req.Response.StatusText
		}
		mimeType = req.Response.MimeType
		httpVersion = protocolToHTTPVersion(req.Response.Protocol)
		timings = convertTimings(req.Response.Timing, req.StartTime, req.FinishTime)
	}

	return Entry{
		StartedDateTime: formatDateTime(req.StartTime),
		Time:            totalTime(&timings),
		Request: Request{
			Method:      req.Method,
			URL:         req.URL,
			HTTPVersion: httpVersion,
			Cookies:     []Cookie{},
			Headers:     headerList(req.Headers),
			QueryString: parseQueryString(req.URL),
			HeadersSize: -1,
			BodySize:    0,
		},
		Response: Response{
			Status:      status,
			StatusText:  statusText,
			HTTPVersion: httpVersion,
			Cookies:     []Cookie{},
			Headers:     responseHeaderList(req.Response),
			Content: Content{
				Size:     req.BodySize,
				MimeType: mimeType,
			},
			HeadersSize: -1,
			BodySize:    req.BodySize,
		},
		Cache:   Cache{},
		Timings: timings,
		PageRef: pageID,
	}
}

// convertTimings maps the browser timing phases onto HAR's
// dns/connect/ssl/send/wait/receive breakdown.
func convertTimings(t *TimingData, start, finish time.Time) Timings {
	out := Timings{}
	if t == nil {
		return out
	}

	if t.DNSEnd > t.DNSStart && t.DNSStart >= 0 {
		out.DNS = t.DNSEnd - t.DNSStart
	}
	if t.ConnectEnd > t.ConnectStart && t.ConnectStart >= 0 {
		out.Connect = t.ConnectEnd - t.ConnectStart
	}
	if t.SSLEnd > t.SSLStart && t.SSLStart >= 0 {
		out.SSL = t.SSLEnd - t.SSLStart
	}
	if t.SendEnd > t.SendStart {
		out.Send = t.SendEnd - t.SendStart
	}
	if t.ReceiveHeadersEnd > t.SendEnd {
		out.Wait = t.ReceiveHeadersEnd - t.SendEnd
	}
	if !finish.IsZero() && t.ReceiveHeadersEnd > 0 {
		total := float64(finish.Sub(start).Milliseconds())
		receive := total - t.ReceiveHeadersEnd
		if receive > 0 {
			out.Receive = receive
		}
	}
	return out
}

func totalTime(t *Timings) float64 {
	total := t.Send + t.Wait + t.Receive
	if t.DNS > 0 {
		total += t.DNS
	}
	if t.Connect > 0 {
		total += t.Connect
	}
	if t.SSL > 0 {
		total += t.SSL
	}
	if t.Blocked > 0 {
		total += t.Blocked
	}
	return total
}

func headerList(headers map[string]string) []Header {
	out := make([]Header, 0, len(headers))
	for name, value := range headers {
		out = append(out, Header{Name: name, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func responseHeaderList(resp *responseData) []Header {
	if resp == nil {
		return []Header{}
	}
	return headerList(resp.Headers)
}

func protocolToHTTPVersion(protocol string) string {
	switch protocol {
	case "h2":
		return "HTTP/2"
	case "h3":
		return "HTTP/3"
	case "http/1.0":
		return "HTTP/1.0"
	case "http/1.1":
		return "HTTP/1.1"
	default:
		return "HTTP/1.1"
	}
}

func parseQueryString(rawURL string) []QueryString {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.RawQuery == "" {
		return []QueryString{}
	}

	values := parsed.Query()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]QueryString, 0, len(values))
	for _, key := range keys {
		for _, val := range values[key] {
			result = append(result, QueryString{Name: key, Value: val})
		}
	}
	return result
}

func formatDateTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
