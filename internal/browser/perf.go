package browser

import "github.com/projectpumpkin/pumpkin/pkg/types"

// perfExtractionJS reads the Performance API inside the page and returns a
// single JSON object: the navigation entry, all resource entries, and page
// metadata. Evaluated after the settle and scroll phases so lazy-loaded
// resources are included.
const perfExtractionJS = `
(function() {
	var out = {
		title: document.title || "",
		userAgent: navigator.userAgent || "",
		nav: null,
		resources: []
	};
	try {
		var nav = performance.getEntriesByType('navigation')[0];
		if (nav) {
			out.nav = {
				startTime: nav.startTime,
				domainLookupStart: nav.domainLookupStart,
				domainLookupEnd: nav.domainLookupEnd,
				connectStart: nav.connectStart,
				connectEnd: nav.connectEnd,
				secureConnectionStart: nav.secureConnectionStart,
				requestStart: nav.requestStart,
				responseStart: nav.responseStart,
				responseEnd: nav.responseEnd,
				domInteractive: nav.domInteractive,
				domContentLoadedEventEnd: nav.domContentLoadedEventEnd,
				loadEventEnd: nav.loadEventEnd,
				transferSize: nav.transferSize,
				encodedBodySize: nav.encodedBodySize,
				decodedBodySize: nav.decodedBodySize
			};
		}
		performance.getEntriesByType('resource').forEach(function(r) {
			out.resources.push({
				initiatorType: r.initiatorType || "",
				transferSize: r.transferSize || 0,
				encodedBodySize: r.encodedBodySize || 0
			});
		});
	} catch (e) {
		// leave partial snapshot
	}
	return out;
})()
`

// perfSnapshot is the JSON shape produced by perfExtractionJS.
type perfSnapshot struct {
	Title     string          `json:"title"`
	UserAgent string          `json:"userAgent"`
	Nav       *navEntry       `json:"nav"`
	Resources []resourceEntry `json:"resources"`
}

type navEntry struct {
	StartTime                float64 `json:"startTime"`
	DomainLookupStart        float64 `json:"domainLookupStart"`
	DomainLookupEnd          float64 `json:"domainLookupEnd"`
	ConnectStart             float64 `json:"connectStart"`
	ConnectEnd               float64 `json:"connectEnd"`
	SecureConnectionStart    float64 `json:"secureConnectionStart"`
	RequestStart             float64 `json:"requestStart"`
	ResponseStart            float64 `json:"responseStart"`
	ResponseEnd              float64 `json:"responseEnd"`
	DOMInteractive           float64 `json:"domInteractive"`
	DOMContentLoadedEventEnd float64 `json:"domContentLoadedEventEnd"`
	LoadEventEnd             float64 `json:"loadEventEnd"`
	TransferSize             int64   `json:"transferSize"`
	EncodedBodySize          int64   `json:"encodedBodySize"`
	DecodedBodySize          int64   `json:"decodedBodySize"`
}

type resourceEntry struct {
	InitiatorType   string  `json:"initiatorType"`
	TransferSize    float64 `json:"transferSize"`
	EncodedBodySize float64 `json:"encodedBodySize"`
}

// applySnapshot fills the measurement from a Performance API snapshot.
// All derived phase durations are clamped to zero; phases the browser could
// not measure (e.g. TLS on plain http) stay null.
func applySnapshot(m *types.TestMeasurement, snap *perfSnapshot) {
	if snap == nil {
		return
	}

	if snap.Title != "" {
		m.PageTitle = snap.Title
	}
	if snap.UserAgent != "" {
		m.UserAgent = snap.UserAgent
	}

	if nav := snap.Nav; nav != nil {
		m.Timing.DNSLookup = phase(nav.DomainLookupEnd, nav.DomainLookupStart)
		m.Timing.TCPConnection = phase(nav.ConnectEnd, nav.ConnectStart)
		if nav.SecureConnectionStart > 0 {
			m.Timing.TLSNegotiation = phase(nav.ConnectEnd, nav.SecureConnectionStart)
		}
		m.Timing.TimeToFirstByte = phase(nav.ResponseStart, nav.RequestStart)
		m.Timing.ResponseTime = phase(nav.ResponseEnd, nav.ResponseStart)
		if nav.DOMInteractive > 0 {
			m.Timing.DOMInteractive = phase(nav.DOMInteractive, nav.StartTime)
		}
		if nav.DOMContentLoadedEventEnd > 0 {
			m.Timing.DOMContentLoaded = phase(nav.DOMContentLoadedEventEnd, nav.StartTime)
		}
		if nav.LoadEventEnd > 0 {
			m.Timing.TotalPageLoad = phase(nav.LoadEventEnd, nav.StartTime)
		}

		m.Document.TransferSize = int64Ptr(nav.TransferSize)
		m.Document.EncodedSize = int64Ptr(nav.EncodedBodySize)
		m.Document.DecodedSize = int64Ptr(nav.DecodedBodySize)
	}

	byType := make(map[string]int)
	for _, r := range snap.Resources {
		kind := r.InitiatorType
		if kind == "" {
			kind = "other"
		}
		byType[kind]++
		m.Resources.TotalTransferSize += int64(r.TransferSize)
		m.Resources.TotalEncodedSize += int64(r.EncodedBodySize)
	}
	m.Resources.TotalResources = len(snap.Resources)
	if len(byType) > 0 {
		m.ResourcesByType = byType
	}
}

// phase computes end-start in milliseconds, clamped to zero.
func phase(end, start float64) *float64 {
	d := end - start
	if d < 0 {
		d = 0
	}
	return &d
}

func int64Ptr(v int64) *int64 {
	if v < 0 {
		v = 0
	}
	return &v
}
