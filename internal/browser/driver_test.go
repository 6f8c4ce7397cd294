package browser

import (
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectpumpkin/pumpkin/internal/artifact"
)

func TestNewMeasurementDomain(t *testing.T) {
	td := &artifact.TestDir{
		ScreenshotPath: "/app/test-history/x/screenshot.png",
		HARPath:        "/app/test-history/x/network.har",
	}

	tests := []struct {
		name   string
		url    string
		domain string
	}{
		{name: "https", url: "https://example.com", domain: "example.com"},
		{name: "http with path", url: "http://example.com/path", domain: "example.com"},
		{name: "explicit port", url: "https://example.com:8080/x", domain: "example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMeasurement(tt.url, td, "HeadlessChrome/120.0", time.Now())
			assert.Equal(t, tt.domain, m.Domain)
			assert.Equal(t, tt.url, m.URL)
			assert.Equal(t, td.ScreenshotPath, m.ScreenshotPath)
			assert.Equal(t, td.HARPath, m.HARPath)
		})
	}
}

func TestLifecycleSignalMatching(t *testing.T) {
	calls := 0
	handler := lifecycleSignal("load", "frame-1", "loader-1", func() { calls++ })

	match := &page.EventLifecycleEvent{
		FrameID:  cdp.FrameID("frame-1"),
		LoaderID: cdp.LoaderID("loader-1"),
		Name:     "load",
	}

	handler(match)
	require.Equal(t, 1, calls)

	// Mismatches on any dimension are ignored.
	handler(&page.EventLifecycleEvent{FrameID: "frame-2", LoaderID: "loader-1", Name: "load"})
	handler(&page.EventLifecycleEvent{FrameID: "frame-1", LoaderID: "loader-2", Name: "load"})
	handler(&page.EventLifecycleEvent{FrameID: "frame-1", LoaderID: "loader-1", Name: "DOMContentLoaded"})
	handler("not an event")
	assert.Equal(t, 1, calls)
}

func TestLifecycleSignalRepeatedDelivery(t *testing.T) {
	ch := make(chan struct{})
	var once sync.Once
	handler := lifecycleSignal("load", "f", "l", func() {
		once.Do(func() { close(ch) })
	})

	ev := &page.EventLifecycleEvent{FrameID: "f", LoaderID: "l", Name: "load"}

	// A second delivery before the listener detaches must not panic.
	handler(ev)
	handler(ev)

	select {
	case <-ch:
	default:
		t.Fatal("signal channel not closed")
	}
}
