package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/projectpumpkin/pumpkin/internal/artifact"
	"github.com/projectpumpkin/pumpkin/internal/common/urlutil"
	"github.com/projectpumpkin/pumpkin/internal/harlog"
	"github.com/projectpumpkin/pumpkin/pkg/types"
)

const (
	scrollStepPx       = 100
	scrollStepInterval = 100 * time.Millisecond
	scrollBottomWait   = 1 * time.Second
	scrollTopWait      = 500 * time.Millisecond

	screenshotQuality = 90
)

// Measure drives one URL through the full measurement protocol: navigate,
// wait for load, settle, forced scroll, Performance API read, full-page
// screenshot. The HAR is flushed to disk even when the measurement fails,
// so a TIMEOUT directory still holds whatever the browser recorded.
//
// The returned measurement always carries a final status; the error return
// mirrors it for callers that branch on failure class.
func (bi *Instance) Measure(ctx context.Context, rawURL string, td *artifact.TestDir, store *artifact.Store) (*types.TestMeasurement, error) {
	if bi.ShouldRestart() {
		bi.logger.Info("Recycling browser instance",
			zap.Int("instance_id", bi.ID),
			zap.Int32("tests_done", bi.TestsDone()),
			zap.Duration("age", bi.Age()))
		if rerr := bi.Restart(); rerr != nil {
			return nil, fmt.Errorf("%w: %v", ErrRestartFailed, rerr)
		}
	}

	start := time.Now()
	m := newMeasurement(rawURL, td, bi.browserVersion, start)

	collector := harlog.NewCollector(rawURL)

	tabCtx, tabCancel, terr := bi.newTab()
	if terr != nil {
		m.Status = types.TestStatusError
		m.Error = terr.Error()
		m.TestDurationMs = time.Since(start).Milliseconds()
		bi.logger.Error("Tab creation failed",
			zap.Int("instance_id", bi.ID),
			zap.String("url", rawURL),
			zap.Error(terr))
		return m, terr
	}
	defer tabCancel()

	// Propagate the job deadline into the tab so navigation aborts too
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	var (
		snap          perfSnapshot
		screenshotBuf []byte
	)

	err := chromedp.Run(tabCtx, bi.buildTasks(rawURL, collector, m, &snap, &screenshotBuf))

	// Hard deadline wins over whatever chromedp reported
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", context.DeadlineExceeded, ctx.Err())
	}

	applySnapshot(m, &snap)
	m.TestDurationMs = time.Since(start).Milliseconds()

	if len(screenshotBuf) > 0 {
		if werr := store.WriteScreenshot(td.ScreenshotPath, screenshotBuf); werr != nil {
			bi.logger.Error("Screenshot write failed",
				zap.Int("instance_id", bi.ID),
				zap.String("url", rawURL),
				zap.Error(werr))
			if err == nil {
				err = fmt.Errorf("%w: %v", ErrScreenshot, werr)
			}
		}
	}

	// Flush the HAR regardless of outcome
	bi.flushHAR(collector, m, td, store)

	bi.IncrementTests()

	if err != nil {
		m.Status = StatusForError(err)
		m.Error = err.Error()
		bi.logger.Warn("Measurement failed",
			zap.Int("instance_id", bi.ID),
			zap.String("url", rawURL),
			zap.String("status", string(m.Status)),
			zap.Int64("duration_ms", m.TestDurationMs),
			zap.Error(err))
		return m, err
	}

	m.Status = types.TestStatusPassed
	bi.logger.Info("Measurement completed",
		zap.Int("instance_id", bi.ID),
		zap.String("url", rawURL),
		zap.Int64("duration_ms", m.TestDurationMs),
		zap.Int64("scroll_ms", m.ScrollDurationMs))
	return m, nil
}

// newMeasurement seeds the measurement row for one URL test. The domain is
// the bare hostname so every domain-keyed query groups tests of the same
// site regardless of scheme, port, or path.
func newMeasurement(rawURL string, td *artifact.TestDir, browserVersion string, start time.Time) *types.TestMeasurement {
	return &types.TestMeasurement{
		URL:            rawURL,
		Domain:         urlutil.ExtractDomain(rawURL),
		Timestamp:      start.UTC(),
		Browser:        browserVersion,
		ScreenshotPath: td.ScreenshotPath,
		HARPath:        td.HARPath,
	}
}

// buildTasks creates the chromedp task sequence for one measurement.
func (bi *Instance) buildTasks(rawURL string, collector *harlog.Collector, m *types.TestMeasurement,
	snap *perfSnapshot, screenshotBuf *[]byte) chromedp.Tasks {
	return chromedp.Tasks{
		// Event listeners first, before any CDP command
		chromedp.ActionFunc(func(ctx context.Context) error {
			chromedp.ListenTarget(ctx, func(event interface{}) {
				switch ev := event.(type) {
				case *network.EventRequestWillBeSent:
					headers := make(map[string]string)
					for k, v := range ev.Request.Headers {
						if str, ok := v.(string); ok {
							headers[k] = str
						}
					}
					collector.OnRequestWillBeSent(
						string(ev.RequestID),
						ev.Request.URL,
						ev.Request.Method,
						headers,
						ev.Timestamp.Time(),
					)

				case *network.EventResponseReceived:
					headers := make(map[string]string)
					for k, v := range ev.Response.Headers {
						if str, ok := v.(string); ok {
							headers[k] = str
						}
					}
					var timing *harlog.TimingData
					if ev.Response.Timing != nil {
						timing = &harlog.TimingData{
							DNSStart:          ev.Response.Timing.DNSStart,
							DNSEnd:            ev.Response.Timing.DNSEnd,
							ConnectStart:      ev.Response.Timing.ConnectStart,
							ConnectEnd:        ev.Response.Timing.ConnectEnd,
							SSLStart:          ev.Response.Timing.SslStart,
							SSLEnd:            ev.Response.Timing.SslEnd,
							SendStart:         ev.Response.Timing.SendStart,
							SendEnd:           ev.Response.Timing.SendEnd,
							ReceiveHeadersEnd: ev.Response.Timing.ReceiveHeadersEnd,
						}
					}
					collector.OnResponseReceived(
						string(ev.RequestID),
						int(ev.Response.Status),
						ev.Response.StatusText,
						headers,
						ev.Response.MimeType,
						timing,
						ev.Response.Protocol,
					)

				case *network.EventLoadingFinished:
					collector.OnLoadingFinished(
						string(ev.RequestID),
						int64(ev.EncodedDataLength),
						ev.Timestamp.Time(),
					)

				case *network.EventLoadingFailed:
					collector.OnLoadingFailed(
						string(ev.RequestID),
						ev.ErrorText,
						ev.Canceled,
						ev.Timestamp.Time(),
					)
				}
			})
			return nil
		}),

		network.Enable(),
		enableLifecycle(),

		emulation.SetDeviceMetricsOverride(
			int64(bi.config.ViewportWidth),
			int64(bi.config.ViewportHeight),
			1.0,
			false,
		),

		bi.navigateAndWait(rawURL),

		// Settle: let deferred content render after load
		sleepAction(bi.config.SettleDelay),

		bi.scrollPage(&m.ScrollDurationMs),

		chromedp.Evaluate(perfExtractionJS, snap),

		chromedp.FullScreenshot(screenshotBuf, screenshotQuality),

		page.Close(),
	}
}

// navigateAndWait navigates and waits for DOMContentLoaded within the
// navigation timeout, then for the load event within its own timeout. A
// missed load event is tolerated; a missed DOMContentLoaded is a TIMEOUT.
func (bi *Instance) navigateAndWait(rawURL string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		frameID, loaderID, _, _, err := page.Navigate(rawURL).Do(ctx)
		if err != nil {
			return errors.Join(ErrNavigateFailed, err)
		}

		err = waitForLifecycleEvent(ctx, "DOMContentLoaded",
			string(frameID), string(loaderID), bi.config.NavigationTimeout)
		if err != nil {
			if errors.Is(err, errWaitTimeout) {
				return ErrNavigateTimeout
			}
			return err
		}

		err = waitForLifecycleEvent(ctx, "load",
			string(frameID), string(loaderID), bi.config.LoadEventTimeout)
		if errors.Is(err, errWaitTimeout) {
			bi.logger.Debug("Load event wait timed out, continuing",
				zap.Int("instance_id", bi.ID),
				zap.String("url", rawURL))
			return nil
		}
		return err
	}
}

var errWaitTimeout = errors.New("lifecycle wait timed out")

// waitForLifecycleEvent blocks until the named page lifecycle event arrives
// for the given frame and loader, the timeout elapses, or ctx is done.
func waitForLifecycleEvent(ctx context.Context, eventName, frameID, loaderID string, timeout time.Duration) error {
	ch := make(chan struct{})
	var once sync.Once

	listenerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The event may be delivered again before cancellation detaches the
	// listener, so the signal must tolerate repeats.
	chromedp.ListenTarget(listenerCtx, lifecycleSignal(eventName, frameID, loaderID, func() {
		cancel()
		once.Do(func() { close(ch) })
	}))

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return errWaitTimeout
	}
}

// lifecycleSignal builds the event handler that fires signal when the named
// lifecycle event arrives for the given frame and loader.
func lifecycleSignal(eventName, frameID, loaderID string, signal func()) func(interface{}) {
	return func(ev interface{}) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok {
			if string(e.FrameID) == frameID && string(e.LoaderID) == loaderID &&
				string(e.Name) == eventName {
				signal()
			}
		}
	}
}

// scrollPage performs the forced scroll: step down 100px every 100ms until
// the page bottom, wait 1s, jump back to the top, wait 500ms. The wall-clock
// duration of the whole phase is written to scrollMs.
func (bi *Instance) scrollPage(scrollMs *int64) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		start := time.Now()

		var docHeight, viewportHeight float64
		if err := chromedp.Evaluate(`document.documentElement.scrollHeight`, &docHeight).Do(ctx); err != nil {
			return fmt.Errorf("%w: reading document height: %v", ErrMetricsExtract, err)
		}
		if err := chromedp.Evaluate(`window.innerHeight`, &viewportHeight).Do(ctx); err != nil {
			return fmt.Errorf("%w: reading viewport height: %v", ErrMetricsExtract, err)
		}

		target := docHeight - viewportHeight
		for scrolled := 0.0; scrolled < target; scrolled += scrollStepPx {
			if err := chromedp.Evaluate(fmt.Sprintf(`window.scrollBy(0, %d)`, scrollStepPx), nil).Do(ctx); err != nil {
				return err
			}
			if err := ctxSleep(ctx, scrollStepInterval); err != nil {
				return err
			}
		}

		if err := ctxSleep(ctx, scrollBottomWait); err != nil {
			return err
		}
		if err := chromedp.Evaluate(`window.scrollTo(0, 0)`, nil).Do(ctx); err != nil {
			return err
		}
		if err := ctxSleep(ctx, scrollTopWait); err != nil {
			return err
		}

		*scrollMs = time.Since(start).Milliseconds()
		return nil
	}
}

func (bi *Instance) flushHAR(collector *harlog.Collector, m *types.TestMeasurement, td *artifact.TestDir, store *artifact.Store) {
	if m.PageTitle != "" {
		collector.SetPageTitle(m.PageTitle)
	}
	if m.Timing.DOMContentLoaded != nil && m.Timing.TotalPageLoad != nil {
		collector.SetPageTimings(*m.Timing.DOMContentLoaded, *m.Timing.TotalPageLoad)
	}

	data, err := collector.ToJSON("HeadlessChrome", bi.browserVersion)
	if err != nil {
		bi.logger.Error("HAR marshal failed",
			zap.Int("instance_id", bi.ID),
			zap.String("url", m.URL),
			zap.Error(err))
		return
	}
	if err := store.WriteHAR(td.HARPath, data); err != nil {
		bi.logger.Error("HAR write failed",
			zap.Int("instance_id", bi.ID),
			zap.String("url", m.URL),
			zap.Error(err))
	}
}

func enableLifecycle() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		if err := page.Enable().Do(ctx); err != nil {
			return err
		}
		return page.SetLifecycleEventsEnabled(true).Do(ctx)
	}
}

func sleepAction(d time.Duration) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		return ctxSleep(ctx, d)
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
