package browser

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Instance is one headless Chrome process owned by a single worker. It is
// reused across URL jobs and restarted per the configured policy to keep
// memory bounded over long runs.
type Instance struct {
	ID     int
	config *Config
	logger *zap.Logger

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	ctx             context.Context
	cancel          context.CancelFunc

	createdAt      time.Time
	testsDone      int32
	browserVersion string
}

// NewInstance starts a Chrome process and warms it up.
func NewInstance(id int, config *Config, logger *zap.Logger) (*Instance, error) {
	instance := &Instance{
		ID:        id,
		config:    config,
		logger:    logger,
		createdAt: time.Now().UTC(),
	}

	if err := instance.createBrowser(); err != nil {
		return nil, fmt.Errorf("failed to create browser instance %d: %w", id, err)
	}

	instance.logger.Info("Browser instance created",
		zap.Int("instance_id", id),
		zap.String("browser_version", instance.browserVersion))

	if err := instance.warmup(); err != nil {
		instance.logger.Warn("Browser instance warmup failed",
			zap.Int("instance_id", id),
			zap.Error(err))
	}

	return instance, nil
}

func (bi *Instance) createBrowser() error {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
	}

	allocatorOpts := append(chromedp.DefaultExecAllocatorOptions[:], opts...)
	bi.allocatorCtx, bi.allocatorCancel = chromedp.NewExecAllocator(context.Background(), allocatorOpts...)

	bi.ctx, bi.cancel = chromedp.NewContext(bi.allocatorCtx)

	if err := chromedp.Run(bi.ctx); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}

	// Capture browser version for HAR metadata
	if err := chromedp.Run(bi.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, product, _, _, _, err := cdpbrowser.GetVersion().Do(ctx)
		if err != nil {
			return err
		}
		bi.browserVersion = product
		return nil
	})); err != nil {
		bi.logger.Warn("Failed to capture browser version",
			zap.Int("instance_id", bi.ID),
			zap.Error(err))
	}

	return nil
}

func (bi *Instance) warmup() error {
	ctx, cancel := context.WithTimeout(bi.ctx, bi.config.WarmupTimeout)
	defer cancel()

	if err := chromedp.Run(ctx, chromedp.Navigate(bi.config.WarmupURL)); err != nil {
		return fmt.Errorf("warmup navigation failed: %w", err)
	}
	return nil
}

// Age returns how long the browser process has been running.
func (bi *Instance) Age() time.Duration {
	return time.Now().UTC().Sub(bi.createdAt)
}

// TestsDone returns the number of completed measurements.
func (bi *Instance) TestsDone() int32 {
	return atomic.LoadInt32(&bi.testsDone)
}

// IncrementTests records a completed measurement.
func (bi *Instance) IncrementTests() {
	atomic.AddInt32(&bi.testsDone, 1)
}

// ShouldRestart reports whether the restart policy applies.
func (bi *Instance) ShouldRestart() bool {
	if int(bi.TestsDone()) >= bi.config.RestartAfterCount {
		return true
	}
	return bi.Age() >= bi.config.RestartAfterTime
}

// Restart terminates and recreates the browser process.
func (bi *Instance) Restart() error {
	bi.logger.Info("Restarting browser instance",
		zap.Int("instance_id", bi.ID),
		zap.Int32("tests_done", bi.TestsDone()),
		zap.Duration("age", bi.Age()))

	bi.Terminate()

	atomic.StoreInt32(&bi.testsDone, 0)
	bi.createdAt = time.Now().UTC()

	if err := bi.createBrowser(); err != nil {
		return fmt.Errorf("%w: %v", ErrRestartFailed, err)
	}

	if err := bi.warmup(); err != nil {
		bi.logger.Warn("Warmup failed after restart",
			zap.Int("instance_id", bi.ID),
			zap.Error(err))
	}

	return nil
}

// Terminate shuts the browser process down.
func (bi *Instance) Terminate() {
	if bi.cancel != nil {
		bi.cancel()
	}
	if bi.allocatorCancel != nil {
		bi.allocatorCancel()
	}
}

// Close terminates the browser. Satisfies the scheduler's driver contract.
func (bi *Instance) Close() {
	bi.Terminate()
}

// BrowserVersion returns the product string, e.g. "HeadlessChrome/120.0".
func (bi *Instance) BrowserVersion() string {
	return bi.browserVersion
}

// newTab opens a tab inside a dedicated browser context, so jobs share no
// cookies, storage, or cache. The context is disposed when the tab detaches.
func (bi *Instance) newTab() (context.Context, context.CancelFunc, error) {
	var targetID target.ID
	err := chromedp.Run(bi.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		browserCtxID, err := target.CreateBrowserContext().
			WithDisposeOnDetach(true).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("creating browser context: %w", err)
		}
		targetID, err = target.CreateTarget("about:blank").
			WithBrowserContextID(browserCtxID).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("creating target: %w", err)
		}
		return nil
	}))
	if err != nil {
		return nil, nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(bi.ctx, chromedp.WithTargetID(targetID))
	return tabCtx, tabCancel, nil
}
