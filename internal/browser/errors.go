package browser

import (
	"context"
	"errors"
	"strings"

	"github.com/projectpumpkin/pumpkin/pkg/types"
)

var (
	// ErrNavigateFailed indicates the initial navigation could not start
	ErrNavigateFailed = errors.New("navigation failed")

	// ErrNavigateTimeout indicates navigation did not reach DOM-loaded
	// within the navigation timeout
	ErrNavigateTimeout = errors.New("navigation timed out")

	// ErrLoadTimeout indicates the load event never fired within its wait
	ErrLoadTimeout = errors.New("load event timed out")

	// ErrMetricsExtract indicates the Performance API read failed
	ErrMetricsExtract = errors.New("metrics extraction failed")

	// ErrScreenshot indicates the full-page screenshot capture failed
	ErrScreenshot = errors.New("screenshot capture failed")

	// ErrRestartFailed indicates the browser could not be recreated
	ErrRestartFailed = errors.New("browser restart failed")
)

// StatusForError maps a driver failure onto the measurement status model:
// deadline and navigation timeouts are TIMEOUT, everything else is ERROR.
func StatusForError(err error) types.TestStatus {
	if err == nil {
		return types.TestStatusPassed
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrNavigateTimeout) {
		return types.TestStatusTimeout
	}

	// chromedp surfaces its own timeout wording for some waits
	if strings.Contains(strings.ToLower(err.Error()), "deadline exceeded") {
		return types.TestStatusTimeout
	}

	return types.TestStatusError
}
