package browser

import (
	"time"

	appconfig "github.com/projectpumpkin/pumpkin/internal/common/config"
)

// Config controls one browser worker: measurement timeouts, viewport, and
// the restart policy that bounds Chrome memory growth over long runs.
type Config struct {
	NavigationTimeout time.Duration
	LoadEventTimeout  time.Duration
	SettleDelay       time.Duration

	ViewportWidth  int
	ViewportHeight int

	WarmupURL     string
	WarmupTimeout time.Duration

	RestartAfterCount int
	RestartAfterTime  time.Duration
}

// DefaultConfig returns the standard measurement configuration.
func DefaultConfig() *Config {
	return &Config{
		NavigationTimeout: 60 * time.Second,
		LoadEventTimeout:  60 * time.Second,
		SettleDelay:       2 * time.Second,
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		WarmupURL:         "about:blank",
		WarmupTimeout:     10 * time.Second,
		RestartAfterCount: 100,
		RestartAfterTime:  60 * time.Minute,
	}
}

// FromAppConfig builds a browser Config from the application configuration.
func FromAppConfig(bc appconfig.BrowserConfig) *Config {
	cfg := DefaultConfig()
	if bc.NavigationTimeout > 0 {
		cfg.NavigationTimeout = bc.NavigationTimeout.Std()
	}
	if bc.LoadEventTimeout > 0 {
		cfg.LoadEventTimeout = bc.LoadEventTimeout.Std()
	}
	if bc.SettleDelay > 0 {
		cfg.SettleDelay = bc.SettleDelay.Std()
	}
	if bc.RestartAfterCount > 0 {
		cfg.RestartAfterCount = bc.RestartAfterCount
	}
	if bc.RestartAfterTime > 0 {
		cfg.RestartAfterTime = bc.RestartAfterTime.Std()
	}
	return cfg
}
