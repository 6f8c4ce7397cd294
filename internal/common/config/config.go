// Package config loads the Pumpkin YAML configuration and applies
// environment overrides. DATABASE_URL is the only hard requirement;
// everything else has a usable default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables recognized at startup.
const (
	EnvDatabaseURL = "DATABASE_URL"
	EnvPort        = "PORT"
	EnvTestURL     = "TEST_URL"
	EnvTestRunID   = "TEST_RUN_ID"
	EnvRedisURL    = "REDIS_URL"
)

// DefaultPort is the HTTP listen port when PORT is unset.
const DefaultPort = 3000

// Config is the root configuration shared by all three binaries.
type Config struct {
	DatabaseURL  string        `yaml:"database_url"`
	Port         int           `yaml:"port"`
	ArtifactRoot string        `yaml:"artifact_root"`
	CompressHAR  bool          `yaml:"compress_har"`
	URLFile      string        `yaml:"url_file"`
	Workers      string        `yaml:"workers"` // "auto" or positive integer
	Browser      BrowserConfig `yaml:"browser"`
	Redis        RedisConfig   `yaml:"redis"`
	Metrics      MetricsConfig `yaml:"metrics"`
	Log          LogConfig     `yaml:"log"`
}

// BrowserConfig holds the measurement protocol knobs. The timeouts default
// to the contract values and are only overridden in tests.
type BrowserConfig struct {
	NavigationTimeout Duration `yaml:"navigation_timeout"`
	LoadEventTimeout  Duration `yaml:"load_event_timeout"`
	SettleDelay       Duration `yaml:"settle_delay"`
	JobDeadline       Duration `yaml:"job_deadline"`
	RestartAfterCount int      `yaml:"restart_after_count"`
	RestartAfterTime  Duration `yaml:"restart_after_time"`
}

// RedisConfig configures the optional read-side query cache.
type RedisConfig struct {
	Enabled bool     `yaml:"enabled"`
	Addr    string   `yaml:"addr"`
	TTL     Duration `yaml:"ttl"`
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// Log level and format names.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	LogFormatConsole = "console"
	LogFormatText    = "text"
	LogFormatJSON    = "json"
)

// LogConfig mirrors the console/file dual-output logging section.
type LogConfig struct {
	Level   string           `yaml:"level"`
	Console ConsoleLogConfig `yaml:"console"`
	File    FileLogConfig    `yaml:"file"`
}

// ConsoleLogConfig configures stdout logging.
type ConsoleLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

// FileLogConfig configures rotated file logging.
type FileLogConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Level    string         `yaml:"level"`
	Format   string         `yaml:"format"`
	Path     string         `yaml:"path"`
	Rotation RotationConfig `yaml:"rotation"`
}

// RotationConfig maps directly onto lumberjack settings.
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"` // megabytes
	MaxAge     int  `yaml:"max_age"`  // days
	MaxBackups int  `yaml:"max_backups"`
	Compress   bool `yaml:"compress"`
}

// Duration is a yaml-friendly time.Duration ("30s", "2m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns a Config with the contract defaults applied.
func Default() *Config {
	return &Config{
		Port:         DefaultPort,
		ArtifactRoot: "/app/test-history",
		URLFile:      "urls.txt",
		Workers:      "auto",
		Browser: BrowserConfig{
			NavigationTimeout: Duration(60 * time.Second),
			LoadEventTimeout:  Duration(60 * time.Second),
			SettleDelay:       Duration(2 * time.Second),
			JobDeadline:       Duration(120 * time.Second),
			RestartAfterCount: 100,
			RestartAfterTime:  Duration(60 * time.Minute),
		},
		Redis: RedisConfig{
			TTL: Duration(30 * time.Second),
		},
		Metrics: MetricsConfig{
			Listen:    ":9091",
			Path:      "/metrics",
			Namespace: "pumpkin",
		},
		Log: LogConfig{
			Level: LogLevelInfo,
			Console: ConsoleLogConfig{
				Enabled: true,
				Format:  LogFormatConsole,
			},
		},
	}
}

// Load reads the YAML file at path (optional: missing file is not an error
// when path is empty), applies environment overrides, and validates the
// result. DATABASE_URL must end up non-empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolving config path: %w", err)
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", abs, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", abs, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Port = port
		}
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Redis.Enabled = true
		c.Redis.Addr = v
	}
}

// Validate checks the invariants every binary relies on.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s is required", EnvDatabaseURL)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535, got %d", c.Port)
	}
	if c.ArtifactRoot == "" {
		return fmt.Errorf("artifact_root cannot be empty")
	}
	if c.Workers != "auto" {
		n, err := strconv.Atoi(c.Workers)
		if err != nil || n <= 0 {
			return fmt.Errorf("workers must be 'auto' or a positive integer")
		}
	}
	if c.Browser.JobDeadline.Std() <= 0 {
		return fmt.Errorf("browser job_deadline must be positive")
	}
	return nil
}
