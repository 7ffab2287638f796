// Package config loads the warelay service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete warelay configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Driver  DriverConfig  `yaml:"driver"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	BindAddress    string   `yaml:"bind_address"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DriverConfig controls the WebDriver adapter.
type DriverConfig struct {
	Path             string        `yaml:"path"`
	BrowserPath      string        `yaml:"browser_path"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// BridgeConfig controls the session bridge.
type BridgeConfig struct {
	EntryURL        string        `yaml:"entry_url"`
	OpenTimeout     time.Duration `yaml:"open_timeout"`
	PollTimeout     time.Duration `yaml:"poll_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	RetryBudget     int           `yaml:"retry_budget"`
	ArtifactRefresh time.Duration `yaml:"artifact_refresh"`
	MaxBrowsers     int64         `yaml:"max_browsers"`
	ProfileRoot     string        `yaml:"profile_root"`
	Headful         bool          `yaml:"headful"`
}

// StorageConfig controls session persistence.
type StorageConfig struct {
	DSN string `yaml:"dsn"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:    "127.0.0.1:8380",
			AllowedOrigins: []string{"http://localhost", "http://127.0.0.1"},
		},
		Driver: DriverConfig{
			Path:             "chromedriver",
			ConnectTimeout:   10 * time.Second,
			OperationTimeout: 30 * time.Second,
		},
		Bridge: BridgeConfig{
			EntryURL:        "https://web.whatsapp.com/",
			OpenTimeout:     30 * time.Second,
			PollTimeout:     5 * time.Second,
			PollInterval:    500 * time.Millisecond,
			RetryBudget:     1,
			ArtifactRefresh: time.Second,
			MaxBrowsers:     4,
		},
		Storage: StorageConfig{
			DSN: "warelay.db",
		},
		Logging: LoggingConfig{
			Dir:   "logs",
			Level: "info",
		},
	}
}

// Load reads the config file at path (when non-empty), then applies
// WARELAY_* environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WARELAY_BIND_ADDRESS"); v != "" {
		cfg.Server.BindAddress = v
	}
	if v := os.Getenv("WARELAY_DRIVER_PATH"); v != "" {
		cfg.Driver.Path = v
	}
	if v := os.Getenv("WARELAY_BROWSER_PATH"); v != "" {
		cfg.Driver.BrowserPath = v
	}
	if v := os.Getenv("WARELAY_ENTRY_URL"); v != "" {
		cfg.Bridge.EntryURL = v
	}
	if v := os.Getenv("WARELAY_PROFILE_ROOT"); v != "" {
		cfg.Bridge.ProfileRoot = v
	}
	if v := os.Getenv("WARELAY_MAX_BROWSERS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Bridge.MaxBrowsers = n
		}
	}
	if v := os.Getenv("WARELAY_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("WARELAY_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
	if v := os.Getenv("WARELAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks whether the config is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.BindAddress) == "" {
		return errors.New("server.bind_address is required")
	}
	if strings.TrimSpace(c.Driver.Path) == "" {
		return errors.New("driver.path is required")
	}
	if strings.TrimSpace(c.Bridge.EntryURL) == "" {
		return errors.New("bridge.entry_url is required")
	}
	if c.Bridge.MaxBrowsers < 1 {
		return errors.New("bridge.max_browsers must be at least 1")
	}
	if c.Bridge.RetryBudget < 0 {
		return errors.New("bridge.retry_budget must be zero or positive")
	}
	if strings.TrimSpace(c.Storage.DSN) == "" {
		return errors.New("storage.dsn is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}
