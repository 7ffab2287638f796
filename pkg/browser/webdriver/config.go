package webdriver

import (
	"errors"
	"strings"
	"time"
)

// Config controls how the WebDriver adapter launches driver processes.
type Config struct {
	// DriverPath is the chromedriver (or compatible) binary.
	DriverPath string
	// BrowserPath overrides the browser binary the driver launches.
	BrowserPath string
	// ConnectTimeout bounds the wait for a freshly spawned driver to
	// accept connections.
	ConnectTimeout time.Duration
	// OperationTimeout is the default per-call deadline when the caller
	// supplies none.
	OperationTimeout time.Duration
	// ExtraArgs are appended to the browser argument list.
	ExtraArgs []string
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		DriverPath:       "chromedriver",
		ConnectTimeout:   10 * time.Second,
		OperationTimeout: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(c.DriverPath) != "" {
		defaults.DriverPath = c.DriverPath
	}
	if strings.TrimSpace(c.BrowserPath) != "" {
		defaults.BrowserPath = c.BrowserPath
	}
	if c.ConnectTimeout != 0 {
		defaults.ConnectTimeout = c.ConnectTimeout
	}
	if c.OperationTimeout != 0 {
		defaults.OperationTimeout = c.OperationTimeout
	}
	if len(c.ExtraArgs) > 0 {
		defaults.ExtraArgs = c.ExtraArgs
	}
	return defaults
}

// Validate checks whether the config is usable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DriverPath) == "" {
		return errors.New("driver_path is required")
	}
	if c.ConnectTimeout < 0 {
		return errors.New("connect_timeout must be zero or positive")
	}
	if c.OperationTimeout < 0 {
		return errors.New("operation_timeout must be zero or positive")
	}
	return nil
}
