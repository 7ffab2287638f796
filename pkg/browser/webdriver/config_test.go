package webdriver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, "chromedriver", cfg.DriverPath)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.OperationTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestConfigKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		DriverPath:       "/opt/chromedriver",
		BrowserPath:      "/opt/chrome",
		ConnectTimeout:   time.Second,
		OperationTimeout: 5 * time.Second,
	}.withDefaults()
	assert.Equal(t, "/opt/chromedriver", cfg.DriverPath)
	assert.Equal(t, "/opt/chrome", cfg.BrowserPath)
	assert.Equal(t, time.Second, cfg.ConnectTimeout)
}

func TestConfigValidateRejectsEmptyDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DriverPath = "  "
	assert.Error(t, cfg.Validate())
}

func TestNewRuntimeAppliesDefaults(t *testing.T) {
	rt, err := NewRuntime(Config{})
	require.NoError(t, err)
	assert.Equal(t, "chromedriver", rt.cfg.DriverPath)
}
