package fragmux

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, byte('a'), cfg.ProjectID)
	assert.Equal(t, 100, cfg.MaxItems)
	assert.Equal(t, 2*time.Second, cfg.DiscoveryBackoff)
	assert.Equal(t, DefaultWaitSlice, cfg.WaitSlice)

	exe, err := os.Executable()
	require.NoError(t, err)
	assert.Equal(t, exe, cfg.KeyPath)
}

func TestConfigValidate(t *testing.T) {
	mutations := map[string]func(*Config){
		"no key path":        func(c *Config) { c.KeyPath = "" },
		"no project id":      func(c *Config) { c.ProjectID = 0 },
		"no fifo dir":        func(c *Config) { c.FIFODir = "" },
		"one slot":           func(c *Config) { c.SlotCount = 1 },
		"negative items":     func(c *Config) { c.MaxItems = -1 },
		"too many items":     func(c *Config) { c.MaxItems = 1 << 15 },
		"allowance overflow": func(c *Config) { c.MaxItems = MaxAnnouncedItems + 1 },
		"zero poll":          func(c *Config) { c.PollInterval = 0 },
		"negative slice":     func(c *Config) { c.WaitSlice = -time.Second },
		"zero backoff":       func(c *Config) { c.DiscoveryBackoff = 0 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := DefaultConfig()
	cfg.MaxItems = MaxAnnouncedItems
	assert.NoError(t, cfg.Validate())
	assert.LessOrEqual(t, 2*cfg.MaxItems, math.MaxInt16, "the allowance fits one semaphore delta")
}

func TestConfigFIFOPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FIFODir = "/run/fragmux"

	assert.Equal(t, filepath.Join("/run/fragmux", "fragmux_fifo_a"), cfg.FIFOPath(FIFOA))
	assert.Equal(t, filepath.Join("/run/fragmux", "fragmux_fifo_b"), cfg.FIFOPath(FIFOB))
	assert.NotEqual(t, cfg.FIFOPath(FIFOA), cfg.FIFOPath(FIFOB))
	assert.Empty(t, cfg.FIFOPath(MsgQueue))
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetricsAddr = "localhost:9090"
	out := cfg.String()

	for _, section := range []string{"IPC KEY", "CHANNELS", "ITEMS", "TIMING", "LOGGING"} {
		assert.Contains(t, out, section)
	}
	assert.Contains(t, out, "'a'")
	assert.Contains(t, out, "localhost:9090")
}
