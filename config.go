package fragmux

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds everything server and client must agree on, plus the local
// tuning knobs of each side.
type Config struct {
	// KeyPath and ProjectID are fed to Ftok. Both sides must use the same.
	KeyPath   string
	ProjectID byte

	// FIFODir holds the two named pipes.
	FIFODir string

	// SlotCount is the size of the slot table, marker slot included.
	SlotCount int

	// MaxItems caps the number of files a session transmits.
	MaxItems int
	// Pattern is the doublestar include pattern applied during the scan.
	Pattern string

	PollInterval     time.Duration
	WaitSlice        time.Duration
	DiscoveryBackoff time.Duration

	MetricsAddr string
	LogLevel    string
	LogDev      bool
}

// DefaultConfig returns the settings used when nothing is overridden. The
// key is derived from the running executable so that a server and a client
// started from the same binary meet.
func DefaultConfig() Config {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	return Config{
		KeyPath:          exe,
		ProjectID:        'a',
		FIFODir:          os.TempDir(),
		SlotCount:        DefaultSlotCount,
		MaxItems:         100,
		Pattern:          "**",
		PollInterval:     time.Millisecond,
		WaitSlice:        DefaultWaitSlice,
		DiscoveryBackoff: 2 * time.Second,
		LogLevel:         "info",
	}
}

// Key derives the System V key shared by every resource.
func (c Config) Key() (Key, error) {
	return Ftok(c.KeyPath, c.ProjectID)
}

// FIFOPath is the filesystem path of a stream channel.
func (c Config) FIFOPath(kind ChannelKind) string {
	switch kind {
	case FIFOA:
		return filepath.Join(c.FIFODir, "fragmux_fifo_a")
	case FIFOB:
		return filepath.Join(c.FIFODir, "fragmux_fifo_b")
	}
	return ""
}

// Validate rejects settings the protocol cannot run with.
func (c Config) Validate() error {
	switch {
	case c.KeyPath == "":
		return fmt.Errorf("config: key path is empty")
	case c.ProjectID == 0:
		return fmt.Errorf("config: project id must be non-zero")
	case c.FIFODir == "":
		return fmt.Errorf("config: fifo dir is empty")
	case c.SlotCount < 2:
		return fmt.Errorf("config: slot count %d, need at least 2", c.SlotCount)
	case c.MaxItems < 0 || c.MaxItems > MaxAnnouncedItems:
		return fmt.Errorf("config: max items %d out of range", c.MaxItems)
	case c.PollInterval <= 0 || c.WaitSlice <= 0 || c.DiscoveryBackoff <= 0:
		return fmt.Errorf("config: intervals must be positive")
	}
	return nil
}

func (c Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("IPC Key")
	addField("Key Path", c.KeyPath)
	addField("Project ID", fmt.Sprintf("%q", c.ProjectID))

	addSection("Channels")
	addField("FIFO A", c.FIFOPath(FIFOA))
	addField("FIFO B", c.FIFOPath(FIFOB))
	addField("Slot Count", fmt.Sprintf("%d", c.SlotCount))

	addSection("Items")
	addField("Max Items", fmt.Sprintf("%d", c.MaxItems))
	addField("Pattern", c.Pattern)

	addSection("Timing")
	addField("Poll Interval", c.PollInterval.String())
	addField("Wait Slice", c.WaitSlice.String())
	addField("Discovery Backoff", c.DiscoveryBackoff.String())

	addSection("Logging")
	addField("Log Level", c.LogLevel)
	addField("Development", fmt.Sprintf("%t", c.LogDev))
	if c.MetricsAddr != "" {
		addField("Metrics", c.MetricsAddr)
	}

	return sb.String()
}
