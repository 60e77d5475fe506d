package main

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/richinsley/fragmux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "0.3.0"

	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "fragmux",
		Short: "multi-channel IPC file transfer",
		Long: fmt.Sprintf(`fragmux (v%s)

A server and a client exchanging files as fragments over two FIFOs, a
System V message queue and a shared-memory slot table at the same time,
synchronized by a single System V semaphore set.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of fragmux",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fragmux v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	defaults := fragmux.DefaultConfig()
	flags := RootCmd.PersistentFlags()

	key := "key-path"
	flags.String(key, defaults.KeyPath, WrapString("Existing file the System V key is derived from. Server and client must use the same path"))

	key = "project-id"
	flags.String(key, string(rune(defaults.ProjectID)), WrapString("Single character mixed into the System V key"))

	key = "fifo-dir"
	flags.String(key, defaults.FIFODir, WrapString("Directory holding the two named pipes"))

	key = "slot-count"
	flags.Int(key, defaults.SlotCount, WrapString("Number of slots in the shared-memory table, the READY marker slot included"))

	key = "wait-slice"
	flags.Duration(key, defaults.WaitSlice, WrapString("Longest single semaphore sleep before a pending shutdown is noticed"))

	key = "poll-interval"
	flags.Duration(key, defaults.PollInterval, WrapString("Sleep between idle polling rounds"))

	key = "log-level"
	flags.String(key, defaults.LogLevel, WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "log-dev"
	flags.Bool(key, false, WrapString("Human-readable console logs instead of JSON"))

	RootCmd.AddCommand(versionCmd, serverCmd, clientCmd, workerCmd)
}

func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("fragmux")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// loadConfig binds the command's flags and reads the shared settings.
func loadConfig(cmd *cobra.Command) (fragmux.Config, error) {
	cfg := fragmux.DefaultConfig()
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return cfg, err
	}

	cfg.KeyPath = viper.GetString("key-path")
	project := viper.GetString("project-id")
	if len(project) != 1 {
		return cfg, fmt.Errorf("invalid project id %q (expected a single character)", project)
	}
	cfg.ProjectID = project[0]
	cfg.FIFODir = viper.GetString("fifo-dir")
	cfg.SlotCount = viper.GetInt("slot-count")
	cfg.WaitSlice = viper.GetDuration("wait-slice")
	cfg.PollInterval = viper.GetDuration("poll-interval")
	cfg.LogLevel = viper.GetString("log-level")
	cfg.LogDev = viper.GetBool("log-dev")

	if viper.IsSet("max-items") {
		cfg.MaxItems = viper.GetInt("max-items")
	}
	if viper.IsSet("pattern") {
		cfg.Pattern = viper.GetString("pattern")
	}
	if viper.IsSet("discovery-backoff") {
		cfg.DiscoveryBackoff = viper.GetDuration("discovery-backoff")
	}
	cfg.MetricsAddr = viper.GetString("metrics-addr")

	return cfg, cfg.Validate()
}

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}
