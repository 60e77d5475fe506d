package main

import (
	"context"
	"fmt"
	"os"

	"github.com/richinsley/fragmux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var clientCmd = &cobra.Command{
	Use:   "client <dir>",
	Short: "Send the files of a directory to the server on every SIGINT",
	Long: `Attach to a running server, waiting for it to appear, then send every file of <dir> each time SIGINT is received. SIGUSR1 or SIGTERM end the client.

Every flag can also be set as FRAGMUX_<flag> (e.g. FRAGMUX_MAX_ITEMS=20).`,
	Args: cobra.ExactArgs(1),
	RunE: runClient,
}

func init() {
	defaults := fragmux.DefaultConfig()

	key := "max-items"
	clientCmd.Flags().Int(key, defaults.MaxItems, WrapString("Most files sent in one session"))

	key = "pattern"
	clientCmd.Flags().String(key, defaults.Pattern, WrapString("Doublestar pattern selecting files, relative to <dir> (e.g. **/*.txt)"))

	key = "discovery-backoff"
	clientCmd.Flags().Duration(key, defaults.DiscoveryBackoff, WrapString("Delay between attempts to find the server"))
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer log.Sync()

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	launcher := fragmux.ExecLauncher{
		Path: exe,
		Args: []string{"worker", "--log-level", cfg.LogLevel, fmt.Sprintf("--log-dev=%t", cfg.LogDev)},
	}
	coord, err := fragmux.NewCoordinator(cfg, args[0], launcher, log)
	if err != nil {
		return err
	}

	ctx, events, stop := fragmux.NotifyEvents(context.Background())
	defer stop()

	if err := coord.Run(ctx, events); err != nil {
		log.Error("client stopped", zap.Error(err))
		return err
	}
	return nil
}
