package main

import (
	"context"
	"os"

	"github.com/richinsley/fragmux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// workerCmd is started by the client, once per item. It is not meant to be
// run by hand.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Send one item (internal)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		log, err := newLogger(viper.GetString("log-level"), viper.GetBool("log-dev"), "stderr")
		if err != nil {
			return err
		}
		defer log.Sync()

		if err := fragmux.WorkerMain(context.Background(), os.Stdin, log); err != nil {
			log.Error("worker failed", zap.Error(err))
			return err
		}
		return nil
	},
}
