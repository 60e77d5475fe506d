package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/richinsley/fragmux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Create the IPC resources and receive sessions",
	Long: `Create the FIFOs, the message queue, the slot table and the semaphore set, then receive one session after another until SIGINT or SIGTERM. On shutdown every resource is removed and the last client is sent SIGUSR1.

Every flag can also be set as FRAGMUX_<flag> (e.g. FRAGMUX_SLOT_COUNT=32).`,
	RunE: runServer,
}

func init() {
	key := "metrics-addr"
	serverCmd.Flags().String(key, "", WrapString("Serve Prometheus metrics on this address (e.g. localhost:9090). Disabled when empty"))
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer log.Sync()
	log.Debug("configuration", zap.String("config", cfg.String()))

	ctx, stop := fragmux.NotifyShutdown(context.Background())
	defer stop()

	srv, err := fragmux.NewServer(cfg, log)
	if err != nil {
		log.Error("create resources", zap.Error(err))
		return err
	}

	if cfg.MetricsAddr != "" {
		hs := serveMetrics(cfg.MetricsAddr, srv.Metrics(), log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = hs.Shutdown(shutdownCtx)
		}()
	}

	if err := srv.Run(ctx); err != nil {
		log.Error("server stopped", zap.Error(err))
		return err
	}
	return nil
}

func serveMetrics(addr string, m *fragmux.Metrics, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		m.WritePrometheus(w)
	})
	hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics endpoint", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	return hs
}
