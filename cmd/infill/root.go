package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-infill/internal/config"
	"github.com/23skdu/longbow-infill/internal/logger"
	"github.com/23skdu/longbow-infill/internal/monitoring"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	mon := monitoring.NewHealthMonitor()
	serving := false

	root := &cobra.Command{
		Use:           "infill",
		Short:         "Build and ship masked seq2seq training batches",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger.Setup(cfg.LogLevel, cfg.LogFormat)
			if cfg.MetricsAddr == "" {
				return nil
			}
			serving = true
			go func() {
				if err := mon.Start(cfg.MetricsAddr); err != nil {
					logger.Log.Error("health monitor error", "error", err)
				}
			}()
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if !serving {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mon.Stop(ctx)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	pf.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (console, json)")
	pf.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address for health, status and Prometheus endpoints, empty to disable")

	root.AddCommand(
		newPrepareCmd(cfg, mon),
		newFormatCmd(cfg),
		newReformatCmd(),
		newInspectCmd(cfg),
		newCollectCmd(),
	)
	return root
}
