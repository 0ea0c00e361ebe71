package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/exitguard/internal/app"
	"github.com/alanyoungcy/exitguard/internal/config"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured mode until interrupted",
	Long: `Run wires every dependency and starts the configured mode:

  monitor  evaluation loop only
  server   HTTP API and WebSocket hub
  full     monitor, API and archive scheduler
  dry_run  monitor against in-memory state, no notifications

Example:
  exitguard run -c config.toml`,
	RunE: runRun,
}

var runMode string

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runMode, "mode", "m", "", "override the configured mode")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(runMode)
	if err != nil {
		return err
	}

	logger.Info("exitguard starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if !errors.Is(err, context.Canceled) {
			logger.Error("application exited with error", slog.String("error", err.Error()))
			return err
		}
		logger.Info("application shut down gracefully")
	}

	logger.Info("exitguard stopped")
	return nil
}
