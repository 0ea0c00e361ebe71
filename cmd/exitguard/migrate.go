package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/exitguard/internal/app"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Migrate applies the embedded PostgreSQL migrations and, when
clickhouse.dsn is set, creates the evaluation journal table.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig("")
	if err != nil {
		return err
	}

	application := app.New(cfg, logger)
	defer application.Close()

	applied, err := application.Migrate(cmd.Context())
	if err != nil {
		return err
	}
	for _, name := range applied {
		logger.Info("migration applied", slog.String("name", name))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d migration(s) applied\n", len(applied))
	return nil
}
