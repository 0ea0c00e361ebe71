package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/exitguard/internal/app"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Archive closed positions to object storage once",
	Long: `Archive exports positions closed before the retention cutoff to
archive/positions/YYYY-MM.jsonl in the configured bucket. archive.enabled
must be set.`,
	RunE: runArchive,
}

func init() {
	rootCmd.AddCommand(archiveCmd)
}

func runArchive(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig("")
	if err != nil {
		return err
	}

	application := app.New(cfg, logger)
	defer application.Close()

	n, err := application.ArchiveOnce(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d position(s) archived\n", n)
	return nil
}
