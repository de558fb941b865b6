package main

import (
	"time"

	"github.com/spf13/cobra"
)

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [export.json]",
		Short: "Summarise recorded scores to tune blur thresholds",
		Long: "Reads an export file, or the configured database when no file is given, and " +
			"prints per-platform score distributions with suggested thresholds.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, _, closer := loadApp(cmd)
			defer closer.Close()

			var path string
			if len(args) == 1 {
				path = args[0]
			}
			window, _ := cmd.Flags().GetDuration("since")
			var since time.Time
			if window > 0 {
				since = time.Now().Add(-window)
			}
			return application.Analyze(cmd.Context(), path, since, cmd.OutOrStdout())
		},
	}

	cmd.Flags().Duration("since", 0, "Only analyse database records newer than this (e.g. 168h).")
	return cmd
}
