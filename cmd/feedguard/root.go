package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"FeedGuard/internal/app"
	"FeedGuard/internal/config"
	"FeedGuard/internal/logging"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "feedguard",
		Short:        "Blur engagement bait in social feeds",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "Config file path (defaults to $FEEDGUARD_CONFIG).")
	cmd.PersistentFlags().String("log-level", "", "Logging level: debug|info|warn|error.")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newReplayCmd())
	cmd.AddCommand(newAnalyzeCmd())
	return cmd
}

// loadApp reads configuration honouring the persistent flags and builds the
// application. The returned closer flushes the log file.
func loadApp(cmd *cobra.Command) (*app.Application, *slog.Logger, io.Closer) {
	path, _ := cmd.Flags().GetString("config")
	var cfg config.Config
	if path != "" {
		cfg = config.LoadFrom(path)
	} else {
		cfg = config.Load()
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}

	logger, closer := logging.New(cfg.Logging)
	return app.New(cfg, logger), logger, closer
}
