package main

import (
	"github.com/spf13/cobra"
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <snapshot.html|url>...",
		Short: "Run saved or fetched feed pages through the engine",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, _, closer := loadApp(cmd)
			defer closer.Close()

			pageURL, _ := cmd.Flags().GetString("url")
			record, _ := cmd.Flags().GetBool("record")
			return application.Replay(cmd.Context(), args, pageURL, record, cmd.OutOrStdout())
		},
	}

	cmd.Flags().String("url", "", "Page address for saved snapshots without a canonical link.")
	cmd.Flags().Bool("record", false, "Persist scores and impressions to the configured database.")
	return cmd
}
