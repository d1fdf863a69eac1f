package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/italolelis/transferkit/internal/config"
)

func newCleanupCmd(load func() (*config.Config, error)) *cobra.Command {
	var keep time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete fetched files older than the retention window",
		Long: `Cleanup deletes the files of completed transfers that finished more than
--keep ago (env KEEP_DOWNLOADED_FOR). Journal entries are kept.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("keep") {
				cfg.KeepDownloadedFor = keep
			}

			ctx, a, err := setup(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			n, err := expire(ctx, a)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d expired files\n", n)

			return nil
		},
	}

	cmd.Flags().DurationVar(&keep, "keep", 0, "retention window")

	return cmd
}
