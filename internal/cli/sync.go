package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	var (
		refresh    bool
		pruneOlder time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile today's shipment records against the remote source",
		Long: "Fetches shipment records from the remote source and merges them with " +
			"today's snapshot, preserving per-record dispatch state. When a snapshot " +
			"from today already exists the remote fetch is skipped unless --refresh " +
			"is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := buildApplication(ctx)
			if err != nil {
				return err
			}
			defer a.cleanup()

			count, err := a.app.Sync(ctx, refresh)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Synced %d record(s)\n", count)

			if pruneOlder > 0 {
				cutoff := time.Now().Add(-pruneOlder)
				removed, err := a.store.PruneBefore(cutoff)
				if err != nil {
					a.logger.Warn("Snapshot prune failed", "error", err)
				} else if removed > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d old snapshot file(s)\n", removed)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "fetch from the remote source even if today's snapshot exists")
	cmd.Flags().DurationVar(&pruneOlder, "prune", 0, "delete snapshot files older than this duration (e.g. 720h); 0 disables pruning")
	return cmd
}
