package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shipdesk/shipnotify/internal/app"
	"github.com/shipdesk/shipnotify/internal/core_shipping/domain"
)

func newSendCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Dispatch pickup messages for today's unsent records",
		Long: "Syncs today's records if needed, groups them by recipient, renders one " +
			"message per recipient and dispatches them sequentially. Ctrl-C requests " +
			"cancellation; the in-flight recipient finishes and the rest are marked " +
			"cancelled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApplication(ctx)
			if err != nil {
				return err
			}
			defer a.cleanup()

			if dryRun {
				messages, err := a.app.RenderPreview(ctx)
				if err != nil {
					if errors.Is(err, app.ErrNothingToSend) {
						fmt.Fprintln(cmd.OutOrStdout(), "Nothing to send.")
						return nil
					}
					return err
				}
				for _, msg := range messages {
					fmt.Fprintf(cmd.OutOrStdout(), "--- %s (%d record(s)) ---\n%s\n\n",
						msg.Recipient, len(msg.Group.Records), msg.Body)
				}
				return nil
			}

			report, err := a.app.RunAndWait(ctx)
			if err != nil {
				if errors.Is(err, app.ErrNothingToSend) {
					fmt.Fprintln(cmd.OutOrStdout(), "Nothing to send.")
					return nil
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Run %s finished: %d sent, %d failed, %d cancelled\n",
				report.RunID, report.Success, report.Failed, report.Cancelled)
			for _, rec := range report.Recipients {
				marker := "✓"
				if rec.Status != domain.StatusSent {
					marker = "✗"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  %s %s: %s\n", marker, rec.Recipient, rec.Status.DisplayLabel())
			}
			if report.WasCancelled {
				fmt.Fprintln(cmd.OutOrStdout(), "Run was cancelled before completion.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "render messages without dispatching them")
	return cmd
}
