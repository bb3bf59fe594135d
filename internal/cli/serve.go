package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shipdesk/shipnotify/internal/platform/httpserver"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control surface",
		Long: "Starts an HTTP server exposing sync and dispatch operations, run " +
			"status, health and Prometheus metrics. Shuts down gracefully on " +
			"SIGINT/SIGTERM; an active dispatch run is cancelled cooperatively.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApplication(ctx)
			if err != nil {
				return err
			}
			defer a.cleanup()

			router := httpserver.NewRouter(a.app, a.logger)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return httpserver.Serve(gctx, a.cfg.HTTPListenAddr, router, a.logger)
			})
			g.Go(func() error {
				<-gctx.Done()
				// Let an in-flight run wind down instead of abandoning it.
				a.engine.Cancel()
				a.engine.Wait()
				return nil
			})

			err = g.Wait()
			a.logger.Info("Service shut down")
			return err
		},
	}
}
