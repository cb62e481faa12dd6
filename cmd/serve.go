// File: cmd/serve.go
package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/depotgraph/internal/observability"
	"github.com/xkilldash9x/depotgraph/internal/service"
)

// newServeCmd creates the long-running `serve` command.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Keeps the graph refreshed and serves path queries over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithComponents(cmd, false, func(ctx context.Context, c *service.Components) error {
				logger := observability.GetLogger()

				// The first cycle runs immediately; queries wait for it through WaitReady.
				c.Engine.Start(ctx)

				err := c.Server.Start(ctx)
				if err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				logger.Info("Serve finished.")
				return nil
			})
		},
	}

	serveCmd.Flags().String("listen", "", "Listen address, e.g. :8080. (Overrides config/env)")
	serveCmd.Flags().Duration("refresh-interval", time.Minute, "Graph refresh interval. (Overrides config/env)")
	serveCmd.Flags().Int("workers", 0, "Concurrent distance lookups per promotion. (Overrides config/env)")
	return serveCmd
}
