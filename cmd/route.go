// File: cmd/route.go
package cmd

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/depotgraph/internal/api"
	"github.com/xkilldash9x/depotgraph/internal/service"
)

// newRouteCmd creates the `route` command, a one-shot shortest path query.
func newRouteCmd() *cobra.Command {
	var from, to int64
	var asJSON bool

	routeCmd := &cobra.Command{
		Use:   "route",
		Short: "Loads the graph once and prints the shortest path between two warehouses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithComponents(cmd, true, func(ctx context.Context, c *service.Components) error {
				path, err := c.Live.Snapshot().ShortestPath(from, to)
				if err != nil {
					return err
				}
				resp := api.NewPathResponse(path.Nodes, path.Distance)

				out := cmd.OutOrStdout()
				if asJSON {
					enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(resp)
				}

				fmt.Fprintf(out, "%d -> %d: %.1f m over %d hops\n", from, to, resp.Distance, len(resp.Nodes)-1)
				for i, n := range resp.Nodes {
					fmt.Fprintf(out, "%3d. %-8d %-11s %s (%s, %s)\n", i+1, n.ID, n.Level, n.Building, n.City, n.Region)
				}
				return nil
			})
		},
	}

	routeCmd.Flags().Int64Var(&from, "from", 0, "Source warehouse id")
	routeCmd.Flags().Int64Var(&to, "to", 0, "Destination warehouse id")
	routeCmd.Flags().BoolVar(&asJSON, "json", false, "Print the path as JSON")
	_ = routeCmd.MarkFlagRequired("from")
	_ = routeCmd.MarkFlagRequired("to")
	return routeCmd
}
