// File: cmd/audit.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/depotgraph/internal/connections"
	"github.com/xkilldash9x/depotgraph/internal/service"
)

// newAuditCmd creates the `audit` command, which checks the persisted
// connections against the hierarchy rules.
func newAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Loads the graph once and reports connections that break the hierarchy rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithComponents(cmd, true, func(ctx context.Context, c *service.Components) error {
				g := c.Live.Snapshot()
				violations := connections.Audit(g)

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "graph version %d: %d warehouses, %d edges\n", c.Live.Version(), g.NodeCount(), g.EdgeCount())
				if len(violations) == 0 {
					fmt.Fprintln(out, "no violations")
					return nil
				}
				for _, v := range violations {
					fmt.Fprintln(out, v.String())
				}
				return fmt.Errorf("%d hierarchy violations found", len(violations))
			})
		},
	}
}
