// File: cmd/connect.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/depotgraph/internal/connections"
	"github.com/xkilldash9x/depotgraph/internal/observability"
	"github.com/xkilldash9x/depotgraph/internal/service"
	"github.com/xkilldash9x/depotgraph/pkg/graphmodel"
)

// maintainerCall runs one maintainer operation against loaded components.
type maintainerCall func(ctx context.Context, c *service.Components) (connections.Report, error)

// runMaintainer loads the graph, runs call, prints the report and warns about
// hierarchy violations the change did not explain.
func runMaintainer(cmd *cobra.Command, call maintainerCall) error {
	return runWithComponents(cmd, true, func(ctx context.Context, c *service.Components) error {
		rep, err := call(ctx, c)
		if err != nil {
			return err
		}
		printReport(cmd.OutOrStdout(), rep)

		remaining := connections.ExcludeSkipped(connections.Audit(c.Live.Snapshot()), rep)
		if len(remaining) > 0 {
			observability.GetLogger().Warn("Hierarchy violations remain after the change, run 'depotgraph audit' for details",
				zap.Int("violations", len(remaining)))
		}
		return nil
	})
}

func lookupWarehouse(ctx context.Context, c *service.Components, id int64) (graphmodel.Warehouse, error) {
	n, err := c.Store.Warehouse(ctx, id)
	if err != nil {
		return graphmodel.Warehouse{}, err
	}
	return n.Warehouse, nil
}

// newConnectCmd groups the promotion commands.
func newConnectCmd() *cobra.Command {
	connectCmd := &cobra.Command{
		Use:   "connect",
		Short: "Connects a warehouse after its role changed in the store",
	}
	connectCmd.PersistentFlags().Int("workers", 0, "Concurrent distance lookups. (Overrides config/env)")
	connectCmd.AddCommand(newConnectRegionMainCmd(), newConnectCityMainCmd(), newConnectPlainCmd())
	return connectCmd
}

func newConnectRegionMainCmd() *cobra.Command {
	var countryID, regionID, warehouseID int64
	cmd := &cobra.Command{
		Use:   "region-main",
		Short: "Promotes a warehouse to region main",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaintainer(cmd, func(ctx context.Context, c *service.Components) (connections.Report, error) {
				w, err := lookupWarehouse(ctx, c, warehouseID)
				if err != nil {
					return connections.Report{}, err
				}
				return c.Maintainer.PromoteRegionMain(ctx, countryID, regionID, w)
			})
		},
	}
	cmd.Flags().Int64Var(&countryID, "country", 0, "Country id")
	cmd.Flags().Int64Var(&regionID, "region", 0, "Region id")
	cmd.Flags().Int64Var(&warehouseID, "warehouse", 0, "Warehouse id")
	for _, name := range []string{"country", "region", "warehouse"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newConnectCityMainCmd() *cobra.Command {
	var regionID, cityID, regionMainID, warehouseID int64
	cmd := &cobra.Command{
		Use:   "city-main",
		Short: "Promotes a warehouse to city main",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaintainer(cmd, func(ctx context.Context, c *service.Components) (connections.Report, error) {
				w, err := lookupWarehouse(ctx, c, warehouseID)
				if err != nil {
					return connections.Report{}, err
				}
				var regionMain *graphmodel.Warehouse
				if regionMainID > 0 {
					rm, err := lookupWarehouse(ctx, c, regionMainID)
					if err != nil {
						return connections.Report{}, err
					}
					regionMain = &rm
				}
				return c.Maintainer.PromoteCityMain(ctx, regionID, cityID, regionMain, w)
			})
		},
	}
	cmd.Flags().Int64Var(&regionID, "region", 0, "Region id")
	cmd.Flags().Int64Var(&cityID, "city", 0, "City id")
	cmd.Flags().Int64Var(&regionMainID, "region-main", 0, "Region main warehouse id, if the region has one")
	cmd.Flags().Int64Var(&warehouseID, "warehouse", 0, "Warehouse id")
	for _, name := range []string{"region", "city", "warehouse"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newConnectPlainCmd() *cobra.Command {
	var cityMainID, warehouseID int64
	cmd := &cobra.Command{
		Use:   "plain",
		Short: "Connects an ordinary warehouse to its city main",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaintainer(cmd, func(ctx context.Context, c *service.Components) (connections.Report, error) {
				cm, err := lookupWarehouse(ctx, c, cityMainID)
				if err != nil {
					return connections.Report{}, err
				}
				w, err := lookupWarehouse(ctx, c, warehouseID)
				if err != nil {
					return connections.Report{}, err
				}
				return c.Maintainer.AddPlainWarehouse(ctx, cm, w)
			})
		},
	}
	cmd.Flags().Int64Var(&cityMainID, "city-main", 0, "City main warehouse id")
	cmd.Flags().Int64Var(&warehouseID, "warehouse", 0, "Warehouse id")
	_ = cmd.MarkFlagRequired("city-main")
	_ = cmd.MarkFlagRequired("warehouse")
	return cmd
}

// newDisconnectCmd groups the demotion and removal commands.
func newDisconnectCmd() *cobra.Command {
	disconnectCmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Removes the connections of a warehouse that lost its role or was deleted",
	}
	disconnectCmd.AddCommand(
		newDisconnectMainCmd("region-main", "region", func(ctx context.Context, c *service.Components, loc, id int64) (connections.Report, error) {
			return c.Maintainer.DemoteRegionMain(ctx, loc, id)
		}),
		newDisconnectMainCmd("city-main", "city", func(ctx context.Context, c *service.Components, loc, id int64) (connections.Report, error) {
			return c.Maintainer.DemoteCityMain(ctx, loc, id)
		}),
		newDisconnectWarehouseCmd(),
	)
	return disconnectCmd
}

func newDisconnectMainCmd(use, locationFlag string, demote func(ctx context.Context, c *service.Components, loc, id int64) (connections.Report, error)) *cobra.Command {
	var locationID, warehouseID int64
	cmd := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Demotes the %s of a %s", use, locationFlag),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaintainer(cmd, func(ctx context.Context, c *service.Components) (connections.Report, error) {
				return demote(ctx, c, locationID, warehouseID)
			})
		},
	}
	cmd.Flags().Int64Var(&locationID, locationFlag, 0, fmt.Sprintf("%s id", locationFlag))
	cmd.Flags().Int64Var(&warehouseID, "warehouse", 0, "Warehouse id")
	_ = cmd.MarkFlagRequired(locationFlag)
	_ = cmd.MarkFlagRequired("warehouse")
	return cmd
}

func newDisconnectWarehouseCmd() *cobra.Command {
	var warehouseID int64
	cmd := &cobra.Command{
		Use:   "warehouse",
		Short: "Removes a deleted warehouse and all of its connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaintainer(cmd, func(ctx context.Context, c *service.Components) (connections.Report, error) {
				return c.Maintainer.RemoveWarehouse(ctx, warehouseID)
			})
		},
	}
	cmd.Flags().Int64Var(&warehouseID, "warehouse", 0, "Warehouse id")
	_ = cmd.MarkFlagRequired("warehouse")
	return cmd
}
