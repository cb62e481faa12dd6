// File: cmd/helpers.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/depotgraph/internal/connections"
	"github.com/xkilldash9x/depotgraph/internal/observability"
	"github.com/xkilldash9x/depotgraph/internal/service"
)

// runWithComponents creates the components for one command invocation and
// releases them afterwards. With loadGraph, one refresh cycle runs first so
// fn sees the current graph.
func runWithComponents(cmd *cobra.Command, loadGraph bool, fn func(ctx context.Context, c *service.Components) error) error {
	ctx := cmd.Context()
	cfg, err := getConfigFromContext(ctx)
	if err != nil {
		return err
	}
	logger := observability.GetLogger()

	components, err := componentFactory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	if loadGraph {
		stats, err := components.Engine.RefreshOnce(ctx)
		if err != nil {
			return fmt.Errorf("loading graph: %w", err)
		}
		logger.Debug("Graph loaded", zap.Object("stats", stats), zap.Uint64("version", components.Live.Version()))
	}
	return fn(ctx, components)
}

// printReport writes a maintainer report in a human readable form.
func printReport(w io.Writer, rep connections.Report) {
	fmt.Fprintf(w, "graph version %d\n", rep.Version)
	for _, c := range rep.Inserted {
		fmt.Fprintf(w, "  + %d <-> %d  %-6s  %.1f m / %.1f m\n", c.A, c.B, c.Type, c.Forward, c.Reverse)
	}
	for _, p := range rep.Unreachable() {
		fmt.Fprintf(w, "  ? %d <-> %d  %-6s  unreachable\n", p.A, p.B, p.Type)
	}
	for _, p := range rep.TooLong() {
		fmt.Fprintf(w, "  ! %d <-> %d  %-6s  exceeds maximum distance\n", p.A, p.B, p.Type)
	}
	for _, p := range rep.StaleRoles() {
		fmt.Fprintf(w, "  ~ %d <-> %d  %-6s  role mismatch, left alone\n", p.A, p.B, p.Type)
	}
	for _, id := range rep.Demoted {
		fmt.Fprintf(w, "  - %d demoted\n", id)
	}
	if rep.EdgesRemoved > 0 {
		fmt.Fprintf(w, "  %d edges removed\n", rep.EdgesRemoved)
	}
}
