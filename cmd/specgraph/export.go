package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"specgraph/internal/storage"
)

func newExportNeo4jCmd(flags *globalFlags) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "export-neo4j",
		Short: "Mirror a stored graph into Neo4j for exploration",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, g, err := loadGraph(cmd, flags, name)
			if err != nil {
				return err
			}
			nc := a.cfg.Neo4j
			if nc.URI == "" {
				return fmt.Errorf("neo4j.uri is not configured")
			}

			exec, err := storage.NewNeo4jExecutor(nc.URI, nc.Username, nc.Password, nc.Database)
			if err != nil {
				return err
			}
			defer exec.Close(ctx)
			if err := exec.Verify(ctx); err != nil {
				return fmt.Errorf("neo4j unreachable: %w", err)
			}

			stats, err := storage.NewNeo4jExporter(exec, a.cfg.DanglingPolicy(), a.log).Export(ctx, name, g)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Exported %d sections and %d mention edges (%d dangling) to %s.\n",
				stats.Nodes, stats.Edges, stats.Dangling, nc.URI)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "graph", storage.GraphDiff, "Graph to export: diff, old or new")
	return cmd
}
