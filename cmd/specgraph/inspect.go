package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"specgraph/internal/generator"
	"specgraph/internal/graph"
	"specgraph/internal/section"
	"specgraph/internal/storage"
)

// loadGraph opens the store and reads one named snapshot.
func loadGraph(cmd *cobra.Command, flags *globalFlags, name string) (*app, *graph.Graph, error) {
	a, err := loadApp(cmd, flags)
	if err != nil {
		return nil, nil, err
	}
	store, err := a.openStore()
	if err != nil {
		return nil, nil, err
	}
	defer store.Close()

	g, err := store.LoadGraph(cmd.Context(), name)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load graph: %w", err)
	}
	return a, g, nil
}

func newImpactCmd(flags *globalFlags) *cobra.Command {
	var (
		depth int
		name  string
	)
	cmd := &cobra.Command{
		Use:   "impact <section>",
		Short: "List sections reached from a section through mention edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, g, err := loadGraph(cmd, flags, name)
			if err != nil {
				return err
			}
			id := section.Normalize(args[0])
			impacts, err := g.DownstreamImpact(id, depth, a.cfg.DanglingPolicy())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(impacts) == 0 {
				fmt.Fprintf(out, "No sections reached from %s within depth %d.\n", id, depth)
				return nil
			}
			fmt.Fprintf(out, "🔍 Impact of %s (depth %d):\n", id, depth)
			for _, im := range impacts {
				suffix := ""
				if im.Dangling {
					suffix = " (not in graph)"
				}
				fmt.Fprintf(out, "  [%d] %s%s\n", im.Distance, im.ID, suffix)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 2, "Maximum number of hops")
	cmd.Flags().StringVar(&name, "graph", storage.GraphDiff, "Graph to read: diff, old or new")
	return cmd
}

func newExplainCmd(flags *globalFlags) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "explain <section>",
		Short: "Explain how changes propagate from a section",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, g, err := loadGraph(cmd, flags, storage.GraphDiff)
			if err != nil {
				return err
			}
			report, err := g.ExplainChanges(section.Normalize(args[0]), depth, a.cfg.DanglingPolicy())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 2, "Maximum number of hops")
	return cmd
}

func newInspectCmd(flags *globalFlags) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "inspect <section>",
		Short: "Print the stored attributes of one section",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, g, err := loadGraph(cmd, flags, name)
			if err != nil {
				return err
			}
			report, err := g.Inspect(section.Normalize(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "graph", storage.GraphDiff, "Graph to read: diff, old or new")
	return cmd
}

func newChangesCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "changes",
		Short: "Print every changed section as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, g, err := loadGraph(cmd, flags, storage.GraphDiff)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(g.ChangesView())
		},
	}
}

func newReportCmd(flags *globalFlags) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the stored diff graph as a Markdown revision report",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, g, err := loadGraph(cmd, flags, storage.GraphDiff)
			if err != nil {
				return err
			}
			gen := generator.NewReportGenerator(a.cfg.DanglingPolicy())
			if outPath == "" {
				fmt.Fprint(cmd.OutOrStdout(), gen.Generate(g))
				return nil
			}
			if err := gen.WriteReport(outPath, g); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "📄 Report written to %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Write to this file instead of stdout")
	return cmd
}
