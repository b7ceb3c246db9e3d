package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"specgraph/internal/graph"
	"specgraph/internal/knowledge"
	"specgraph/internal/pipeline"
	"specgraph/internal/storage"
)

func newBuildCmd(flags *globalFlags) *cobra.Command {
	var (
		oldPath, newPath string
		oldRev, newRev   string
		repo             string
		changesPath      string
		reportPath       string
		summarize        bool
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the diff graph between two document versions and store it locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(cmd, flags)
			if err != nil {
				return err
			}
			if changesPath == "" {
				changesPath = a.cfg.Data.ChangesFile
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			em, err := a.embedder(ctx)
			if err != nil {
				return err
			}

			var titles *knowledge.TitleSummarizer
			if summarize {
				if titles, err = a.summarizer(ctx); err != nil {
					return err
				}
			}

			b := &pipeline.Build{
				OldPath:     oldPath,
				NewPath:     newPath,
				ChangesPath: changesPath,
				ReportPath:  reportPath,
				Policy:      a.cfg.DanglingPolicy(),
				Repo:        repo,
				OldRev:      oldRev,
				NewRev:      newRev,
				Store:       store,
				Embedder:    em,
				Summarizer:  titles,
				Log:         a.log,
				Out:         cmd.OutOrStdout(),
			}
			if _, err := b.Run(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "🎉 Build complete! Database: %s\n", a.cfg.Data.GraphDB)
			return nil
		},
	}
	cmd.Flags().StringVar(&oldPath, "old", "", "Old version: section map (.json), plain text, or a directory of them")
	cmd.Flags().StringVar(&newPath, "new", "", "New version: section map (.json), plain text, or a directory of them")
	cmd.Flags().StringVar(&oldRev, "old-rev", "", "Read --old from this git revision instead of the working tree")
	cmd.Flags().StringVar(&newRev, "new-rev", "", "Read --new from this git revision instead of the working tree")
	cmd.Flags().StringVar(&repo, "repo", ".", "Git repository used with --old-rev/--new-rev")
	cmd.Flags().StringVar(&changesPath, "changes", "", "Where to write the changes JSON (default data.changes_file)")
	cmd.Flags().StringVar(&reportPath, "report", "", "Also write a Markdown revision report to this path")
	cmd.Flags().BoolVar(&summarize, "summarize", false, "Generate titles for sections without one")
	_ = cmd.MarkFlagRequired("old")
	_ = cmd.MarkFlagRequired("new")
	return cmd
}

func newSummarizeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "summarize",
		Short: "Generate titles for stored sections that have none",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(cmd, flags)
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			s, err := a.summarizer(ctx)
			if err != nil {
				return err
			}

			diff, err := store.LoadGraph(ctx, storage.GraphDiff)
			if err != nil {
				return fmt.Errorf("failed to load graph: %w", err)
			}
			missing := diff.MissingTitles()
			if len(missing) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "✅ Every section already has a title.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✍️  Generating titles for %d sections...\n", len(missing))
			titles := s.SummarizeAll(ctx, missing)

			if err := saveTitles(ctx, store, storage.GraphDiff, diff, titles); err != nil {
				return err
			}
			for _, name := range []string{storage.GraphOld, storage.GraphNew} {
				g, err := store.LoadGraph(ctx, name)
				if err != nil {
					a.log.Warn().Err(err).Str("graph", name).Msg("skipping titles for version graph")
					continue
				}
				if err := saveTitles(ctx, store, name, g, titles); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✅ Titles updated.")
			return nil
		},
	}
}

func saveTitles(ctx context.Context, store storage.GraphStore, name string, g *graph.Graph, titles map[string]string) error {
	for _, item := range g.MissingTitles() {
		if t, ok := titles[item.ID]; ok {
			_ = g.SetTitle(item.ID, t)
		}
	}
	if err := store.SaveGraph(ctx, name, g); err != nil {
		return fmt.Errorf("failed to save %s graph: %w", name, err)
	}
	return nil
}
