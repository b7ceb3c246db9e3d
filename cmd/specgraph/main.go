package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"specgraph/internal/config"
	"specgraph/internal/knowledge"
	"specgraph/internal/logger"
	"specgraph/internal/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	dbPath     string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "specgraph",
		Short:         "Diff graphs and question answering over versioned specifications",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", config.DefaultPath, "Path to the YAML configuration file")
	root.PersistentFlags().StringVarP(&flags.dbPath, "db", "d", "", "Path to the graph database (SQLite), overrides data.graph_db")

	root.AddCommand(
		newBuildCmd(flags),
		newSummarizeCmd(flags),
		newQueryCmd(flags),
		newServeCmd(flags),
		newImpactCmd(flags),
		newExplainCmd(flags),
		newInspectCmd(flags),
		newChangesCmd(flags),
		newReportCmd(flags),
		newExportNeo4jCmd(flags),
	)
	return root
}

// app is the configuration and logger resolved for one command run.
type app struct {
	cfg *config.Config
	log *logger.Logger
}

func loadApp(cmd *cobra.Command, flags *globalFlags) (*app, error) {
	cfg, err := config.LoadConfig(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flags.dbPath != "" {
		cfg.Data.GraphDB = flags.dbPath
	}
	lc := cfg.LoggerConfig()
	lc.Output = cmd.ErrOrStderr()
	return &app{cfg: cfg, log: logger.New(lc)}, nil
}

func (a *app) openStore() (*storage.SQLiteStore, error) {
	if dir := filepath.Dir(a.cfg.Data.GraphDB); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	store, err := storage.NewSQLiteStore(a.cfg.Data.GraphDB)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return store, nil
}

func (a *app) embedder(ctx context.Context) (knowledge.Embedder, error) {
	em, err := knowledge.NewEmbedder(ctx, a.cfg.EmbedderOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return em, nil
}

func (a *app) completer(ctx context.Context) (knowledge.Completer, error) {
	c, err := knowledge.NewCompleter(ctx, a.cfg.CompleterOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create completer: %w", err)
	}
	return c, nil
}

func (a *app) summarizer(ctx context.Context) (*knowledge.TitleSummarizer, error) {
	c, err := a.completer(ctx)
	if err != nil {
		return nil, err
	}
	return knowledge.NewTitleSummarizer(c, a.log,
		knowledge.WithRetryPolicy(a.cfg.SummarizePolicy()),
		knowledge.WithConcurrency(a.cfg.Summarize.Concurrency),
	), nil
}
