// Package pipeline runs the offline build (parse, diff, title, persist) and
// assembles the query runtime from a persisted graph.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"specgraph/internal/analysis"
	"specgraph/internal/generator"
	"specgraph/internal/git"
	"specgraph/internal/graph"
	"specgraph/internal/knowledge"
	"specgraph/internal/logger"
	"specgraph/internal/parser"
	"specgraph/internal/section"
	"specgraph/internal/storage"
)

// Build turns two document versions into the diff graph plus one
// single-version graph per side, and persists all three.
type Build struct {
	OldPath     string
	NewPath     string
	ChangesPath string
	// ReportPath, when set, receives a Markdown revision report.
	ReportPath string
	Policy     graph.DanglingPolicy

	// With a revision set, the matching path is read from that commit of
	// the git repository at Repo instead of the working tree.
	Repo   string
	OldRev string
	NewRev string

	Store    storage.GraphStore
	Embedder knowledge.Embedder
	// Summarizer fills titles the parser could not provide. Optional.
	Summarizer *knowledge.TitleSummarizer

	Log *logger.Logger
	Out io.Writer
}

type BuildResult struct {
	Diff *graph.Graph
	Old  *graph.Graph
	New  *graph.Graph
	// Dropped lists raw keys lost to duplicate definitions.
	Dropped []string
	Impact  *analysis.ImpactReport
}

type parsedVersions struct {
	old parser.Sections
	new parser.Sections
}

func (b *Build) Run(ctx context.Context) (*BuildResult, error) {
	if b.Log == nil {
		b.Log = logger.Nop()
	}
	if b.Out == nil {
		b.Out = io.Discard
	}
	if b.Policy == "" {
		b.Policy = graph.DanglingFlag
	}
	log := b.Log.Component("build")

	parsed, dropped, err := b.parseStage(ctx)
	if err != nil {
		return nil, err
	}

	res, err := b.graphStage(ctx, parsed)
	if err != nil {
		return nil, err
	}
	res.Dropped = dropped

	b.titleStage(ctx, res, parsed)
	res.Impact = b.impactStage(res.Diff)

	if err := b.saveStage(ctx, res); err != nil {
		return nil, err
	}
	if err := b.changesStage(res.Diff); err != nil {
		return nil, err
	}
	if err := b.reportStage(res.Diff); err != nil {
		return nil, err
	}

	log.Info().
		Int("nodes", res.Diff.Len()).
		Int("edges", res.Diff.EdgeCount()).
		Int("dangling", res.Diff.DanglingCount()).
		Int("dropped_keys", len(dropped)).
		Msg("build finished")
	return res, nil
}

func (b *Build) parseStage(ctx context.Context) (*parsedVersions, []string, error) {
	cr := parser.NewCrawler()

	if b.OldRev != "" && b.NewRev != "" {
		if changed, err := git.ChangedFiles(ctx, b.repo(), b.OldRev, b.NewRev); err == nil {
			fmt.Fprintf(b.Out, "📝 %d files differ between %s and %s.\n", len(changed), b.OldRev, b.NewRev)
		}
	}

	oldSections, oldDups, err := b.load(ctx, cr, "old", b.OldPath, b.OldRev)
	if err != nil {
		return nil, nil, err
	}
	newSections, newDups, err := b.load(ctx, cr, "new", b.NewPath, b.NewRev)
	if err != nil {
		return nil, nil, err
	}

	dropped := append(oldDups, newDups...)
	for _, k := range dropped {
		b.Log.Warn().Str("key", k).Msg("duplicate section definition ignored")
	}
	return &parsedVersions{old: oldSections, new: newSections}, dropped, nil
}

func (b *Build) load(ctx context.Context, cr *parser.Crawler, side, path, rev string) (parser.Sections, []string, error) {
	if rev == "" {
		fmt.Fprintf(b.Out, "📂 Reading %s version: %s\n", side, path)
		s, dups, err := cr.Load(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load %s version: %w", side, err)
		}
		return s, dups, nil
	}
	fmt.Fprintf(b.Out, "📂 Reading %s version: %s at %s\n", side, path, rev)
	s, dups, err := cr.LoadRevision(ctx, b.repo(), rev, path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load %s version: %w", side, err)
	}
	return s, dups, nil
}

func (b *Build) repo() string {
	if b.Repo == "" {
		return "."
	}
	return b.Repo
}

func (b *Build) graphStage(ctx context.Context, parsed *parsedVersions) (*BuildResult, error) {
	builder := graph.NewBuilder(b.Embedder, b.Log)

	fmt.Fprintln(b.Out, "🚀 Building diff graph...")
	start := time.Now()
	diff, err := builder.BuildDiff(ctx, parsed.old.Bodies(), parsed.new.Bodies())
	if err != nil {
		return nil, fmt.Errorf("diff graph build failed: %w", err)
	}
	counts := diff.CountByChange()
	fmt.Fprintf(b.Out, "✅ Graph built in %v. Found %d nodes (%d added, %d removed, %d modified, %d unchanged).\n",
		time.Since(start).Round(time.Millisecond), diff.Len(),
		counts[graph.ChangeAdded], counts[graph.ChangeRemoved], counts[graph.ChangeModified], counts[graph.ChangeUnchanged])
	fmt.Fprintf(b.Out, "  -> Mention edges: %d, dangling: %d\n", diff.EdgeCount(), diff.DanglingCount())

	return &BuildResult{
		Diff: diff,
		Old:  builder.BuildSingleVersion(parsed.old.Bodies()),
		New:  builder.BuildSingleVersion(parsed.new.Bodies()),
	}, nil
}

// titleStage attaches parsed titles, preferring the new version, then
// generates the rest when a summarizer is configured.
func (b *Build) titleStage(ctx context.Context, res *BuildResult, parsed *parsedVersions) {
	oldTitles := parsed.old.Titles()
	newTitles := parsed.new.Titles()

	applyTitles(res.Old, oldTitles)
	applyTitles(res.New, newTitles)
	applyTitles(res.Diff, oldTitles)
	applyTitles(res.Diff, newTitles)

	if b.Summarizer == nil {
		return
	}
	missing := res.Diff.MissingTitles()
	if len(missing) == 0 {
		return
	}
	fmt.Fprintf(b.Out, "✍️  Generating titles for %d sections...\n", len(missing))
	generated := b.Summarizer.SummarizeAll(ctx, missing)
	applyTitles(res.Diff, generated)
	for _, g := range []*graph.Graph{res.Old, res.New} {
		for _, item := range g.MissingTitles() {
			if t, ok := generated[item.ID]; ok {
				_ = g.SetTitle(item.ID, t)
			}
		}
	}
}

func (b *Build) impactStage(diff *graph.Graph) *analysis.ImpactReport {
	fmt.Fprintln(b.Out, "🔍 Analyzing impact...")
	report := analysis.NewAnalyzer(diff).AnalyzeImpact()
	fmt.Fprintf(b.Out, "  -> %d sections directly changed\n", len(report.DirectlyAffected))
	fmt.Fprintf(b.Out, "  -> %d unchanged sections mention a changed one\n", len(report.IndirectlyAffected))
	b.Log.Debug().
		Strs("indirect", analysis.IDs(report.IndirectlyAffected)).
		Msg("sections to review")
	return report
}

func (b *Build) saveStage(ctx context.Context, res *BuildResult) error {
	if b.Store == nil {
		return nil
	}
	fmt.Fprintln(b.Out, "💾 Saving graphs to local database...")
	for name, g := range map[string]*graph.Graph{
		storage.GraphDiff: res.Diff,
		storage.GraphOld:  res.Old,
		storage.GraphNew:  res.New,
	} {
		if err := b.Store.SaveGraph(ctx, name, g); err != nil {
			return fmt.Errorf("failed to save %s graph: %w", name, err)
		}
	}
	return nil
}

func (b *Build) changesStage(diff *graph.Graph) error {
	if b.ChangesPath == "" {
		return nil
	}
	if err := WriteJSON(b.ChangesPath, diff.ChangesView()); err != nil {
		return fmt.Errorf("failed to write changes: %w", err)
	}
	fmt.Fprintf(b.Out, "📝 Changes written to %s\n", b.ChangesPath)
	return nil
}

func (b *Build) reportStage(diff *graph.Graph) error {
	if b.ReportPath == "" {
		return nil
	}
	if err := generator.NewReportGenerator(b.Policy).WriteReport(b.ReportPath, diff); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	fmt.Fprintf(b.Out, "📄 Report written to %s\n", b.ReportPath)
	return nil
}

func applyTitles(g *graph.Graph, titles map[section.ID]string) {
	for id, t := range titles {
		if g.Has(id) {
			_ = g.SetTitle(id, t)
		}
	}
}

// WriteJSON writes v as indented JSON, creating parent directories.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
