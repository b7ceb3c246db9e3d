// Package generator renders a revision of a specification as a Markdown
// change report.
package generator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"specgraph/internal/analysis"
	"specgraph/internal/graph"
	"specgraph/internal/section"
)

const reportPreview = 160

// ReportGenerator produces the change report in Markdown format.
type ReportGenerator struct {
	mermaid *MermaidGenerator
	policy  graph.DanglingPolicy
	now     func() time.Time
}

func NewReportGenerator(policy graph.DanglingPolicy) *ReportGenerator {
	return &ReportGenerator{mermaid: &MermaidGenerator{}, policy: policy, now: time.Now}
}

// Generate renders the report for a diff graph.
func (r *ReportGenerator) Generate(g *graph.Graph) string {
	impact := analysis.NewAnalyzer(g).AnalyzeImpact()
	counts := g.CountByChange()

	var sb strings.Builder
	sb.WriteString("# Revision report\n\n")
	fmt.Fprintf(&sb, "_Generated %s._\n\n", r.now().UTC().Format(time.RFC3339))

	sb.WriteString("| Change | Sections |\n|---|---|\n")
	for _, ct := range []graph.ChangeType{graph.ChangeAdded, graph.ChangeRemoved, graph.ChangeModified, graph.ChangeUnchanged} {
		fmt.Fprintf(&sb, "| %s | %d |\n", ct, counts[ct])
	}
	fmt.Fprintf(&sb, "\nMention edges: %d (dangling: %d)\n", g.EdgeCount(), g.DanglingCount())

	byType := map[graph.ChangeType][]*graph.Node{}
	for _, n := range impact.DirectlyAffected {
		byType[n.Change.Type()] = append(byType[n.Change.Type()], n)
	}

	r.writeNodes(&sb, "Added", byType[graph.ChangeAdded])
	r.writeModified(&sb, byType[graph.ChangeModified])
	r.writeNodes(&sb, "Removed", byType[graph.ChangeRemoved])

	if len(impact.IndirectlyAffected) > 0 {
		sb.WriteString("\n## Sections to review\n\n")
		sb.WriteString("Unchanged sections that mention a changed one.\n\n")
		for _, n := range impact.IndirectlyAffected {
			var targets []string
			for _, e := range g.OutEdges(n.ID) {
				if t, ok := g.Node(e.Target); ok && t.Change.Type() != graph.ChangeUnchanged {
					targets = append(targets, e.Target)
				}
			}
			fmt.Fprintf(&sb, "- %s mentions %s\n", heading(n), strings.Join(targets, ", "))
		}
	}

	if len(impact.DirectlyAffected) > 0 {
		ids := append(analysis.IDs(impact.DirectlyAffected), analysis.IDs(impact.IndirectlyAffected)...)
		section.Sort(ids)
		sb.WriteString("\n## Mention graph\n\n")
		sb.WriteString(r.mermaid.GenerateChangeFlow(g, ids, r.policy))
	} else {
		sb.WriteString("\nNo section changed.\n")
	}
	return sb.String()
}

// WriteReport renders the report to path, creating parent directories.
func (r *ReportGenerator) WriteReport(path string, g *graph.Graph) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report dir: %w", err)
	}
	return os.WriteFile(path, []byte(r.Generate(g)), 0o644)
}

func (r *ReportGenerator) writeNodes(sb *strings.Builder, title string, nodes []*graph.Node) {
	if len(nodes) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n## %s\n\n", title)
	for _, n := range nodes {
		fmt.Fprintf(sb, "- %s: %s\n", heading(n), graph.Preview(n.Change.Body(), reportPreview))
	}
}

func (r *ReportGenerator) writeModified(sb *strings.Builder, nodes []*graph.Node) {
	if len(nodes) == 0 {
		return
	}
	sb.WriteString("\n## Modified\n\n")
	for _, n := range nodes {
		m := n.Change.(graph.Modified)
		fmt.Fprintf(sb, "- %s (similarity %.3f)\n", heading(n), m.Similarity)
		fmt.Fprintf(sb, "  - before: %s\n", graph.Preview(m.OldText, reportPreview))
		fmt.Fprintf(sb, "  - after: %s\n", graph.Preview(m.NewText, reportPreview))
	}
}

func heading(n *graph.Node) string {
	if t := n.TitleOrEmpty(); t != "" {
		return fmt.Sprintf("**%s** %s", n.ID, t)
	}
	return fmt.Sprintf("**%s**", n.ID)
}
