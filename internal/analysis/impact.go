// Package analysis reports which sections a revision touches and which
// untouched sections depend on them.
package analysis

import (
	"specgraph/internal/graph"
	"specgraph/internal/section"
)

// ImpactReport summarizes the sections affected by a revision.
type ImpactReport struct {
	// DirectlyAffected holds added, removed and modified sections.
	DirectlyAffected []*graph.Node
	// IndirectlyAffected holds unchanged sections that mention a directly
	// affected one and may need review.
	IndirectlyAffected []*graph.Node
}

// Analyzer performs impact analysis on a diff graph.
type Analyzer struct {
	g *graph.Graph
}

func NewAnalyzer(g *graph.Graph) *Analyzer {
	return &Analyzer{g: g}
}

// AnalyzeImpact walks mention edges backwards from every changed section.
// Both lists are in section order.
func (a *Analyzer) AnalyzeImpact() *ImpactReport {
	report := &ImpactReport{
		DirectlyAffected:   []*graph.Node{},
		IndirectlyAffected: []*graph.Node{},
	}

	// 1. Direct impacts
	changed := make(map[section.ID]bool)
	for _, n := range a.g.Changes() {
		report.DirectlyAffected = append(report.DirectlyAffected, n)
		changed[n.ID] = true
	}

	// 2. Indirect impacts (sections mentioning a changed one)
	dependents := make(map[section.ID]bool)
	for _, e := range a.g.Edges() {
		if changed[e.Target] && !changed[e.Source] {
			dependents[e.Source] = true
		}
	}
	for _, id := range section.SortedKeys(dependents) {
		if n, ok := a.g.Node(id); ok {
			report.IndirectlyAffected = append(report.IndirectlyAffected, n)
		}
	}

	return report
}

// IDs lists node ids in order.
func IDs(nodes []*graph.Node) []section.ID {
	out := make([]section.ID, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}
