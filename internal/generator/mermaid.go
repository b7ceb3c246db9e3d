package generator

import (
	"fmt"
	"regexp"
	"strings"

	"specgraph/internal/graph"
	"specgraph/internal/section"
)

var mermaidUnsafe = regexp.MustCompile(`[^a-z0-9_]`)

// MermaidGenerator renders parts of a diff graph as Mermaid diagrams.
type MermaidGenerator struct{}

// GenerateChangeFlow draws the given sections and the mention edges between
// them, styled by change type. Edges to sections outside ids are omitted
// except dangling ones, which follow policy.
func (m *MermaidGenerator) GenerateChangeFlow(g *graph.Graph, ids []section.ID, policy graph.DanglingPolicy) string {
	include := make(map[section.ID]bool, len(ids))
	for _, id := range ids {
		include[id] = true
	}

	var sb strings.Builder
	sb.WriteString("```mermaid\ngraph LR\n")

	for _, id := range ids {
		n, ok := g.Node(id)
		if !ok {
			continue
		}
		label := n.ID
		if t := n.TitleOrEmpty(); t != "" {
			label += " " + t
		}
		fmt.Fprintf(&sb, "    %s[\"%s\"]:::%s\n", sanitizeMermaidID(n.ID), mermaidLabel(label), n.Change.Type())
	}

	dangling := map[section.ID]bool{}
	for _, id := range ids {
		for _, e := range g.OutEdges(id) {
			switch {
			case g.IsDangling(e):
				if policy == graph.DanglingDrop {
					continue
				}
				if !dangling[e.Target] {
					dangling[e.Target] = true
					fmt.Fprintf(&sb, "    %s[\"%s ?\"]:::dangling\n", sanitizeMermaidID(e.Target), mermaidLabel(e.Target))
				}
				fmt.Fprintf(&sb, "    %s -.-> %s\n", sanitizeMermaidID(e.Source), sanitizeMermaidID(e.Target))
			case include[e.Target]:
				fmt.Fprintf(&sb, "    %s --> %s\n", sanitizeMermaidID(e.Source), sanitizeMermaidID(e.Target))
			}
		}
	}

	sb.WriteString("    classDef added fill:#dff5e1,stroke:#2e7d32\n")
	sb.WriteString("    classDef removed fill:#fde2e1,stroke:#c62828\n")
	sb.WriteString("    classDef modified fill:#fff4d6,stroke:#ef8f00\n")
	sb.WriteString("    classDef unchanged fill:#eeeeee,stroke:#757575\n")
	sb.WriteString("    classDef snapshot fill:#e3ecfa,stroke:#1565c0\n")
	if policy == graph.DanglingFlag {
		sb.WriteString("    classDef dangling fill:#ffffff,stroke:#c62828,stroke-dasharray:4 2\n")
	} else {
		sb.WriteString("    classDef dangling fill:#ffffff,stroke:#9e9e9e,stroke-dasharray:4 2\n")
	}
	sb.WriteString("```\n")
	return sb.String()
}

func mermaidLabel(s string) string {
	s = strings.ReplaceAll(s, `"`, "'")
	return graph.Preview(s, 60)
}

func sanitizeMermaidID(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return "node"
	}
	v = mermaidUnsafe.ReplaceAllString(strings.ReplaceAll(v, "-", "_"), "_")
	if v[0] >= '0' && v[0] <= '9' {
		v = "n_" + v
	}
	return v
}
