package graph

import (
	"fmt"
	"strings"

	apperrors "specgraph/internal/errors"
	"specgraph/internal/section"
)

// Impact is one section reachable from a changed section over mention edges.
type Impact struct {
	ID       section.ID `json:"id"`
	Distance int        `json:"distance"`
	// Dangling is set, under DanglingFlag, when ID is not a node.
	Dangling bool `json:"dangling,omitempty"`
}

// DownstreamImpact returns the sections at distance 1..depth from id along
// mention edges, each at its shortest distance, ordered by distance and then
// section order.
func (g *Graph) DownstreamImpact(id section.ID, depth int, policy DanglingPolicy) ([]Impact, error) {
	if !g.Has(id) {
		return nil, apperrors.New(apperrors.NodeNotFound, "section "+id+" not found", nil)
	}
	if depth < 1 {
		return []Impact{}, nil
	}

	dist := map[section.ID]int{id: 0}
	frontier := []section.ID{id}
	out := []Impact{}

	for d := 1; d <= depth && len(frontier) > 0; d++ {
		var level []section.ID
		for _, src := range frontier {
			for _, e := range g.edges[src] {
				if _, seen := dist[e.Target]; seen {
					continue
				}
				dangling := g.IsDangling(e)
				if dangling && policy == DanglingDrop {
					continue
				}
				dist[e.Target] = d
				level = append(level, e.Target)
			}
		}
		section.Sort(level)
		for _, t := range level {
			out = append(out, Impact{ID: t, Distance: d, Dangling: policy == DanglingFlag && !g.Has(t)})
		}
		frontier = level
	}
	return out, nil
}

var changeMarkers = map[ChangeType]string{
	ChangeAdded:     "[+]",
	ChangeRemoved:   "[-]",
	ChangeModified:  "[~]",
	ChangeUnchanged: "[=]",
	ChangeSnapshot:  "[*]",
}

const explainPreview = 200

// ExplainChanges renders a readable report of the sections reachable from id
// within maxDepth mention hops, breadth first.
func (g *Graph) ExplainChanges(id section.ID, maxDepth int, policy DanglingPolicy) (string, error) {
	if !g.Has(id) {
		return "", apperrors.New(apperrors.NodeNotFound, "section "+id+" not found", nil)
	}

	type item struct {
		id    section.ID
		depth int
	}
	var b strings.Builder
	visited := map[section.ID]bool{}
	queue := []item{{id, 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur.id] || cur.depth > maxDepth {
			continue
		}
		visited[cur.id] = true

		n, ok := g.nodes[cur.id]
		if !ok {
			if policy == DanglingFlag {
				fmt.Fprintf(&b, "[!] Section %s (referenced, not in graph)\n\n", cur.id)
			} else if policy == DanglingKeep {
				fmt.Fprintf(&b, "[?] Section %s\n\n", cur.id)
			}
			continue
		}

		ct := n.Change.Type()
		fmt.Fprintf(&b, "%s Section %s (%s)", changeMarkers[ct], n.ID, ct)
		if t := n.TitleOrEmpty(); t != "" {
			fmt.Fprintf(&b, " %s", t)
		}
		if m, ok := n.Change.(Modified); ok {
			fmt.Fprintf(&b, " similarity %.3f", m.Similarity)
		}
		fmt.Fprintf(&b, ":\n -> %s\n\n", Preview(n.Change.Body(), explainPreview))

		for _, e := range g.edges[cur.id] {
			if policy == DanglingDrop && g.IsDangling(e) {
				continue
			}
			queue = append(queue, item{e.Target, cur.depth + 1})
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// Preview flattens text to one line and cuts it at limit runes, adding "..."
// when something was cut.
func Preview(text string, limit int) string {
	flat := strings.Join(strings.Fields(text), " ")
	r := []rune(flat)
	if limit <= 0 || len(r) <= limit {
		return flat
	}
	return string(r[:limit]) + "..."
}

// Inspect lists a node's attributes for debugging, with long text previewed.
func (g *Graph) Inspect(id section.ID) (string, error) {
	n, ok := g.nodes[id]
	if !ok {
		return "", apperrors.New(apperrors.NodeNotFound, "section "+id+" not found", nil)
	}
	const limit = 300

	var b strings.Builder
	fmt.Fprintf(&b, "Section %s\n", n.ID)
	if n.Title != nil {
		fmt.Fprintf(&b, "title: %s\n", *n.Title)
	} else {
		b.WriteString("title: (none)\n")
	}
	fmt.Fprintf(&b, "type: %s\n", n.Change.Type())
	switch c := n.Change.(type) {
	case Modified:
		fmt.Fprintf(&b, "similarity: %.3f\n", c.Similarity)
		fmt.Fprintf(&b, "old_text: %s\n", Preview(c.OldText, limit))
		fmt.Fprintf(&b, "new_text: %s\n", Preview(c.NewText, limit))
	default:
		fmt.Fprintf(&b, "text: %s\n", Preview(c.Body(), limit))
	}
	if nb := n.Neighbors; nb != nil {
		parent := "(none)"
		if nb.Parent != nil {
			parent = *nb.Parent
		}
		fmt.Fprintf(&b, "parent: %s\n", parent)
		fmt.Fprintf(&b, "siblings: %s\n", strings.Join(nb.Siblings, ", "))
		fmt.Fprintf(&b, "children: %s\n", strings.Join(nb.Children, ", "))
	}
	var targets []string
	for _, e := range g.edges[id] {
		t := e.Target
		if g.IsDangling(e) {
			t += " (dangling)"
		}
		targets = append(targets, t)
	}
	fmt.Fprintf(&b, "mentions: %s\n", strings.Join(targets, ", "))
	return b.String(), nil
}
