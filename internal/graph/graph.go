package graph

import (
	"slices"
	"strings"

	apperrors "specgraph/internal/errors"
	"specgraph/internal/knowledge"
	"specgraph/internal/section"
)

// Kind distinguishes a two-version diff graph from a single-version one.
type Kind string

const (
	KindDiff   Kind = "diff"
	KindSingle Kind = "single"
)

// Graph is an arena of nodes indexed by section id, with mention edges kept
// as an adjacency list keyed by source id. It is built once and then only
// read, apart from titles filled in by a summarization pass before serving.
type Graph struct {
	Kind  Kind
	nodes map[section.ID]*Node
	edges map[section.ID][]Edge
}

func New(kind Kind) *Graph {
	return &Graph{
		Kind:  kind,
		nodes: make(map[section.ID]*Node),
		edges: make(map[section.ID][]Edge),
	}
}

// AddNode inserts or replaces the node with n.ID.
func (g *Graph) AddNode(n *Node) {
	if n == nil {
		return
	}
	g.nodes[n.ID] = n
}

// AddEdge records a mention edge. Self edges and repeats of an existing
// (source, target) pair are ignored; it reports whether the edge was added.
func (g *Graph) AddEdge(e Edge) bool {
	if e.Source == "" || e.Target == "" || e.Source == e.Target {
		return false
	}
	if e.Reason == "" {
		e.Reason = ReasonMentions
	}
	for _, existing := range g.edges[e.Source] {
		if existing.Target == e.Target {
			return false
		}
	}
	g.edges[e.Source] = append(g.edges[e.Source], e)
	return true
}

func (g *Graph) Node(id section.ID) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

func (g *Graph) Has(id section.ID) bool {
	_, ok := g.nodes[id]
	return ok
}

func (g *Graph) Len() int {
	return len(g.nodes)
}

// IDs returns all node ids in section order.
func (g *Graph) IDs() []section.ID {
	return section.SortedKeys(g.nodes)
}

// Nodes returns all nodes in section order.
func (g *Graph) Nodes() []*Node {
	ids := g.IDs()
	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.nodes[id])
	}
	return out
}

// OutEdges returns the edges leaving id in first-occurrence order.
func (g *Graph) OutEdges(id section.ID) []Edge {
	return slices.Clone(g.edges[id])
}

// Edges returns every edge, grouped by source in section order.
func (g *Graph) Edges() []Edge {
	sources := section.SortedKeys(g.edges)
	var out []Edge
	for _, src := range sources {
		out = append(out, g.edges[src]...)
	}
	return out
}

func (g *Graph) EdgeCount() int {
	n := 0
	for _, es := range g.edges {
		n += len(es)
	}
	return n
}

// IsDangling reports whether e points at an id that is not a node.
func (g *Graph) IsDangling(e Edge) bool {
	return !g.Has(e.Target)
}

// DanglingCount returns how many edges point outside the node set.
func (g *Graph) DanglingCount() int {
	n := 0
	for _, es := range g.edges {
		for _, e := range es {
			if g.IsDangling(e) {
				n++
			}
		}
	}
	return n
}

// Changes returns every node whose change type is not unchanged, in section order.
func (g *Graph) Changes() []*Node {
	var out []*Node
	for _, n := range g.Nodes() {
		if n.Change.Type() != ChangeUnchanged {
			out = append(out, n)
		}
	}
	return out
}

// CountByChange tallies nodes per change type.
func (g *Graph) CountByChange() map[ChangeType]int {
	counts := make(map[ChangeType]int)
	for _, n := range g.nodes {
		counts[n.Change.Type()]++
	}
	return counts
}

// MissingTitles lists the nodes without a non-blank title.
func (g *Graph) MissingTitles() []knowledge.TitleItem {
	var items []knowledge.TitleItem
	for _, n := range g.Nodes() {
		if strings.TrimSpace(n.TitleOrEmpty()) == "" {
			items = append(items, knowledge.TitleItem{ID: n.ID, Text: n.Change.Body()})
		}
	}
	return items
}

func (g *Graph) SetTitle(id section.ID, title string) error {
	n, ok := g.nodes[id]
	if !ok {
		return apperrors.New(apperrors.NodeNotFound, "section "+id+" not found", nil)
	}
	n.Title = &title
	return nil
}
