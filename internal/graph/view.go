package graph

import "specgraph/internal/section"

// NodeView is the flat JSON shape of a node used by the HTTP API and the
// changes export.
type NodeView struct {
	ID         section.ID         `json:"id"`
	Title      *string            `json:"title,omitempty"`
	Type       ChangeType         `json:"type"`
	Text       string             `json:"text"`
	OldText    string             `json:"old_text,omitempty"`
	NewText    string             `json:"new_text,omitempty"`
	Similarity *float64           `json:"similarity,omitempty"`
	Neighbors  *section.Neighbors `json:"neighbors,omitempty"`
}

type LinkView struct {
	Source   section.ID `json:"source"`
	Target   section.ID `json:"target"`
	Reason   string     `json:"reason"`
	Dangling bool       `json:"dangling,omitempty"`
}

// View is the node-link document consumed by the graph viewer.
type View struct {
	Kind  Kind       `json:"kind"`
	Nodes []NodeView `json:"nodes"`
	Links []LinkView `json:"links"`
}

func NewNodeView(n *Node) NodeView {
	v := NodeView{
		ID:        n.ID,
		Title:     n.Title,
		Type:      n.Change.Type(),
		Text:      n.Change.Body(),
		Neighbors: n.Neighbors,
	}
	if m, ok := n.Change.(Modified); ok {
		sim := m.Similarity
		v.OldText = m.OldText
		v.NewText = m.NewText
		v.Similarity = &sim
	}
	return v
}

// View renders the graph for the viewer, applying policy to dangling edges.
func (g *Graph) View(policy DanglingPolicy) View {
	v := View{Kind: g.Kind, Nodes: []NodeView{}, Links: []LinkView{}}
	for _, n := range g.Nodes() {
		v.Nodes = append(v.Nodes, NewNodeView(n))
	}
	for _, e := range g.Edges() {
		dangling := g.IsDangling(e)
		if dangling && policy == DanglingDrop {
			continue
		}
		v.Links = append(v.Links, LinkView{
			Source:   e.Source,
			Target:   e.Target,
			Reason:   e.Reason,
			Dangling: dangling && policy == DanglingFlag,
		})
	}
	return v
}

// ChangesView maps every changed section id to its view.
func (g *Graph) ChangesView() map[section.ID]NodeView {
	out := make(map[section.ID]NodeView)
	for _, n := range g.Changes() {
		out[n.ID] = NewNodeView(n)
	}
	return out
}
