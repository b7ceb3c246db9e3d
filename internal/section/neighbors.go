package section

import "strings"

// Neighbors is the structural relation of a section, derived only from ids.
type Neighbors struct {
	Parent   *ID  `json:"parent"`
	Siblings []ID `json:"siblings"`
	Children []ID `json:"children"`
}

// ComputeNeighbors derives parent, siblings and children of id within all.
// Parent is set only when the parent id is itself present. Children are all
// descendants (every id prefixed by "id."). The result does not depend on map
// iteration order.
func ComputeNeighbors(id ID, all map[ID]struct{}) Neighbors {
	n := Neighbors{
		Siblings: []ID{},
		Children: []ID{},
	}

	parent := Parent(id)
	if parent != "" {
		if _, ok := all[parent]; ok {
			p := parent
			n.Parent = &p
		}
	}

	childPrefix := id + "."
	for other := range all {
		if other == id {
			continue
		}
		if strings.HasPrefix(other, childPrefix) {
			n.Children = append(n.Children, other)
		}
		if Parent(other) == parent {
			n.Siblings = append(n.Siblings, other)
		}
	}

	Sort(n.Siblings)
	Sort(n.Children)
	return n
}

// IDSet builds a membership set from a list of ids.
func IDSet(ids []ID) map[ID]struct{} {
	set := make(map[ID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
