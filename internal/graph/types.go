package graph

import (
	"fmt"
	"strings"

	"specgraph/internal/section"
)

// ChangeThreshold is the similarity below which a section present in both
// versions counts as modified. It is not configurable at runtime.
const ChangeThreshold = 0.85

type ChangeType string

const (
	ChangeAdded     ChangeType = "added"
	ChangeRemoved   ChangeType = "removed"
	ChangeModified  ChangeType = "modified"
	ChangeUnchanged ChangeType = "unchanged"
	// ChangeSnapshot marks nodes of a single-version graph, which carry no classification.
	ChangeSnapshot ChangeType = "snapshot"
)

// Change is the per-node change state. Each variant carries only the fields
// meaningful for it, so similarity can only be read off a Modified.
type Change interface {
	Type() ChangeType
	// Body is the text the node stands for: new text when present, else old.
	Body() string
	isChange()
}

type Added struct{ Text string }

type Removed struct{ Text string }

type Modified struct {
	OldText    string
	NewText    string
	Similarity float64
}

type Unchanged struct{ Text string }

type Snapshot struct{ Text string }

func (Added) Type() ChangeType     { return ChangeAdded }
func (Removed) Type() ChangeType   { return ChangeRemoved }
func (Modified) Type() ChangeType  { return ChangeModified }
func (Unchanged) Type() ChangeType { return ChangeUnchanged }
func (Snapshot) Type() ChangeType  { return ChangeSnapshot }

func (c Added) Body() string     { return c.Text }
func (c Removed) Body() string   { return c.Text }
func (c Modified) Body() string  { return c.NewText }
func (c Unchanged) Body() string { return c.Text }
func (c Snapshot) Body() string  { return c.Text }

func (Added) isChange()     {}
func (Removed) isChange()   {}
func (Modified) isChange()  {}
func (Unchanged) isChange() {}
func (Snapshot) isChange()  {}

// Node is one section in the graph. Nodes never point at each other; all
// links go through ids.
type Node struct {
	ID     section.ID
	Title  *string
	Change Change
	// Neighbors is nil for single-version graphs.
	Neighbors *section.Neighbors
}

// TitleOrEmpty returns the title, or "" when none was set.
func (n *Node) TitleOrEmpty() string {
	if n == nil || n.Title == nil {
		return ""
	}
	return *n.Title
}

// ReasonMentions is the only edge reason produced by the builders.
const ReasonMentions = "mentions"

// Edge is a directed mention from Source's body to Target's id. Target may
// not exist as a node.
type Edge struct {
	Source section.ID
	Target section.ID
	Reason string
}

// DanglingPolicy says how consumers treat edges whose target is not a node.
type DanglingPolicy string

const (
	DanglingKeep DanglingPolicy = "keep"
	DanglingDrop DanglingPolicy = "drop"
	DanglingFlag DanglingPolicy = "flag"
)

func ParseDanglingPolicy(s string) (DanglingPolicy, error) {
	switch p := DanglingPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return DanglingFlag, nil
	case DanglingKeep, DanglingDrop, DanglingFlag:
		return p, nil
	default:
		return "", fmt.Errorf("unknown dangling edge policy %q (want keep, drop or flag)", s)
	}
}
